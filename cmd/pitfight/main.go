package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version  kong.VersionFlag `short:"v" help:"Show version"`
	Serve    ServeCmd         `cmd:"" help:"Run the pit server"`
	Client   ClientCmd        `cmd:"" help:"Enter the pit as an interactive client"`
	Bot      BotCmd           `cmd:"" help:"Run built-in fighting bots against a server"`
	Spawn    SpawnCmd         `cmd:"" help:"Run a server with bots in one process for demos"`
	Simulate SimulateCmd      `cmd:"" help:"Play two strategies against each other offline"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pitfight"),
		kong.Description("Turn-based fights between agents, with a pari-mutuel betting pit"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
