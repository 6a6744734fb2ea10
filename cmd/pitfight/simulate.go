package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lox/pitfight/internal/config"
	"github.com/lox/pitfight/internal/simulator"
)

// SimulateCmd compares two strategies offline
type SimulateCmd struct {
	LogFlags
	Hero     string        `arg:"" help:"Strategy to measure"`
	Opponent string        `arg:"" help:"Strategy to measure against"`
	Matches  int           `default:"1000" help:"Seeds to play; each is played from both sides"`
	Seed     *int64        `help:"Starting seed (default: time-based)"`
	Config   string        `short:"c" default:"pitfight.hcl" help:"HCL file supplying the fight rules"`
	Timeout  time.Duration `default:"5s" help:"Per-match hang timeout"`
	Output   string        `short:"o" help:"Also write a JSON report to this file"`
}

func (c *SimulateCmd) Run() error {
	logger := c.logger(os.Stderr)
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	arenaCfg, err := cfg.ArenaConfig()
	if err != nil {
		return err
	}

	seed := time.Now().UnixNano()
	if c.Seed != nil {
		seed = *c.Seed
	}
	logger.Info("Simulating", "hero", c.Hero, "opponent", c.Opponent, "matches", c.Matches, "seed", seed)

	ctx, stop := signalContext()
	defer stop()

	simCfg := simulator.Config{
		Matches:  c.Matches,
		Hero:     c.Hero,
		Opponent: c.Opponent,
		Seed:     seed,
		Rules:    arenaCfg.Rules,
		Timeout:  c.Timeout,
		Logger:   logger,
	}
	stats, err := simulator.New(simCfg).Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}
	simulator.PrintSummary(os.Stdout, stats, c.Hero, c.Opponent)

	if c.Output != "" {
		if err := simulator.WriteReport(c.Output, simulator.NewReport(simCfg, stats, time.Now())); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		logger.Info("Wrote report", "path", c.Output)
	}
	return nil
}
