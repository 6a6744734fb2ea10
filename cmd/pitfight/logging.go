package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
)

// LogFlags are shared by every subcommand.
type LogFlags struct {
	Debug     bool   `help:"Enable debug logging"`
	LogLevel  string `help:"Log level (debug|info|warn|error), default info"`
	LogFormat string `default:"text" enum:"text,json" help:"Log output format (text|json)"`
}

func (f LogFlags) logger(w io.Writer) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{ReportTimestamp: true})
	if f.LogFormat == "json" {
		logger.SetFormatter(log.JSONFormatter)
	}
	switch {
	case f.Debug:
		logger.SetLevel(log.DebugLevel)
	default:
		level, err := log.ParseLevel(f.LogLevel)
		if err != nil {
			level = log.InfoLevel
		}
		logger.SetLevel(level)
	}
	return logger
}

// signalContext is cancelled on interrupt or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
