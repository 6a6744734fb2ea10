package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lox/pitfight/internal/bot"
)

// SpawnCmd runs a server and a set of bots in one process
type SpawnCmd struct {
	LogFlags
	Config     string   `short:"c" default:"pitfight.hcl" help:"Path to HCL configuration file"`
	EnvFile    string   `default:".env" help:"Dotenv file loaded before the config (ignored if missing)"`
	Addr       string   `default:"localhost:8080" help:"Server address"`
	Strategies []string `default:"brawler,counter,random,random" help:"Bots to run, by strategy"`
	Seed       *int64   `help:"Deterministic RNG seed (optional)"`
}

func (c *SpawnCmd) Run() error {
	cfg, err := loadConfig(c.EnvFile, c.Config)
	if err != nil {
		return err
	}
	logger := c.logger(os.Stderr)

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.run(ctx, c.Addr) })
	g.Go(func() error {
		serverURL := "http://" + c.Addr
		if err := waitHealthy(ctx, serverURL); err != nil {
			return err
		}
		botCfg := bot.Config{
			Synthetic:      true,
			Requeue:        true,
			AcceptCallouts: true,
			BetChance:      0.5,
			BetAmount:      decimal.NewFromInt(5),
		}
		return runBots(ctx, serverURL, "spawn", c.Strategies, c.Seed, botCfg, logger)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// waitHealthy polls the health endpoint until the server answers.
func waitHealthy(ctx context.Context, serverURL string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(10 * time.Second)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/health", nil)
		if err != nil {
			return err
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("server at %s did not become healthy", serverURL)
		case <-ticker.C:
		}
	}
}
