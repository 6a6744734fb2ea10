package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lox/pitfight/internal/bot"
	"github.com/lox/pitfight/internal/client"
	"github.com/lox/pitfight/internal/randutil"
)

// BotCmd runs built-in bots against a server
type BotCmd struct {
	LogFlags
	Strategies []string `arg:"" help:"Strategies to run, one bot each (random, brawler, counter)"`
	Server     string   `default:"http://localhost:8080" help:"Server URL"`
	Prefix     string   `default:"bot" help:"Username prefix; bots log in as <prefix>-<strategy>-<n>"`
	Seed       *int64   `help:"Deterministic RNG seed (optional)"`
	Queue      bool     `default:"true" negatable:"" help:"Queue for a match after every fight"`
	Accept     bool     `help:"Accept every callout"`
	BetChance  float64  `default:"0.3" help:"Chance of betting on someone else's match"`
	BetAmount  string   `default:"5" help:"Stake for each bet"`
}

func (c *BotCmd) Run() error {
	logger := c.logger(os.Stderr)
	ctx, stop := signalContext()
	defer stop()

	amount, err := decimal.NewFromString(c.BetAmount)
	if err != nil {
		return fmt.Errorf("invalid bet amount %q: %w", c.BetAmount, err)
	}
	cfg := bot.Config{
		Synthetic:      true,
		Requeue:        c.Queue,
		AcceptCallouts: c.Accept,
		BetChance:      c.BetChance,
		BetAmount:      amount,
	}
	return runBots(ctx, c.Server, c.Prefix, c.Strategies, c.Seed, cfg, logger)
}

// runBots runs one bot per strategy name until ctx ends.
func runBots(ctx context.Context, serverURL, prefix string, strategies []string, seed *int64, cfg bot.Config, logger *log.Logger) error {
	base := time.Now().UnixNano()
	if seed != nil {
		base = *seed
		logger.Info("Using deterministic seed", "seed", base)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range strategies {
		rng := randutil.New(base + int64(i))
		s, err := bot.NewStrategy(name, rng)
		if err != nil {
			return err
		}
		botCfg := cfg
		botCfg.Token = fmt.Sprintf("%s-%s-%d", prefix, name, i+1)
		b := bot.New(client.NewClient(serverURL, logger), s, rng, botCfg, logger.With("bot", botCfg.Token))
		g.Go(func() error {
			err := b.Run(ctx)
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, client.ErrClosed)) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
