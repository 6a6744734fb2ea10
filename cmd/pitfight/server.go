package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/lox/pitfight/internal/arena"
	"github.com/lox/pitfight/internal/auth"
	"github.com/lox/pitfight/internal/config"
	"github.com/lox/pitfight/internal/events"
	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/server"
	"github.com/lox/pitfight/internal/store"
	"github.com/lox/pitfight/internal/wager"
)

const recorderBuffer = 1024

// ServeCmd runs the pit server
type ServeCmd struct {
	LogFlags
	Config  string `short:"c" default:"pitfight.hcl" help:"Path to HCL configuration file"`
	EnvFile string `default:".env" help:"Dotenv file loaded before the config (ignored if missing)"`
	Addr    string `short:"a" help:"Server address to bind to (overrides config)"`
}

func (c *ServeCmd) Run() error {
	cfg, err := loadConfig(c.EnvFile, c.Config)
	if err != nil {
		return err
	}
	if c.LogLevel == "" {
		c.LogLevel = cfg.Server.LogLevel
	}
	logger := c.logger(os.Stderr)

	ctx, stop := signalContext()
	defer stop()

	addr := cfg.Addr()
	if c.Addr != "" {
		addr = c.Addr
	}
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()
	return app.run(ctx, addr)
}

func loadConfig(envFile, path string) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app is a fully wired server.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	db       *store.DB
	recorder *store.Recorder
	orch     *arena.Orchestrator
	hub      *server.Hub
	service  *server.Service
	http     *server.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	arenaCfg, err := cfg.ArenaConfig()
	if err != nil {
		return nil, err
	}
	pitCfg, err := cfg.PitConfig()
	if err != nil {
		return nil, err
	}
	wagerCfg, err := cfg.WagerConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	clock := quartz.NewReal()
	bus := events.NewBus()

	var ledger wager.Ledger = wager.NewMemoryLedger()
	if cfg.Database.DSN != "" {
		db, err := store.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := store.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		a.db = db
		a.recorder = store.NewRecorder(db, recorderBuffer, logger)
		ledger = store.NewLedger(db)
		logger.Info("Using postgres ledger")
	} else {
		logger.Warn("No database configured, balances and history live in memory")
	}

	var validator auth.Validator = auth.NewDevValidator()
	if cfg.Auth.URL != "" {
		validator = auth.NewHTTPValidator(cfg.Auth.URL, cfg.Auth.AdminSecret)
	} else {
		logger.Warn("No auth service configured, tokens are trusted as usernames")
	}

	a.orch = arena.New(arenaCfg, clock, bus, logger)
	book := wager.NewBook(wagerCfg, ledger, clock, bus, logger)
	a.service = server.NewService(clock, validator, pit.New(pitCfg, clock, bus, logger), a.orch, book, logger)
	a.hub = server.NewHub(clock, logger)

	// Clients hear about a match ending before its pool settles.
	bus.Subscribe(a.hub)
	bus.Subscribe(a.service)
	if a.recorder != nil {
		bus.Subscribe(a.recorder)
	}

	a.http = server.NewServer(a.service, a.hub, logger)
	return a, nil
}

func (a *app) run(ctx context.Context, addr string) error {
	sweep, err := a.cfg.SweepInterval()
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.http.ListenAndServe(ctx, addr) })
	g.Go(func() error { return a.service.Sweep(ctx, sweep) })
	if a.recorder != nil {
		g.Go(func() error { return a.recorder.Run(ctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *app) close() {
	a.orch.Close()
	if a.recorder != nil && a.recorder.Dropped() > 0 {
		a.logger.Warn("Recorder dropped events", "count", a.recorder.Dropped())
	}
	if a.db != nil {
		a.db.Close()
	}
}
