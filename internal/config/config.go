// Package config loads the server's HCL configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/arena"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/wager"
)

// Environment variables that override the file.
const (
	EnvDatabaseDSN = "PITFIGHT_DATABASE_DSN"
	EnvAuthURL     = "PITFIGHT_AUTH_URL"
	EnvAuthSecret  = "PITFIGHT_AUTH_SECRET"
)

// Config represents the complete server configuration
type Config struct {
	Server   ServerSettings
	Fight    FightSettings
	Pit      PitSettings
	Wager    WagerSettings
	Database DatabaseSettings
	Auth     AuthSettings
}

// file mirrors Config with every block optional.
type file struct {
	Server   *ServerSettings   `hcl:"server,block"`
	Fight    *FightSettings    `hcl:"fight,block"`
	Pit      *PitSettings      `hcl:"pit,block"`
	Wager    *WagerSettings    `hcl:"wager,block"`
	Database *DatabaseSettings `hcl:"database,block"`
	Auth     *AuthSettings     `hcl:"auth,block"`
}

func (f *file) config() Config {
	var c Config
	if f.Server != nil {
		c.Server = *f.Server
	}
	if f.Fight != nil {
		c.Fight = *f.Fight
	}
	if f.Pit != nil {
		c.Pit = *f.Pit
	}
	if f.Wager != nil {
		c.Wager = *f.Wager
	}
	if f.Database != nil {
		c.Database = *f.Database
	}
	if f.Auth != nil {
		c.Auth = *f.Auth
	}
	return c
}

// ServerSettings contains listener configuration
type ServerSettings struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	LogLevel string `hcl:"log_level,optional"`
}

// FightSettings tunes the orchestrator. Durations use Go syntax ("30s").
type FightSettings struct {
	ActionTimeout string `hcl:"action_timeout,optional"`
	RoundPause    string `hcl:"round_pause,optional"`
	CleanupGrace  string `hcl:"cleanup_grace,optional"`
	MaxExchanges  int    `hcl:"max_exchanges,optional"`
	RoundsToWin   int    `hcl:"rounds_to_win,optional"`
	MaxRounds     int    `hcl:"max_rounds,optional"`
}

// PitSettings tunes the lobby.
type PitSettings struct {
	ChatCooldown    string `hcl:"chat_cooldown,optional"`
	ChatMaxLen      int    `hcl:"chat_max_len,optional"`
	CalloutCooldown string `hcl:"callout_cooldown,optional"`
	CalloutTTL      string `hcl:"callout_ttl,optional"`
	SweepInterval   string `hcl:"sweep_interval,optional"`
}

// WagerSettings holds betting limits. Amounts are decimal strings.
type WagerSettings struct {
	MinBet          string `hcl:"min_bet,optional"`
	MaxBet          string `hcl:"max_bet,optional"`
	RakeRate        string `hcl:"rake_rate,optional"`
	HouseAccount    string `hcl:"house_account,optional"`
	StartingBalance string `hcl:"starting_balance,optional"`
}

// DatabaseSettings points at Postgres. An empty DSN keeps everything in
// memory.
type DatabaseSettings struct {
	DSN string `hcl:"dsn,optional"`
}

// AuthSettings configures the token validator. An empty URL disables auth.
type AuthSettings struct {
	URL         string `hcl:"url,optional"`
	AdminSecret string `hcl:"admin_secret,optional"`
}

// Default returns the default configuration
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads filename. A missing file yields the defaults. Environment
// overrides are applied either way.
func Load(filename string) (*Config, error) {
	var config Config

	if _, err := os.Stat(filename); err == nil {
		parser := hclparse.NewParser()
		hclFile, diags := parser.ParseHCLFile(filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
		}
		var raw file
		diags = gohcl.DecodeBody(hclFile.Body, nil, &raw)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
		}
		config = raw.config()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", filename, err)
	}

	config.applyDefaults()
	config.applyEnv()
	return &config, nil
}

func (c *Config) applyDefaults() {
	setString(&c.Server.Address, "localhost")
	setInt(&c.Server.Port, 8080)
	setString(&c.Server.LogLevel, "info")

	setString(&c.Fight.ActionTimeout, "30s")
	setString(&c.Fight.RoundPause, "3s")
	setString(&c.Fight.CleanupGrace, "30s")
	setInt(&c.Fight.MaxExchanges, 20)
	setInt(&c.Fight.RoundsToWin, 2)
	setInt(&c.Fight.MaxRounds, 3)

	setString(&c.Pit.ChatCooldown, "2s")
	setInt(&c.Pit.ChatMaxLen, 280)
	setString(&c.Pit.CalloutCooldown, "10s")
	setString(&c.Pit.CalloutTTL, "60s")
	setString(&c.Pit.SweepInterval, "5s")

	setString(&c.Wager.MinBet, "1")
	setString(&c.Wager.MaxBet, "1000")
	setString(&c.Wager.RakeRate, "0.03")
	setString(&c.Wager.HouseAccount, "house")
	setString(&c.Wager.StartingBalance, "100")
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvAuthURL); v != "" {
		c.Auth.URL = v
	}
	if v := os.Getenv(EnvAuthSecret); v != "" {
		c.Auth.AdminSecret = v
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if _, err := c.ArenaConfig(); err != nil {
		return err
	}
	if _, err := c.PitConfig(); err != nil {
		return err
	}
	if _, err := c.SweepInterval(); err != nil {
		return err
	}
	if _, err := c.WagerConfig(); err != nil {
		return err
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// ArenaConfig converts the fight block.
func (c *Config) ArenaConfig() (arena.Config, error) {
	cfg := arena.DefaultConfig()
	var err error
	if cfg.ActionTimeout, err = positive("fight.action_timeout", c.Fight.ActionTimeout); err != nil {
		return cfg, err
	}
	if cfg.RoundPause, err = positive("fight.round_pause", c.Fight.RoundPause); err != nil {
		return cfg, err
	}
	if cfg.CleanupGrace, err = positive("fight.cleanup_grace", c.Fight.CleanupGrace); err != nil {
		return cfg, err
	}
	cfg.Rules = match.Rules{
		MaxExchanges: c.Fight.MaxExchanges,
		RoundsToWin:  c.Fight.RoundsToWin,
		MaxRounds:    c.Fight.MaxRounds,
	}
	if cfg.Rules.MaxExchanges < 1 {
		return cfg, fmt.Errorf("fight.max_exchanges must be positive")
	}
	if cfg.Rules.RoundsToWin < 1 || cfg.Rules.RoundsToWin > cfg.Rules.MaxRounds {
		return cfg, fmt.Errorf("fight.rounds_to_win must be between 1 and max_rounds")
	}
	return cfg, nil
}

// PitConfig converts the pit block.
func (c *Config) PitConfig() (pit.Config, error) {
	cfg := pit.DefaultConfig()
	var err error
	if cfg.ChatCooldown, err = duration("pit.chat_cooldown", c.Pit.ChatCooldown); err != nil {
		return cfg, err
	}
	if cfg.CalloutCooldown, err = duration("pit.callout_cooldown", c.Pit.CalloutCooldown); err != nil {
		return cfg, err
	}
	if cfg.CalloutTTL, err = positive("pit.callout_ttl", c.Pit.CalloutTTL); err != nil {
		return cfg, err
	}
	cfg.ChatMaxLen = c.Pit.ChatMaxLen
	if cfg.ChatMaxLen < 1 {
		return cfg, fmt.Errorf("pit.chat_max_len must be positive")
	}
	return cfg, nil
}

// SweepInterval is how often expired callouts are removed.
func (c *Config) SweepInterval() (time.Duration, error) {
	return positive("pit.sweep_interval", c.Pit.SweepInterval)
}

// WagerConfig converts the wager block.
func (c *Config) WagerConfig() (wager.Config, error) {
	cfg := wager.DefaultConfig()
	var err error
	if cfg.MinBet, err = amount("wager.min_bet", c.Wager.MinBet); err != nil {
		return cfg, err
	}
	if cfg.MaxBet, err = amount("wager.max_bet", c.Wager.MaxBet); err != nil {
		return cfg, err
	}
	if cfg.RakeRate, err = amount("wager.rake_rate", c.Wager.RakeRate); err != nil {
		return cfg, err
	}
	if cfg.StartingBalance, err = amount("wager.starting_balance", c.Wager.StartingBalance); err != nil {
		return cfg, err
	}
	cfg.HouseAccount = c.Wager.HouseAccount

	if !cfg.MinBet.IsPositive() || cfg.MinBet.GreaterThan(cfg.MaxBet) {
		return cfg, fmt.Errorf("wager: min_bet must be positive and not above max_bet")
	}
	if cfg.RakeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return cfg, fmt.Errorf("wager.rake_rate must be below 1")
	}
	if cfg.HouseAccount == "" {
		return cfg, fmt.Errorf("wager.house_account must be set")
	}
	return cfg, nil
}

func duration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

func positive(field, s string) (time.Duration, error) {
	d, err := duration(field, s)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

func amount(field, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", field)
	}
	return v, nil
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}
