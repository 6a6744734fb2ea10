package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pitfight/internal/wager"
)

// openTestDB connects to PITFIGHT_TEST_DSN or skips.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("PITFIGHT_TEST_DSN")
	if dsn == "" {
		t.Skip("PITFIGHT_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestLedgerSettlesThroughPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000")

	cfg := wager.DefaultConfig()
	cfg.HouseAccount = "house-" + suffix
	book := wager.NewBook(cfg, NewLedger(db), quartz.NewReal(), nil, quietLogger())

	x, y, z := "x-"+suffix, "y-"+suffix, "z-"+suffix
	for _, a := range []string{x, y, z} {
		_, err := book.Account(ctx, a)
		require.NoError(t, err)
	}
	matchID := "match-" + suffix
	require.NoError(t, book.Open(matchID, "A", "B"))
	for bettor, stake := range map[string]struct {
		side   string
		amount int64
	}{x: {"A", 30}, y: {"A", 20}, z: {"B", 50}} {
		_, err := book.PlaceBet(ctx, matchID, bettor, stake.side, decimal.NewFromInt(stake.amount))
		require.NoError(t, err)
	}

	_, err := book.PlaceBet(ctx, matchID, z, "A", decimal.NewFromInt(60))
	assert.ErrorIs(t, err, wager.ErrInsufficientFunds)

	res, err := book.Settle(ctx, matchID, "A")
	require.NoError(t, err)
	assert.Equal(t, "97.00", res.NetPool.StringFixed(2))

	for acct, want := range map[string]string{x: "128.20", y: "118.80", z: "50.00", cfg.HouseAccount: "3.00"} {
		bal, err := book.Balance(ctx, acct)
		require.NoError(t, err)
		assert.Equal(t, want, bal.StringFixed(2), acct)
	}
}
