package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/wager"
)

// Ledger implements wager.Ledger with one SQL transaction per Apply.
type Ledger struct {
	db *DB
}

// NewLedger wraps db.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

var _ wager.Ledger = (*Ledger)(nil)

func (l *Ledger) Apply(ctx context.Context, fn func(wager.Tx) error) error {
	return l.db.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&ledgerTx{ctx: ctx, tx: tx})
	})
}

func (l *Ledger) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	return balance(ctx, l.db.Pool, account, false)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func balance(ctx context.Context, q querier, account string, lock bool) (decimal.Decimal, error) {
	query := `SELECT balance::text FROM accounts WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var s string
	err := q.QueryRow(ctx, query, account).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

// ledgerTx holds the context of the Apply call; wager.Tx methods are
// synchronous steps of that one call.
type ledgerTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *ledgerTx) EnsureAccount(account string, opening decimal.Decimal, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(t.ctx, `INSERT INTO accounts(id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, account)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if opening.IsPositive() {
		e := wager.Entry{ID: newID(), Account: account, Amount: opening, Kind: wager.EntryOpening, At: at}
		if err := t.Post(e); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (t *ledgerTx) Balance(account string) (decimal.Decimal, error) {
	return balance(t.ctx, t.tx, account, true)
}

func (t *ledgerTx) Post(e wager.Entry) error {
	if _, err := t.tx.Exec(t.ctx, `INSERT INTO accounts(id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, e.Account); err != nil {
		return err
	}

	var next string
	err := t.tx.QueryRow(t.ctx, `
		UPDATE accounts
		   SET balance = balance + $2::numeric,
		       updated_at = now()
		 WHERE id = $1
		   AND balance + $2::numeric >= 0
		RETURNING balance::text
	`, e.Account, e.Amount.String()).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s needs %s", wager.ErrInsufficientFunds, e.Account, e.Amount.Neg().StringFixed(2))
	}
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO ledger_entries(id, account_id, amount, kind, ref, created_at)
		VALUES ($1::uuid, $2, $3::numeric, $4, NULLIF($5, ''), $6)
	`, e.ID, e.Account, e.Amount.String(), string(e.Kind), e.Ref, e.At)
	return err
}

func (t *ledgerTx) PutBet(b wager.Bet) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO bets(id, match_id, bettor_id, backed_id, amount, status, payout, placed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8)
		ON CONFLICT (id) DO UPDATE
		   SET status = EXCLUDED.status,
		       payout = EXCLUDED.payout,
		       updated_at = now()
	`, b.ID, b.MatchID, b.BettorID, b.BackedID, b.Amount.String(), string(b.Status), b.Payout.String(), b.PlacedAt)
	return err
}
