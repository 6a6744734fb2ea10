package wager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryDeposit EntryKind = "deposit"
	EntryOpening EntryKind = "opening"
	EntryStake   EntryKind = "stake"
	EntryPayout  EntryKind = "payout"
	EntryRefund  EntryKind = "refund"
	EntryRake    EntryKind = "rake"
)

// Entry is one signed balance movement. Negative amounts are debits.
type Entry struct {
	ID      string          `json:"id"`
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
	Kind    EntryKind       `json:"kind"`
	Ref     string          `json:"ref,omitempty"`
	At      time.Time       `json:"at"`
}

// Tx is the view of the ledger inside one atomic unit.
type Tx interface {
	// EnsureAccount creates the account with an opening balance if it does
	// not exist yet and reports whether it did so.
	EnsureAccount(account string, opening decimal.Decimal, at time.Time) (bool, error)
	Balance(account string) (decimal.Decimal, error)
	// Post applies an entry. A debit larger than the balance fails with
	// ErrInsufficientFunds.
	Post(e Entry) error
	// PutBet inserts or replaces a bet row.
	PutBet(b Bet) error
}

// Ledger persists balances and bets. Apply runs fn as a single atomic unit:
// either every write inside fn commits or none does.
type Ledger interface {
	Apply(ctx context.Context, fn func(Tx) error) error
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
}

// MemoryLedger is an in-process Ledger. Writes are staged per Apply and
// only merged when fn returns nil.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]decimal.Decimal
	bets     map[string]Bet
	entries  []Entry
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]decimal.Decimal),
		bets:     make(map[string]Bet),
	}
}

func (l *MemoryLedger) Apply(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &memTx{
		l:        l,
		accounts: make(map[string]decimal.Decimal),
		bets:     make(map[string]Bet),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.accounts {
		l.accounts[k] = v
	}
	for k, v := range tx.bets {
		l.bets[k] = v
	}
	l.entries = append(l.entries, tx.entries...)
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[account], nil
}

// Bet returns the committed row for id.
func (l *MemoryLedger) Bet(id string) (Bet, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bets[id]
	return b, ok
}

// Entries returns committed entries for account, or all of them.
func (l *MemoryLedger) Entries(account string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if account == "" || e.Account == account {
			out = append(out, e)
		}
	}
	return out
}

// Accounts lists account names in sorted order.
func (l *MemoryLedger) Accounts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.accounts))
	for k := range l.accounts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type memTx struct {
	l        *MemoryLedger
	accounts map[string]decimal.Decimal
	bets     map[string]Bet
	entries  []Entry
}

func (tx *memTx) exists(account string) bool {
	if _, ok := tx.accounts[account]; ok {
		return true
	}
	_, ok := tx.l.accounts[account]
	return ok
}

func (tx *memTx) EnsureAccount(account string, opening decimal.Decimal, at time.Time) (bool, error) {
	if tx.exists(account) {
		return false, nil
	}
	tx.accounts[account] = decimal.Zero
	if opening.IsPositive() {
		if err := tx.Post(Entry{ID: newEntryID(), Account: account, Amount: opening, Kind: EntryOpening, At: at}); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (tx *memTx) Balance(account string) (decimal.Decimal, error) {
	if v, ok := tx.accounts[account]; ok {
		return v, nil
	}
	return tx.l.accounts[account], nil
}

func (tx *memTx) Post(e Entry) error {
	bal, _ := tx.Balance(e.Account)
	next := bal.Add(e.Amount)
	if next.IsNegative() {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, e.Account, bal.StringFixed(2), e.Amount.Neg().StringFixed(2))
	}
	tx.accounts[e.Account] = next
	tx.entries = append(tx.entries, e)
	return nil
}

func (tx *memTx) PutBet(b Bet) error {
	tx.bets[b.ID] = b
	return nil
}
