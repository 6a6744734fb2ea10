// Package wager runs a pari-mutuel pool per match. Every balance movement
// goes through a Ledger inside one atomic unit together with the bet rows
// it touches; in-memory pool state only changes after the ledger commits.
package wager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/events"
	"github.com/lox/pitfight/internal/gameid"
)

var (
	ErrMatchNotFound     = errors.New("wager: match not found")
	ErrMatchNotOpen      = errors.New("wager: match not accepting bets")
	ErrMatchExists       = errors.New("wager: pool already open")
	ErrAlreadySettled    = errors.New("wager: pool already settled")
	ErrNotAParticipant   = errors.New("wager: backed id is not a fighter")
	ErrInsufficientFunds = errors.New("wager: insufficient funds")
	ErrOutOfRange        = errors.New("wager: amount out of range")
	ErrSettlementFailed  = errors.New("wager: settlement failed")
)

// Config holds betting limits.
type Config struct {
	MinBet          decimal.Decimal
	MaxBet          decimal.Decimal
	RakeRate        decimal.Decimal
	StartingBalance decimal.Decimal
	HouseAccount    string
}

// DefaultConfig returns production limits.
func DefaultConfig() Config {
	return Config{
		MinBet:          decimal.NewFromInt(1),
		MaxBet:          decimal.NewFromInt(1000),
		RakeRate:        decimal.RequireFromString("0.03"),
		StartingBalance: decimal.NewFromInt(100),
		HouseAccount:    "house",
	}
}

// PoolStatus is where a pool is in its lifecycle.
type PoolStatus string

const (
	PoolOpen    PoolStatus = "open"
	PoolClosed  PoolStatus = "closed"
	PoolSettled PoolStatus = "settled"
	PoolVoid    PoolStatus = "void"
)

// BetStatus is the outcome of a bet.
type BetStatus string

const (
	BetActive   BetStatus = "active"
	BetWon      BetStatus = "won"
	BetLost     BetStatus = "lost"
	BetRefunded BetStatus = "refunded"
)

// Bet is a stake on one fighter.
type Bet struct {
	ID       string          `json:"id"`
	MatchID  string          `json:"matchId"`
	BettorID string          `json:"bettorId"`
	BackedID string          `json:"backedId"`
	Amount   decimal.Decimal `json:"amount"`
	Status   BetStatus       `json:"status"`
	Payout   decimal.Decimal `json:"payout"`
	PlacedAt time.Time       `json:"placedAt"`
}

// PoolSummary is a read-only view of a pool.
type PoolSummary struct {
	MatchID   string                     `json:"matchId"`
	Status    PoolStatus                 `json:"status"`
	Fighters  [2]string                  `json:"fighters"`
	Totals    map[string]decimal.Decimal `json:"totals"`
	TotalPool decimal.Decimal            `json:"totalPool"`
	Bets      int                        `json:"bets"`
}

type pool struct {
	mu       sync.Mutex
	matchID  string
	fighters [2]string
	status   PoolStatus
	bets     []Bet
}

func (p *pool) has(id string) bool { return p.fighters[0] == id || p.fighters[1] == id }

func (p *pool) summary() PoolSummary {
	s := PoolSummary{
		MatchID:   p.matchID,
		Status:    p.status,
		Fighters:  p.fighters,
		Totals:    map[string]decimal.Decimal{p.fighters[0]: decimal.Zero, p.fighters[1]: decimal.Zero},
		TotalPool: decimal.Zero,
		Bets:      len(p.bets),
	}
	for _, b := range p.bets {
		s.Totals[b.BackedID] = s.Totals[b.BackedID].Add(b.Amount)
		s.TotalPool = s.TotalPool.Add(b.Amount)
	}
	return s
}

// Book owns every pool. Pools lock independently so bets on different
// matches do not contend.
type Book struct {
	cfg    Config
	ledger Ledger
	clock  quartz.Clock
	bus    events.Publisher
	logger *log.Logger
	ids    *gameid.Generator

	mu    sync.RWMutex
	pools map[string]*pool
}

// NewBook creates a book over ledger.
func NewBook(cfg Config, ledger Ledger, clock quartz.Clock, bus events.Publisher, logger *log.Logger) *Book {
	if bus == nil {
		bus = events.Discard
	}
	return &Book{
		cfg:    cfg,
		ledger: ledger,
		clock:  clock,
		bus:    bus,
		logger: logger.WithPrefix("wager"),
		ids:    gameid.NewGenerator(clock, nil),
		pools:  make(map[string]*pool),
	}
}

// Open starts accepting bets on a match.
func (b *Book) Open(matchID, p1, p2 string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pools[matchID]; ok {
		return fmt.Errorf("%w: %s", ErrMatchExists, matchID)
	}
	b.pools[matchID] = &pool{matchID: matchID, fighters: [2]string{p1, p2}, status: PoolOpen}
	b.logger.Debug("Pool opened", "match", matchID)
	return nil
}

// Close stops accepting bets. Closing a closed pool is a no-op.
func (b *Book) Close(matchID string) error {
	p, err := b.lookup(matchID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.status {
	case PoolOpen:
		p.status = PoolClosed
		b.logger.Debug("Pool closed", "match", matchID, "bets", len(p.bets))
		return nil
	case PoolClosed:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrAlreadySettled, matchID)
	}
}

// Pool summarizes a pool.
func (b *Book) Pool(matchID string) (PoolSummary, error) {
	p, err := b.lookup(matchID)
	if err != nil {
		return PoolSummary{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary(), nil
}

// Bets returns a copy of a pool's bets in placement order.
func (b *Book) Bets(matchID string) ([]Bet, error) {
	p, err := b.lookup(matchID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Bet(nil), p.bets...), nil
}

// Forget drops a finished pool from memory.
func (b *Book) Forget(matchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pools[matchID]; ok && (p.status == PoolSettled || p.status == PoolVoid) {
		delete(b.pools, matchID)
	}
}

// Account makes sure a bettor has an account, seeding it with the starting
// balance the first time, and returns the balance.
func (b *Book) Account(ctx context.Context, bettorID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := b.ledger.Apply(ctx, func(tx Tx) error {
		if _, err := tx.EnsureAccount(bettorID, b.cfg.StartingBalance, b.clock.Now()); err != nil {
			return err
		}
		var err error
		bal, err = tx.Balance(bettorID)
		return err
	})
	return bal, err
}

// Balance returns a bettor's balance.
func (b *Book) Balance(ctx context.Context, bettorID string) (decimal.Decimal, error) {
	return b.ledger.Balance(ctx, bettorID)
}

// Deposit credits an account from outside custody.
func (b *Book) Deposit(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: deposit %s", ErrOutOfRange, amount)
	}
	amount = amount.Round(2)
	var bal decimal.Decimal
	err := b.ledger.Apply(ctx, func(tx Tx) error {
		if _, err := tx.EnsureAccount(account, decimal.Zero, b.clock.Now()); err != nil {
			return err
		}
		if err := tx.Post(b.entry(account, amount, EntryDeposit, "")); err != nil {
			return err
		}
		var err error
		bal, err = tx.Balance(account)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	b.logger.Info("Deposit", "account", account, "amount", amount.StringFixed(2))
	return bal, nil
}

// PlaceBet debits the bettor and records the bet in one ledger unit.
func (b *Book) PlaceBet(ctx context.Context, matchID, bettorID, backedID string, amount decimal.Decimal) (Bet, error) {
	if amount.LessThan(b.cfg.MinBet) || amount.GreaterThan(b.cfg.MaxBet) {
		return Bet{}, fmt.Errorf("%w: %s not in [%s, %s]", ErrOutOfRange, amount, b.cfg.MinBet, b.cfg.MaxBet)
	}
	if !amount.Equal(amount.Round(2)) {
		return Bet{}, fmt.Errorf("%w: %s has sub-cent precision", ErrOutOfRange, amount)
	}

	p, err := b.lookup(matchID)
	if err != nil {
		return Bet{}, err
	}
	p.mu.Lock()
	if p.status != PoolOpen {
		p.mu.Unlock()
		return Bet{}, fmt.Errorf("%w: %s is %s", ErrMatchNotOpen, matchID, p.status)
	}
	if !p.has(backedID) {
		p.mu.Unlock()
		return Bet{}, fmt.Errorf("%w: %s", ErrNotAParticipant, backedID)
	}

	bet := Bet{
		ID:       b.ids.New(gameid.Bet),
		MatchID:  matchID,
		BettorID: bettorID,
		BackedID: backedID,
		Amount:   amount,
		Status:   BetActive,
		Payout:   decimal.Zero,
		PlacedAt: b.clock.Now(),
	}
	err = b.ledger.Apply(ctx, func(tx Tx) error {
		if err := tx.Post(b.entry(bettorID, amount.Neg(), EntryStake, bet.ID)); err != nil {
			return err
		}
		return tx.PutBet(bet)
	})
	if err != nil {
		p.mu.Unlock()
		return Bet{}, err
	}
	p.bets = append(p.bets, bet)
	summary := p.summary()
	p.mu.Unlock()

	b.logger.Info("Bet placed", "match", matchID, "bet", bet.ID, "bettor", bettorID, "backed", backedID, "amount", amount.StringFixed(2))
	b.bus.Publish(BetPlaced{Bet: bet, Pool: summary, At: bet.PlacedAt})
	return bet, nil
}

// Void returns every stake at face value, for matches that never ran.
func (b *Book) Void(ctx context.Context, matchID string) ([]Payout, error) {
	p, err := b.lookup(matchID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == PoolSettled || p.status == PoolVoid {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySettled, matchID)
	}

	refunds := make([]Payout, len(p.bets))
	settled := make([]Bet, len(p.bets))
	for i, bet := range p.bets {
		refunds[i] = Payout{BetID: bet.ID, BettorID: bet.BettorID, BackedID: bet.BackedID, Stake: bet.Amount, Amount: bet.Amount, Outcome: BetRefunded}
		bet.Status, bet.Payout = BetRefunded, bet.Amount
		settled[i] = bet
	}
	if err := b.commit(ctx, settled, EntryRefund, decimal.Zero); err != nil {
		b.logger.Error("Void failed", "match", matchID, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrSettlementFailed, matchID, err)
	}
	p.bets = settled
	p.status = PoolVoid

	b.logger.Info("Pool voided", "match", matchID, "refunds", len(refunds))
	b.bus.Publish(PoolVoided{MatchID: matchID, Refunded: refunds, At: b.clock.Now()})
	return refunds, nil
}

// commit writes settled bets, their credits and the house take in one unit.
func (b *Book) commit(ctx context.Context, settled []Bet, kind EntryKind, house decimal.Decimal) error {
	if len(settled) == 0 {
		return nil
	}
	return b.ledger.Apply(ctx, func(tx Tx) error {
		for _, bet := range settled {
			if bet.Payout.IsPositive() {
				k := kind
				if bet.Status == BetRefunded {
					k = EntryRefund
				}
				if err := tx.Post(b.entry(bet.BettorID, bet.Payout, k, bet.ID)); err != nil {
					return err
				}
			}
			if err := tx.PutBet(bet); err != nil {
				return err
			}
		}
		if house.IsPositive() {
			if err := tx.Post(b.entry(b.cfg.HouseAccount, house, EntryRake, settled[0].MatchID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Book) entry(account string, amount decimal.Decimal, kind EntryKind, ref string) Entry {
	return Entry{ID: uuid.NewString(), Account: account, Amount: amount, Kind: kind, Ref: ref, At: b.clock.Now()}
}

func (b *Book) lookup(matchID string) (*pool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.pools[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	return p, nil
}

func newEntryID() string { return uuid.NewString() }
