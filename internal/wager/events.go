package wager

import (
	"time"

	"github.com/lox/pitfight/internal/events"
)

const (
	KindBetPlaced  events.Kind = "bet_placed"
	KindBetSettled events.Kind = "bet_settled"
	KindPoolVoided events.Kind = "pool_voided"
)

// BetPlaced follows a committed bet.
type BetPlaced struct {
	Bet  Bet         `json:"bet"`
	Pool PoolSummary `json:"pool"`
	At   time.Time   `json:"at"`
}

// BetSettled follows a committed settlement.
type BetSettled struct {
	Result SettleResult `json:"result"`
	At     time.Time    `json:"at"`
}

// PoolVoided follows a committed void where every stake was returned.
type PoolVoided struct {
	MatchID  string    `json:"matchId"`
	Refunded []Payout  `json:"refunded"`
	At       time.Time `json:"at"`
}

func (e BetPlaced) Kind() events.Kind    { return KindBetPlaced }
func (e BetPlaced) Timestamp() time.Time { return e.At }

func (e BetSettled) Kind() events.Kind    { return KindBetSettled }
func (e BetSettled) Timestamp() time.Time { return e.At }

func (e PoolVoided) Kind() events.Kind    { return KindPoolVoided }
func (e PoolVoided) Timestamp() time.Time { return e.At }
