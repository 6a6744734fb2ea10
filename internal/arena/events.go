package arena

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/events"
	"github.com/lox/pitfight/internal/match"
)

const (
	KindMatchCreated    events.Kind = "match_created"
	KindMatchUpdate     events.Kind = "match_update"
	KindExchangeRequest events.Kind = "exchange_request"
	KindActionTimeout   events.Kind = "action_timeout"
	KindRoundEnd        events.Kind = "round_end"
	KindMatchEnd        events.Kind = "match_end"
)

// MatchCreated is published once when a match is registered.
type MatchCreated struct {
	State match.State
	Wager decimal.Decimal
	At    time.Time
}

func (e MatchCreated) Kind() events.Kind    { return KindMatchCreated }
func (e MatchCreated) Timestamp() time.Time { return e.At }

// MatchUpdated carries the state after every resolved exchange and after a
// new round starts. Exchange is nil for the round-start update.
type MatchUpdated struct {
	State    match.State
	Exchange *combat.ExchangeResult
	At       time.Time
}

func (e MatchUpdated) Kind() events.Kind    { return KindMatchUpdate }
func (e MatchUpdated) Timestamp() time.Time { return e.At }

// ExchangeRequested prompts both fighters for their next action.
type ExchangeRequested struct {
	State    match.State
	Deadline time.Time
	At       time.Time
}

func (e ExchangeRequested) Kind() events.Kind    { return KindExchangeRequest }
func (e ExchangeRequested) Timestamp() time.Time { return e.At }

// ActionTimedOut names the participants that were given the default action.
type ActionTimedOut struct {
	MatchID string
	Idle    []string
	Action  combat.Action
	At      time.Time
}

func (e ActionTimedOut) Kind() events.Kind    { return KindActionTimeout }
func (e ActionTimedOut) Timestamp() time.Time { return e.At }

// RoundEnded is published when a round finishes and the match continues.
type RoundEnded struct {
	State  match.State
	Result match.RoundResult
	At     time.Time
}

func (e RoundEnded) Kind() events.Kind    { return KindRoundEnd }
func (e RoundEnded) Timestamp() time.Time { return e.At }

// MatchEnded is published once when a match reaches match_over. Winner is
// empty when Draw is true.
type MatchEnded struct {
	State  match.State
	Winner string
	Draw   bool
	At     time.Time
}

func (e MatchEnded) Kind() events.Kind    { return KindMatchEnd }
func (e MatchEnded) Timestamp() time.Time { return e.At }
