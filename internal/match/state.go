package match

import (
	"slices"

	"github.com/lox/pitfight/internal/combat"
)

// State is an immutable copy of a match, safe to hand to other goroutines.
type State struct {
	MatchID   string                  `json:"matchId"`
	Status    Status                  `json:"status"`
	Round     int                     `json:"round"`
	Exchange  int                     `json:"exchange"`
	Fighters  [2]combat.Fighter       `json:"fighters"`
	Submitted [2]bool                 `json:"submitted"`
	History   []combat.ExchangeResult `json:"history"`
	Rounds    []RoundResult           `json:"rounds"`
	Winner    string                  `json:"winner,omitempty"`
	Forfeit   string                  `json:"forfeit,omitempty"`
}

// Last returns the most recent exchange, if any.
func (s State) Last() (combat.ExchangeResult, bool) {
	if len(s.History) == 0 {
		return combat.ExchangeResult{}, false
	}
	return s.History[len(s.History)-1], true
}

// Fighter returns the snapshot for a participant.
func (s State) Fighter(id string) (combat.Fighter, bool) {
	for _, f := range s.Fighters {
		if f.ParticipantID == id {
			return f, true
		}
	}
	return combat.Fighter{}, false
}

// Snapshot copies the current state.
func (m *Match) Snapshot() State {
	s := State{
		MatchID:   m.id,
		Status:    m.status,
		Round:     m.round,
		Exchange:  m.exchange,
		Fighters:  m.fighters,
		Submitted: [2]bool{m.pending[0] != nil, m.pending[1] != nil},
		History:   slices.Clone(m.history),
		Rounds:    slices.Clone(m.rounds),
		Forfeit:   m.forfeit,
	}
	if m.status == MatchOver {
		s.Winner, _, _ = m.Winner()
	}
	return s
}
