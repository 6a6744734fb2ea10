// Package match holds the authoritative state of a single fight: both
// fighters, pending actions, exchange and round counters, and the resolved
// history. A Match is not safe for concurrent use; the arena serializes
// every mutation on it.
package match

import (
	"errors"
	"fmt"

	"github.com/lox/pitfight/internal/combat"
)

var (
	ErrInvalidState    = errors.New("match: invalid state")
	ErrDuplicateAction = errors.New("match: action already submitted this exchange")
	ErrNotAParticipant = errors.New("match: not a participant")
)

// Status is the lifecycle state of a match.
type Status string

const (
	AwaitingActions Status = "awaiting_actions"
	RoundOver       Status = "round_over"
	MatchOver       Status = "match_over"
)

// Rules are the fixed limits of a fight.
type Rules struct {
	MaxExchanges int
	RoundsToWin  int
	MaxRounds    int
}

// DefaultRules is best-of-3 with 20 exchanges per round.
func DefaultRules() Rules {
	return Rules{MaxExchanges: 20, RoundsToWin: 2, MaxRounds: 3}
}

// RoundResult records how a round finished. Winner is empty for a draw.
type RoundResult struct {
	Round     int    `json:"round"`
	Winner    string `json:"winner,omitempty"`
	Exchanges int    `json:"exchanges"`
	KO        bool   `json:"ko"`
}

// Match is a single fight between two participants.
type Match struct {
	id       string
	rules    Rules
	fighters [2]combat.Fighter
	pending  [2]*combat.Action
	round    int
	exchange int
	status   Status
	history  []combat.ExchangeResult
	rounds   []RoundResult
	forfeit  string
}

// New creates a match at round 1, exchange 1 with both fighters fresh.
func New(id, p1, p2 string, rules Rules) (*Match, error) {
	if p1 == "" || p2 == "" || p1 == p2 {
		return nil, fmt.Errorf("match: need two distinct participants, got %q and %q", p1, p2)
	}
	if rules.MaxExchanges <= 0 || rules.RoundsToWin <= 0 || rules.MaxRounds < 2*rules.RoundsToWin-1 {
		return nil, fmt.Errorf("match: invalid rules %+v", rules)
	}

	m := &Match{
		id:       id,
		rules:    rules,
		round:    1,
		exchange: 1,
		status:   AwaitingActions,
	}
	m.fighters[0] = combat.Fighter{ParticipantID: p1}
	m.fighters[1] = combat.Fighter{ParticipantID: p2}
	m.resetFighters()
	return m, nil
}

func (m *Match) ID() string     { return m.id }
func (m *Match) Status() Status { return m.status }
func (m *Match) Round() int     { return m.round }
func (m *Match) Exchange() int  { return m.exchange }

// Participants returns both participant ids in seat order.
func (m *Match) Participants() (string, string) {
	return m.fighters[0].ParticipantID, m.fighters[1].ParticipantID
}

// Opponent returns the other participant's id.
func (m *Match) Opponent(id string) (string, error) {
	s := m.side(id)
	if s < 0 {
		return "", fmt.Errorf("%w: %s", ErrNotAParticipant, id)
	}
	return m.fighters[1-s].ParticipantID, nil
}

func (m *Match) side(id string) int {
	switch id {
	case m.fighters[0].ParticipantID:
		return 0
	case m.fighters[1].ParticipantID:
		return 1
	}
	return -1
}

// Waiting lists the participants that still owe an action this exchange.
func (m *Match) Waiting() []string {
	if m.status != AwaitingActions {
		return nil
	}
	var ids []string
	for i := range m.pending {
		if m.pending[i] == nil {
			ids = append(ids, m.fighters[i].ParticipantID)
		}
	}
	return ids
}

// SubmitAction records a participant's action. Once both seats are filled
// the exchange resolves immediately and its result is returned; otherwise
// the result is nil.
func (m *Match) SubmitAction(id string, action combat.Action) (*combat.ExchangeResult, error) {
	if m.status != AwaitingActions {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, m.status)
	}
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", combat.ErrInvalidAction, string(action))
	}
	s := m.side(id)
	if s < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotAParticipant, id)
	}
	if m.pending[s] != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAction, id)
	}

	a := action
	m.pending[s] = &a
	if m.pending[0] == nil || m.pending[1] == nil {
		return nil, nil
	}
	return m.resolve()
}

// FillDefaults submits action for every seat that has not acted yet and
// resolves the exchange. It is used when the action deadline passes.
func (m *Match) FillDefaults(action combat.Action) (*combat.ExchangeResult, []string, error) {
	if m.status != AwaitingActions {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidState, m.status)
	}
	if !action.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", combat.ErrInvalidAction, string(action))
	}

	idle := m.Waiting()
	for i := range m.pending {
		if m.pending[i] == nil {
			a := action
			m.pending[i] = &a
		}
	}
	res, err := m.resolve()
	return res, idle, err
}

func (m *Match) resolve() (*combat.ExchangeResult, error) {
	res, err := combat.Resolve(*m.pending[0], *m.pending[1], m.fighters[0], m.fighters[1])
	if err != nil {
		return nil, err
	}

	m.fighters[0].HP = max(0, m.fighters[0].HP-res.DamageToA)
	m.fighters[1].HP = max(0, m.fighters[1].HP-res.DamageToB)
	m.fighters[0].Stamina = clamp(m.fighters[0].Stamina+res.StaminaDeltaA, 0, combat.MaxStamina)
	m.fighters[1].Stamina = clamp(m.fighters[1].Stamina+res.StaminaDeltaB, 0, combat.MaxStamina)
	m.history = append(m.history, res)
	m.pending = [2]*combat.Action{}

	ko := m.fighters[0].HP == 0 || m.fighters[1].HP == 0
	if !ko && m.exchange < m.rules.MaxExchanges {
		m.exchange++
		return &res, nil
	}

	m.endRound(ko)
	return &res, nil
}

func (m *Match) endRound(ko bool) {
	a, b := m.fighters[0].HP, m.fighters[1].HP
	winner := -1
	switch {
	case a > b:
		winner = 0
	case b > a:
		winner = 1
	}

	rr := RoundResult{Round: m.round, Exchanges: m.exchange, KO: ko}
	if winner >= 0 {
		m.fighters[winner].RoundWins++
		rr.Winner = m.fighters[winner].ParticipantID
	}
	m.rounds = append(m.rounds, rr)

	if m.fighters[0].RoundWins >= m.rules.RoundsToWin ||
		m.fighters[1].RoundWins >= m.rules.RoundsToWin ||
		m.round >= m.rules.MaxRounds {
		m.status = MatchOver
		return
	}
	m.status = RoundOver
}

// NextRound starts the next round after a round_over pause.
func (m *Match) NextRound() error {
	if m.status != RoundOver {
		return fmt.Errorf("%w: %s", ErrInvalidState, m.status)
	}
	m.round++
	m.exchange = 1
	m.pending = [2]*combat.Action{}
	m.resetFighters()
	m.status = AwaitingActions
	return nil
}

// Forfeit ends the match immediately with the other participant as winner.
func (m *Match) Forfeit(id string) error {
	if m.status == MatchOver {
		return fmt.Errorf("%w: %s", ErrInvalidState, m.status)
	}
	if m.side(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNotAParticipant, id)
	}
	m.forfeit = id
	m.pending = [2]*combat.Action{}
	m.status = MatchOver
	return nil
}

// Winner returns the winning participant once the match is over. The
// second return is false for a draw.
func (m *Match) Winner() (string, bool, error) {
	if m.status != MatchOver {
		return "", false, fmt.Errorf("%w: %s", ErrInvalidState, m.status)
	}
	if m.forfeit != "" {
		id, _ := m.Opponent(m.forfeit)
		return id, true, nil
	}
	a, b := m.fighters[0].RoundWins, m.fighters[1].RoundWins
	switch {
	case a > b:
		return m.fighters[0].ParticipantID, true, nil
	case b > a:
		return m.fighters[1].ParticipantID, true, nil
	}
	return "", false, nil
}

func (m *Match) resetFighters() {
	for i := range m.fighters {
		m.fighters[i].HP = combat.MaxHP
		m.fighters[i].Stamina = combat.MaxStamina
	}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
