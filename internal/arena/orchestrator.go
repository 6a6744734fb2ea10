// Package arena drives many concurrent matches in real time. It owns the
// per-match action deadline, injects the default action for silent
// participants, pauses between rounds, evicts finished matches after a grace
// window and publishes lifecycle events.
package arena

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/events"
	"github.com/lox/pitfight/internal/gameid"
	"github.com/lox/pitfight/internal/match"
)

var (
	ErrMatchNotFound   = errors.New("arena: match not found")
	ErrMatchExists     = errors.New("arena: match already exists")
	ErrParticipantBusy = errors.New("arena: participant already in a match")
)

// Config holds the orchestrator timings.
type Config struct {
	ActionTimeout time.Duration
	RoundPause    time.Duration
	CleanupGrace  time.Duration
	DefaultAction combat.Action
	Rules         match.Rules
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		ActionTimeout: 30 * time.Second,
		RoundPause:    3 * time.Second,
		CleanupGrace:  30 * time.Second,
		DefaultAction: combat.DefaultAction,
		Rules:         match.DefaultRules(),
	}
}

// Orchestrator owns the table of live matches. The table lock is only held
// to look entries up; every match is serialized by its own lock.
type Orchestrator struct {
	cfg    Config
	clock  quartz.Clock
	logger *log.Logger
	bus    events.Publisher
	ids    *gameid.Generator

	mu            sync.RWMutex
	matches       map[string]*entry
	byParticipant map[string]string
}

// entry wraps a match with its timers. mu serializes state changes; emit
// keeps event delivery in state-change order without holding mu while
// subscribers run.
type entry struct {
	id    string
	wager decimal.Decimal

	mu       sync.Mutex
	emit     sync.Mutex
	match    *match.Match
	deadline *quartz.Timer
	dueAt    time.Time
	gen      uint64
	pause    *quartz.Timer
	cleanup  *quartz.Timer
	outbox   []events.Event
}

// New creates an orchestrator.
func New(cfg Config, clock quartz.Clock, bus events.Publisher, logger *log.Logger) *Orchestrator {
	if bus == nil {
		bus = events.Discard
	}
	if !cfg.DefaultAction.Valid() {
		cfg.DefaultAction = combat.DefaultAction
	}
	return &Orchestrator{
		cfg:           cfg,
		clock:         clock,
		logger:        logger.WithPrefix("arena"),
		bus:           bus,
		ids:           gameid.NewGenerator(clock, nil),
		matches:       make(map[string]*entry),
		byParticipant: make(map[string]string),
	}
}

// CreateMatch registers a new match and arms its first deadline. An empty id
// is replaced with a generated one.
func (o *Orchestrator) CreateMatch(id, p1, p2 string, wager decimal.Decimal) (match.State, error) {
	if id == "" {
		id = o.ids.New(gameid.Match)
	}
	m, err := match.New(id, p1, p2, o.cfg.Rules)
	if err != nil {
		return match.State{}, err
	}

	e := &entry{id: id, wager: wager, match: m}

	o.mu.Lock()
	if _, exists := o.matches[id]; exists {
		o.mu.Unlock()
		return match.State{}, fmt.Errorf("%w: %s", ErrMatchExists, id)
	}
	for _, p := range []string{p1, p2} {
		if other, busy := o.byParticipant[p]; busy {
			o.mu.Unlock()
			return match.State{}, fmt.Errorf("%w: %s is in %s", ErrParticipantBusy, p, other)
		}
	}
	o.matches[id] = e
	o.byParticipant[p1] = id
	o.byParticipant[p2] = id
	o.mu.Unlock()

	o.logger.Info("Match created", "match", id, "p1", p1, "p2", p2, "wager", wager)

	var state match.State
	o.locked(e, func() {
		state = m.Snapshot()
		e.push(MatchCreated{State: state, Wager: wager, At: o.clock.Now()})
		o.armDeadline(e)
	})
	return state, nil
}

// SubmitAction forwards a participant's action. The result is nil until
// both sides have acted. Errors are reported to the caller only; they never
// change the match.
func (o *Orchestrator) SubmitAction(matchID, participantID string, action combat.Action) (*combat.ExchangeResult, error) {
	res, err := o.advance(matchID, trigger{kind: triggerSubmit, participant: participantID, action: action})
	if err != nil {
		o.logger.Warn("Rejected action", "match", matchID, "participant", participantID, "action", action, "error", err)
	}
	return res, err
}

// Abort ends a match because participantID is gone for good. The opponent
// wins by forfeit.
func (o *Orchestrator) Abort(matchID, participantID string) error {
	_, err := o.advance(matchID, trigger{kind: triggerAbort, participant: participantID})
	return err
}

// State returns a snapshot of a live or recently finished match.
func (o *Orchestrator) State(matchID string) (match.State, error) {
	e := o.lookup(matchID)
	if e == nil {
		return match.State{}, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.match.Snapshot(), nil
}

// Deadline returns when the current exchange times out. ok is false when no
// deadline is armed.
func (o *Orchestrator) Deadline(matchID string) (time.Time, bool) {
	e := o.lookup(matchID)
	if e == nil {
		return time.Time{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dueAt, e.deadline != nil
}

// ActiveFor returns the id of the match participantID is currently fighting.
func (o *Orchestrator) ActiveFor(participantID string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.byParticipant[participantID]
	return id, ok
}

// Len returns the number of matches in the table, including finished ones
// still inside their grace window.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.matches)
}

// Close stops every timer. Matches stay readable.
func (o *Orchestrator) Close() {
	o.mu.RLock()
	entries := make([]*entry, 0, len(o.matches))
	for _, e := range o.matches {
		entries = append(entries, e)
	}
	o.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		o.stopDeadline(e)
		stop(&e.pause)
		stop(&e.cleanup)
		e.mu.Unlock()
	}
}

func (o *Orchestrator) lookup(id string) *entry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.matches[id]
}

// locked runs fn under the entry lock and then publishes whatever fn queued,
// in order, after the lock is released.
func (o *Orchestrator) locked(e *entry, fn func()) {
	e.mu.Lock()
	fn()
	out := e.outbox
	e.outbox = nil
	e.emit.Lock()
	e.mu.Unlock()
	defer e.emit.Unlock()

	for _, ev := range out {
		o.bus.Publish(ev)
	}
}

func (e *entry) push(ev events.Event) {
	e.outbox = append(e.outbox, ev)
}

func stop(t **quartz.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
