package arena

import (
	"errors"
	"fmt"

	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/match"
)

type triggerKind int

const (
	triggerSubmit triggerKind = iota
	triggerDeadline
	triggerResume
	triggerAbort
)

func (k triggerKind) String() string {
	switch k {
	case triggerSubmit:
		return "submit"
	case triggerDeadline:
		return "deadline"
	case triggerResume:
		return "resume"
	case triggerAbort:
		return "abort"
	}
	return "unknown"
}

// trigger is anything that can move a match forward: a submission, a fired
// deadline, the end of a round pause, or an abort.
type trigger struct {
	kind        triggerKind
	participant string
	action      combat.Action
	gen         uint64
}

// advance is the single state-transition path shared by direct submissions
// and timer callbacks.
func (o *Orchestrator) advance(matchID string, t trigger) (*combat.ExchangeResult, error) {
	e := o.lookup(matchID)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}

	var (
		res *combat.ExchangeResult
		err error
	)
	o.locked(e, func() {
		res, err = o.step(e, t)
	})
	return res, err
}

// step runs with e.mu held.
func (o *Orchestrator) step(e *entry, t trigger) (*combat.ExchangeResult, error) {
	m := e.match

	switch t.kind {
	case triggerSubmit:
		res, err := m.SubmitAction(t.participant, t.action)
		if err != nil || res == nil {
			return nil, err
		}
		o.afterResolve(e, res)
		return res, nil

	case triggerDeadline:
		if t.gen != e.gen || m.Status() != match.AwaitingActions {
			o.logger.Debug("Ignoring stale deadline", "match", e.id, "gen", t.gen)
			return nil, nil
		}
		e.deadline = nil
		res, idle, err := m.FillDefaults(o.cfg.DefaultAction)
		if err != nil {
			return nil, err
		}
		o.logger.Info("Action deadline passed", "match", e.id, "idle", idle, "default", o.cfg.DefaultAction)
		e.push(ActionTimedOut{MatchID: e.id, Idle: idle, Action: o.cfg.DefaultAction, At: o.clock.Now()})
		o.afterResolve(e, res)
		return res, nil

	case triggerResume:
		e.pause = nil
		if m.Status() != match.RoundOver {
			return nil, nil
		}
		if err := m.NextRound(); err != nil {
			return nil, err
		}
		o.logger.Debug("Round started", "match", e.id, "round", m.Round())
		e.push(MatchUpdated{State: m.Snapshot(), At: o.clock.Now()})
		o.armDeadline(e)
		return nil, nil

	case triggerAbort:
		if m.Status() == match.MatchOver {
			return nil, fmt.Errorf("%w: %s", match.ErrInvalidState, m.Status())
		}
		if err := m.Forfeit(t.participant); err != nil {
			return nil, err
		}
		o.logger.Warn("Match aborted", "match", e.id, "forfeit", t.participant)
		o.stopDeadline(e)
		stop(&e.pause)
		e.push(MatchUpdated{State: m.Snapshot(), At: o.clock.Now()})
		o.finish(e)
		return nil, nil
	}

	return nil, fmt.Errorf("arena: unknown trigger %s", t.kind)
}

func (o *Orchestrator) afterResolve(e *entry, res *combat.ExchangeResult) {
	m := e.match
	o.stopDeadline(e)

	state := m.Snapshot()
	e.push(MatchUpdated{State: state, Exchange: res, At: o.clock.Now()})

	switch m.Status() {
	case match.MatchOver:
		o.finish(e)

	case match.RoundOver:
		rr := state.Rounds[len(state.Rounds)-1]
		o.logger.Info("Round over", "match", e.id, "round", rr.Round, "winner", rr.Winner, "ko", rr.KO)
		e.push(RoundEnded{State: state, Result: rr, At: o.clock.Now()})
		id := e.id
		e.pause = o.clock.AfterFunc(o.cfg.RoundPause, func() {
			o.fire(id, trigger{kind: triggerResume})
		}, "arena", "pause")

	default:
		o.armDeadline(e)
	}
}

// finish publishes the result and schedules eviction.
func (o *Orchestrator) finish(e *entry) {
	m := e.match
	winner, ok, _ := m.Winner()
	state := m.Snapshot()

	o.logger.Info("Match over", "match", e.id, "winner", winner, "draw", !ok)
	e.push(MatchEnded{State: state, Winner: winner, Draw: !ok, At: o.clock.Now()})

	p1, p2 := m.Participants()
	o.mu.Lock()
	for _, p := range []string{p1, p2} {
		if o.byParticipant[p] == e.id {
			delete(o.byParticipant, p)
		}
	}
	o.mu.Unlock()

	id := e.id
	e.cleanup = o.clock.AfterFunc(o.cfg.CleanupGrace, func() {
		o.evict(id)
	}, "arena", "cleanup")
}

// evict drops a finished match once its grace window has passed.
func (o *Orchestrator) evict(id string) {
	e := o.lookup(id)
	if e == nil {
		return
	}

	e.mu.Lock()
	e.cleanup = nil
	if e.deadline != nil || e.pause != nil {
		// Not reachable after finish; keep the entry rather than orphan a timer.
		e.mu.Unlock()
		o.logger.Error("Refusing to evict match with outstanding timer", "match", id)
		return
	}
	e.mu.Unlock()

	o.mu.Lock()
	delete(o.matches, id)
	o.mu.Unlock()
	o.logger.Debug("Match evicted", "match", id)
}

// armDeadline runs with e.mu held.
func (o *Orchestrator) armDeadline(e *entry) {
	o.stopDeadline(e)
	gen := e.gen
	id := e.id
	e.dueAt = o.clock.Now().Add(o.cfg.ActionTimeout)
	e.deadline = o.clock.AfterFunc(o.cfg.ActionTimeout, func() {
		o.fire(id, trigger{kind: triggerDeadline, gen: gen})
	}, "arena", "deadline")
	e.push(ExchangeRequested{State: e.match.Snapshot(), Deadline: e.dueAt, At: o.clock.Now()})
}

// stopDeadline runs with e.mu held. Bumping gen turns a callback that has
// already fired and is waiting for the lock into a no-op.
func (o *Orchestrator) stopDeadline(e *entry) {
	stop(&e.deadline)
	e.gen++
}

// fire is the timer callback path.
func (o *Orchestrator) fire(id string, t trigger) {
	if _, err := o.advance(id, t); err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			o.logger.Debug("Timer fired for evicted match", "match", id, "trigger", t.kind)
			return
		}
		o.logger.Error("Timer transition failed", "match", id, "trigger", t.kind, "error", err)
	}
}
