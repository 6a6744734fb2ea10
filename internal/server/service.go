package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/arena"
	"github.com/lox/pitfight/internal/auth"
	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/events"
	"github.com/lox/pitfight/internal/gameid"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/wager"
)

const settleTimeout = 5 * time.Second

// Service ties the lobby, the orchestrator and the wager book together.
// Connections call it with an authenticated participant id.
type Service struct {
	clock     quartz.Clock
	logger    *log.Logger
	validator auth.Validator
	pit       *pit.Pit
	arena     *arena.Orchestrator
	book      *wager.Book
	ids       *gameid.Generator

	mu        sync.Mutex
	unsettled map[string]arena.MatchEnded
}

// NewService wires the core components. Subscribe the returned service to
// the bus the orchestrator publishes on so pools close and settle.
func NewService(clock quartz.Clock, validator auth.Validator, p *pit.Pit, orch *arena.Orchestrator, book *wager.Book, logger *log.Logger) *Service {
	return &Service{
		clock:     clock,
		logger:    logger.WithPrefix("service"),
		validator: validator,
		pit:       p,
		arena:     orch,
		book:      book,
		ids:       gameid.NewGenerator(clock, nil),
		unsettled: make(map[string]arena.MatchEnded),
	}
}

// Authenticate resolves a token and makes sure the participant has a
// wager account.
func (s *Service) Authenticate(ctx context.Context, token string) (*auth.Identity, decimal.Decimal, error) {
	id, err := s.validator.Validate(ctx, token)
	if err != nil {
		return nil, decimal.Zero, err
	}
	bal, err := s.book.Account(ctx, id.ParticipantID)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("open account: %w", err)
	}
	return id, bal, nil
}

func (s *Service) JoinPit(id *auth.Identity, synthetic bool) pit.Member {
	return s.pit.Join(id.ParticipantID, id.Username, synthetic)
}

func (s *Service) LeavePit(participantID string) bool {
	return s.pit.Leave(participantID)
}

func (s *Service) Chat(participantID, text string) error {
	_, err := s.pit.Chat(participantID, text)
	return err
}

func (s *Service) Callout(participantID, target string, stake decimal.Decimal, message string) (pit.Callout, error) {
	return s.pit.CreateCallout(participantID, target, stake, message)
}

// AcceptCallout consumes the callout and starts the match it authorizes.
func (s *Service) AcceptCallout(ctx context.Context, participantID, calloutID string) (match.State, error) {
	pair, err := s.pit.AcceptCallout(calloutID, participantID)
	if err != nil {
		return match.State{}, err
	}
	return s.startMatch(ctx, pair)
}

func (s *Service) DeclineCallout(participantID, calloutID string) error {
	return s.pit.DeclineCallout(calloutID, participantID)
}

// Queue enqueues the participant and starts a match if that completed a
// pairing. The returned state is nil while still waiting.
func (s *Service) Queue(ctx context.Context, participantID string, rating int) (*match.State, error) {
	if _, busy := s.arena.ActiveFor(participantID); busy {
		return nil, fmt.Errorf("%w: %s", arena.ErrParticipantBusy, participantID)
	}
	pair, err := s.pit.Enqueue(participantID, rating)
	if err != nil || pair == nil {
		return nil, err
	}

	var mine *match.State
	pending := []pit.Pairing{*pair}
	for len(pending) > 0 {
		pair := pending[0]
		pending = pending[1:]
		st, err := s.startMatch(ctx, pair)
		switch {
		case errors.Is(err, arena.ErrParticipantBusy):
			// One side got into a match some other way after queueing.
			pending = append(pending, s.requeueIdle(pair)...)
		case err != nil:
			return nil, err
		default:
			if _, ok := st.Fighter(participantID); ok {
				mine = &st
			}
		}
	}
	return mine, nil
}

// requeueIdle puts the sides of a failed queue pairing that are not in a
// match back in the queue, returning any pairings that produces.
func (s *Service) requeueIdle(pair pit.Pairing) []pit.Pairing {
	var out []pit.Pairing
	for _, e := range pair.Entries {
		if _, busy := s.arena.ActiveFor(e.ParticipantID); busy {
			continue
		}
		next, err := s.pit.Requeue(e)
		if err != nil {
			s.logger.Debug("Not requeued", "participant", e.ParticipantID, "error", err)
			continue
		}
		s.logger.Info("Requeued after busy opponent", "participant", e.ParticipantID)
		if next != nil {
			out = append(out, *next)
		}
	}
	return out
}

func (s *Service) Dequeue(participantID string) bool {
	return s.pit.Dequeue(participantID)
}

func (s *Service) SubmitAction(participantID, matchID string, action combat.Action) (*combat.ExchangeResult, error) {
	return s.arena.SubmitAction(matchID, participantID, action)
}

func (s *Service) PlaceBet(ctx context.Context, participantID, matchID, backedID string, amount decimal.Decimal) (wager.Bet, error) {
	return s.book.PlaceBet(ctx, matchID, participantID, backedID, amount)
}

func (s *Service) Balance(ctx context.Context, participantID string) (decimal.Decimal, error) {
	return s.book.Balance(ctx, participantID)
}

func (s *Service) MatchState(matchID string) (match.State, error) {
	return s.arena.State(matchID)
}

func (s *Service) Pool(matchID string) (wager.PoolSummary, error) {
	return s.book.Pool(matchID)
}

func (s *Service) Members() []pit.Member {
	return s.pit.Members()
}

// Disconnect removes a participant that is gone for good: out of the pit,
// and any running match is forfeited.
func (s *Service) Disconnect(participantID string) {
	s.pit.Leave(participantID)
	if matchID, ok := s.arena.ActiveFor(participantID); ok {
		if err := s.arena.Abort(matchID, participantID); err != nil && !errors.Is(err, arena.ErrMatchNotFound) {
			s.logger.Warn("Abort on disconnect failed", "match", matchID, "participant", participantID, "error", err)
		}
	}
}

// Sweep removes expired callouts and retries failed settlements every
// interval until ctx ends.
func (s *Service) Sweep(ctx context.Context, interval time.Duration) error {
	t := s.clock.TickerFunc(ctx, interval, func() error {
		s.pit.CleanExpired()
		s.retrySettlements()
		return nil
	}, "sweep")
	return t.Wait()
}

// Unsettled returns the ids of ended matches whose pools failed to settle
// and are waiting for a retry.
func (s *Service) Unsettled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.unsettled))
	for id := range s.unsettled {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) retrySettlements() {
	s.mu.Lock()
	failed := make([]arena.MatchEnded, 0, len(s.unsettled))
	for _, ev := range s.unsettled {
		failed = append(failed, ev)
	}
	s.mu.Unlock()

	for _, ev := range failed {
		s.settle(ev)
	}
}

// startMatch opens the pool before the match exists so betting is live by
// the time anyone hears about the match.
func (s *Service) startMatch(ctx context.Context, pair pit.Pairing) (match.State, error) {
	id := s.ids.New(gameid.Match)
	if err := s.book.Open(id, pair.P1, pair.P2); err != nil {
		return match.State{}, err
	}
	st, err := s.arena.CreateMatch(id, pair.P1, pair.P2, pair.Wager)
	if err != nil {
		if _, verr := s.book.Void(ctx, id); verr != nil {
			s.logger.Error("Failed to void pool for unstarted match", "match", id, "error", verr)
		}
		s.book.Forget(id)
		return match.State{}, err
	}
	// Fighters leave the queue however their match came about.
	s.pit.Dequeue(pair.P1)
	s.pit.Dequeue(pair.P2)
	s.logger.Info("Match started", "match", id, "p1", pair.P1, "p2", pair.P2, "source", pair.Source)
	return st, nil
}

// OnEvent reacts to the fight lifecycle: the pool closes when round 1 ends
// and settles when the match ends.
func (s *Service) OnEvent(e events.Event) {
	switch ev := e.(type) {
	case arena.RoundEnded:
		if ev.Result.Round != 1 {
			return
		}
		if err := s.book.Close(ev.State.MatchID); err != nil && !errors.Is(err, wager.ErrMatchNotFound) {
			s.logger.Warn("Failed to close pool", "match", ev.State.MatchID, "error", err)
		}
	case arena.MatchEnded:
		s.settle(ev)
	}
}

func (s *Service) settle(ev arena.MatchEnded) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	id := ev.State.MatchID
	var err error
	if ev.State.Forfeit != "" && len(ev.State.Rounds) == 0 {
		_, err = s.book.Void(ctx, id)
	} else {
		_, err = s.book.Settle(ctx, id, ev.Winner)
	}
	if err != nil && !errors.Is(err, wager.ErrMatchNotFound) {
		// The pool keeps its bets and the sweeper tries again.
		s.logger.Error("Pool settlement failed", "match", id, "winner", ev.Winner, "error", err)
		s.mu.Lock()
		s.unsettled[id] = ev
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	delete(s.unsettled, id)
	s.mu.Unlock()
	if err == nil {
		s.book.Forget(id)
	}
}
