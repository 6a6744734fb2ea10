package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pitfight/internal/arena"
	"github.com/lox/pitfight/internal/auth"
	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/events"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/wager"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

func money(v decimal.Decimal) string { return v.StringFixed(2) }

type stack struct {
	t     *testing.T
	clock *quartz.Mock
	rec   *events.Recorder
	orch  *arena.Orchestrator
	book  *wager.Book
	pit   *pit.Pit
	hub   *Hub
	svc   *Service
}

// flakyLedger fails every write while fail is set.
type flakyLedger struct {
	*wager.MemoryLedger
	fail atomic.Bool
}

var errLedgerDown = errors.New("ledger down")

func (l *flakyLedger) Apply(ctx context.Context, fn func(wager.Tx) error) error {
	if l.fail.Load() {
		return errLedgerDown
	}
	return l.MemoryLedger.Apply(ctx, fn)
}

func newStack(t *testing.T) *stack {
	t.Helper()
	return newStackWithLedger(t, wager.NewMemoryLedger())
}

func newStackWithLedger(t *testing.T, ledger wager.Ledger) *stack {
	t.Helper()
	clock := quartz.NewMock(t)
	logger := testLogger()
	bus := events.NewBus()
	orch := arena.New(arena.DefaultConfig(), clock, bus, logger)
	book := wager.NewBook(wager.DefaultConfig(), ledger, clock, bus, logger)
	p := pit.New(pit.DefaultConfig(), clock, bus, logger)
	svc := NewService(clock, auth.NewDevValidator(), p, orch, book, logger)
	hub := NewHub(clock, logger)
	rec := events.NewRecorder()

	bus.Subscribe(hub)
	bus.Subscribe(svc)
	bus.Subscribe(rec)
	t.Cleanup(orch.Close)

	return &stack{t: t, clock: clock, rec: rec, orch: orch, book: book, pit: p, hub: hub, svc: svc}
}

// enter authenticates name with the dev validator and joins the pit.
func (s *stack) enter(name string) string {
	s.t.Helper()
	id, bal, err := s.svc.Authenticate(context.Background(), name)
	require.NoError(s.t, err)
	require.Equal(s.t, "100.00", money(bal))
	s.svc.JoinPit(id, false)
	return id.ParticipantID
}

func (s *stack) balance(id string) string {
	s.t.Helper()
	bal, err := s.svc.Balance(context.Background(), id)
	require.NoError(s.t, err)
	return money(bal)
}

func (s *stack) bet(bettor, matchID, backed, amount string) {
	s.t.Helper()
	_, err := s.svc.PlaceBet(context.Background(), bettor, matchID, backed, decimal.RequireFromString(amount))
	require.NoError(s.t, err)
}

// next fires the next pending timer and waits for its callback.
func (s *stack) next() {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, w := s.clock.AdvanceNext()
	w.MustWait(ctx)
}

// winRound has winner throw heavy punches at a taunting loser until the
// round is decided.
func (s *stack) winRound(matchID, winner, loser string) {
	s.t.Helper()
	st, err := s.svc.MatchState(matchID)
	require.NoError(s.t, err)
	round := st.Round
	for st.Status == match.AwaitingActions && st.Round == round {
		_, err = s.svc.SubmitAction(winner, matchID, combat.HeavyPunch)
		require.NoError(s.t, err)
		_, err = s.svc.SubmitAction(loser, matchID, combat.Taunt)
		require.NoError(s.t, err)
		st, err = s.svc.MatchState(matchID)
		require.NoError(s.t, err)
	}
}

func TestQueuedMatchSettlesPool(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()
	alice, bob := s.enter("alice"), s.enter("bob")
	carol, dave := s.enter("carol"), s.enter("dave")

	st, err := s.svc.Queue(ctx, alice, 0)
	require.NoError(t, err)
	assert.Nil(t, st, "still waiting for an opponent")

	st, err = s.svc.Queue(ctx, bob, 0)
	require.NoError(t, err)
	require.NotNil(t, st)
	id := st.MatchID
	assert.Equal(t, alice, st.Fighters[0].ParticipantID)
	assert.Equal(t, bob, st.Fighters[1].ParticipantID)

	_, err = s.svc.Queue(ctx, alice, 0)
	require.ErrorIs(t, err, arena.ErrParticipantBusy)

	pool, err := s.svc.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, wager.PoolOpen, pool.Status)

	s.bet(carol, id, alice, "20")
	s.bet(dave, id, bob, "10")

	s.winRound(id, alice, bob)
	_, err = s.svc.PlaceBet(ctx, carol, id, alice, decimal.NewFromInt(5))
	require.ErrorIs(t, err, wager.ErrMatchNotOpen, "betting closes after round one")

	s.next()
	s.winRound(id, alice, bob)

	st2, err := s.svc.MatchState(id)
	require.NoError(t, err)
	require.Equal(t, match.MatchOver, st2.Status)
	assert.Equal(t, alice, st2.Winner)

	assert.Equal(t, "109.10", s.balance(carol))
	assert.Equal(t, "90.00", s.balance(dave))
	assert.Equal(t, "0.90", s.balance("house"))
	assert.Equal(t, 1, s.rec.Count(wager.KindBetSettled))

	_, err = s.svc.Pool(id)
	require.ErrorIs(t, err, wager.ErrMatchNotFound, "settled pools are dropped")
}

func TestAcceptedCalloutStartsMatch(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()
	alice, bob := s.enter("alice"), s.enter("bob")

	c, err := s.svc.Callout(alice, "bob", decimal.NewFromInt(25), "square up")
	require.NoError(t, err)

	st, err := s.svc.AcceptCallout(ctx, bob, c.ID)
	require.NoError(t, err)
	assert.Equal(t, match.AwaitingActions, st.Status)

	_, err = s.svc.AcceptCallout(ctx, bob, c.ID)
	require.ErrorIs(t, err, pit.ErrNotFound, "a callout is consumed once")

	var created arena.MatchCreated
	for _, e := range s.rec.Events() {
		if mc, ok := e.(arena.MatchCreated); ok {
			created = mc
		}
	}
	assert.Equal(t, st.MatchID, created.State.MatchID)
	assert.Equal(t, "25", created.Wager.String())
	assert.Equal(t, "100.00", s.balance(alice), "callout wagers move no money")
}

func TestDeclinedCalloutStartsNothing(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	alice, bob := s.enter("alice"), s.enter("bob")

	c, err := s.svc.Callout(alice, "bob", decimal.Zero, "")
	require.NoError(t, err)
	require.NoError(t, s.svc.DeclineCallout(bob, c.ID))

	_, busy := s.orch.ActiveFor(alice)
	assert.False(t, busy)
	assert.Zero(t, s.orch.Len())
}

func TestCalloutMatchLeavesQueue(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()
	alice, bob := s.enter("alice"), s.enter("bob")
	carol, dave := s.enter("carol"), s.enter("dave")

	st, err := s.svc.Queue(ctx, alice, 0)
	require.NoError(t, err)
	require.Nil(t, st)

	c, err := s.svc.Callout(bob, "alice", decimal.Zero, "")
	require.NoError(t, err)
	_, err = s.svc.AcceptCallout(ctx, alice, c.ID)
	require.NoError(t, err)
	assert.Empty(t, s.pit.Queue(pit.LivePool))

	st, err = s.svc.Queue(ctx, carol, 0)
	require.NoError(t, err)
	assert.Nil(t, st, "carol waits instead of pairing with a busy fighter")
	require.Len(t, s.pit.Queue(pit.LivePool), 1)
	assert.Equal(t, carol, s.pit.Queue(pit.LivePool)[0].ParticipantID)

	st, err = s.svc.Queue(ctx, dave, 0)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, carol, st.Fighters[0].ParticipantID)
	assert.Equal(t, dave, st.Fighters[1].ParticipantID)
}

func TestQueueRequeuesIdleSideOfBusyPairing(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()
	alice, bob, carol := s.enter("alice"), s.enter("bob"), s.enter("carol")

	// alice is still queued when a match starts for her elsewhere.
	_, err := s.pit.Enqueue(alice, 0)
	require.NoError(t, err)
	_, err = s.orch.CreateMatch("match_elsewhere", alice, bob, decimal.Zero)
	require.NoError(t, err)

	st, err := s.svc.Queue(ctx, carol, 0)
	require.NoError(t, err)
	assert.Nil(t, st)

	q := s.pit.Queue(pit.LivePool)
	require.Len(t, q, 1)
	assert.Equal(t, carol, q[0].ParticipantID)
	_, busy := s.orch.ActiveFor(carol)
	assert.False(t, busy)
}

func TestFailedSettlementIsRetried(t *testing.T) {
	t.Parallel()
	ledger := &flakyLedger{MemoryLedger: wager.NewMemoryLedger()}
	s := newStackWithLedger(t, ledger)
	ctx := context.Background()
	alice, bob, carol := s.enter("alice"), s.enter("bob"), s.enter("carol")

	_, err := s.svc.Queue(ctx, alice, 0)
	require.NoError(t, err)
	st, err := s.svc.Queue(ctx, bob, 0)
	require.NoError(t, err)
	id := st.MatchID
	s.bet(carol, id, alice, "10")

	s.winRound(id, alice, bob)
	s.next()
	ledger.fail.Store(true)
	s.winRound(id, alice, bob)

	assert.Equal(t, []string{id}, s.svc.Unsettled())
	assert.Zero(t, s.rec.Count(wager.KindBetSettled))

	s.svc.retrySettlements()
	assert.Equal(t, []string{id}, s.svc.Unsettled(), "still failing")

	ledger.fail.Store(false)
	s.svc.retrySettlements()
	assert.Empty(t, s.svc.Unsettled())
	assert.Equal(t, 1, s.rec.Count(wager.KindBetSettled))
	assert.Equal(t, "99.70", s.balance(carol))
	assert.Equal(t, "0.30", s.balance("house"))
}

func TestDisconnectBeforeFirstRoundVoidsPool(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()
	alice, bob, carol := s.enter("alice"), s.enter("bob"), s.enter("carol")

	_, err := s.svc.Queue(ctx, alice, 0)
	require.NoError(t, err)
	st, err := s.svc.Queue(ctx, bob, 0)
	require.NoError(t, err)
	s.bet(carol, st.MatchID, bob, "10")
	assert.Equal(t, "90.00", s.balance(carol))

	s.svc.Disconnect(alice)

	assert.Equal(t, "100.00", s.balance(carol))
	assert.Equal(t, 1, s.rec.Count(wager.KindPoolVoided))
	assert.Zero(t, s.rec.Count(wager.KindBetSettled))
	for _, m := range s.svc.Members() {
		assert.NotEqual(t, alice, m.ID)
	}
}

func TestDisconnectAfterRoundSettlesForfeit(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()
	alice, bob := s.enter("alice"), s.enter("bob")
	carol, dave := s.enter("carol"), s.enter("dave")

	_, err := s.svc.Queue(ctx, alice, 0)
	require.NoError(t, err)
	st, err := s.svc.Queue(ctx, bob, 0)
	require.NoError(t, err)
	s.bet(carol, st.MatchID, alice, "10")
	s.bet(dave, st.MatchID, bob, "10")

	s.winRound(st.MatchID, alice, bob)
	s.svc.Disconnect(alice)

	final, err := s.svc.MatchState(st.MatchID)
	require.NoError(t, err)
	assert.Equal(t, bob, final.Winner)
	assert.Equal(t, alice, final.Forfeit)

	assert.Equal(t, "90.00", s.balance(carol))
	assert.Equal(t, "109.40", s.balance(dave))
	assert.Equal(t, "0.60", s.balance("house"))
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	_, _, err := s.svc.Authenticate(context.Background(), "  ")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestErrorCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("%w: 250.00", wager.ErrInsufficientFunds), "insufficient_funds"},
		{fmt.Errorf("%w: m1", arena.ErrMatchNotFound), "match_not_found"},
		{pit.ErrRateLimited, "rate_limited"},
		{fmt.Errorf("%w: bob", pit.ErrAmbiguousTarget), "ambiguous_target"},
		{ErrNotAuthenticated, "not_authenticated"},
		{fmt.Errorf("%w: %w", wager.ErrSettlementFailed, errors.New("db gone")), "settlement_failed"},
		{errors.New("boom"), internalError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, errorCode(tt.err), tt.err.Error())
	}
}
