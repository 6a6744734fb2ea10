package pit

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pitfight/internal/events"
)

func newTestPit(t *testing.T) (*Pit, *quartz.Mock, *events.Recorder) {
	t.Helper()
	clock := quartz.NewMock(t)
	rec := events.NewRecorder()
	bus := events.NewBus()
	bus.Subscribe(rec)
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	return New(DefaultConfig(), clock, bus, logger), clock, rec
}

func pitEvents(rec *events.Recorder) []Event {
	var out []Event
	for _, e := range rec.Events() {
		if pe, ok := e.(Event); ok {
			out = append(out, pe)
		}
	}
	return out
}

func types(rec *events.Recorder) []EventKind {
	var out []EventKind
	for _, e := range pitEvents(rec) {
		out = append(out, e.Type)
	}
	return out
}

func TestJoinLeave(t *testing.T) {
	t.Parallel()
	p, _, rec := newTestPit(t)

	p.Join("a1", "alice", false)
	p.Join("a1", "alice", false)
	p.Join("b1", "", false)

	members := p.Members()
	require.Len(t, members, 2)
	assert.Equal(t, "b1", members[1].Username)
	assert.True(t, p.Present("a1"))

	assert.True(t, p.Leave("a1"))
	assert.False(t, p.Leave("a1"))
	assert.False(t, p.Present("a1"))
	assert.Equal(t, []EventKind{Joined, Joined, Left}, types(rec))
}

func TestChat(t *testing.T) {
	t.Parallel()
	p, clock, rec := newTestPit(t)
	p.Join("a1", "alice", false)

	msg, err := p.Chat("a1", strings.Repeat("é", 300))
	require.NoError(t, err)
	assert.Equal(t, 280, len([]rune(msg.Text)))

	_, err = p.Chat("a1", "again")
	assert.ErrorIs(t, err, ErrRateLimited)

	clock.Advance(2 * time.Second)
	_, err = p.Chat("a1", "again")
	assert.NoError(t, err)

	_, err = p.Chat("nobody", "hi")
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = p.Chat("a1", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	assert.Equal(t, []EventKind{Joined, Chatted, Chatted}, types(rec))
}

func TestCreateCallout(t *testing.T) {
	t.Parallel()
	p, clock, rec := newTestPit(t)
	p.Join("a1", "alice", false)
	p.Join("b1", "bob", false)

	_, err := p.CreateCallout("a1", "carol", decimal.NewFromInt(5), "")
	assert.ErrorIs(t, err, ErrTargetAbsent)
	_, err = p.CreateCallout("a1", "alice", decimal.NewFromInt(5), "")
	assert.ErrorIs(t, err, ErrSelfCallout)

	c, err := p.CreateCallout("a1", "bob", decimal.NewFromInt(5), "fight me")
	require.NoError(t, err)
	assert.Equal(t, "b1", c.TargetID)
	assert.Equal(t, clock.Now().Add(60*time.Second), c.ExpiresAt)
	assert.True(t, strings.HasPrefix(c.ID, "callout_"))

	_, err = p.CreateCallout("a1", "bob", decimal.NewFromInt(5), "again")
	assert.ErrorIs(t, err, ErrRateLimited)

	evs := pitEvents(rec)
	last := evs[len(evs)-2:]
	assert.Equal(t, CalloutReceived, last[0].Type)
	assert.Equal(t, "b1", last[0].Recipient)
	assert.Equal(t, CalloutCreated, last[1].Type)
	assert.Empty(t, last[1].Recipient)
}

func TestCalloutTargetByIDOrUniqueUsername(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPit(t)
	p.Join("a1", "alice", false)
	p.Join("b1", "bob", false)
	p.Join("b2", "bob", false)

	_, err := p.CreateCallout("a1", "bob", decimal.Zero, "")
	assert.ErrorIs(t, err, ErrAmbiguousTarget)

	c, err := p.CreateCallout("a1", "b2", decimal.Zero, "")
	require.NoError(t, err)
	assert.Equal(t, "b2", c.TargetID)

	assert.True(t, p.Leave("b1"))
	c, err = p.CreateCallout("b2", "alice", decimal.Zero, "")
	require.NoError(t, err)
	assert.Equal(t, "a1", c.TargetID)
}

func TestAcceptCallout(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPit(t)
	p.Join("a1", "alice", false)
	p.Join("b1", "bob", false)
	c, err := p.CreateCallout("a1", "bob", decimal.NewFromInt(10), "")
	require.NoError(t, err)

	_, err = p.AcceptCallout(c.ID, "a1")
	assert.ErrorIs(t, err, ErrNotYours)
	_, err = p.AcceptCallout("callout_missing", "b1")
	assert.ErrorIs(t, err, ErrNotFound)

	pair, err := p.AcceptCallout(c.ID, "b1")
	require.NoError(t, err)
	assert.Equal(t, Pairing{P1: "a1", P2: "b1", Wager: decimal.NewFromInt(10), Source: "callout"}, pair)

	_, err = p.AcceptCallout(c.ID, "b1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, p.Callouts(""))
}

func TestAcceptExpiredCallout(t *testing.T) {
	t.Parallel()
	p, clock, _ := newTestPit(t)
	p.Join("a1", "alice", false)
	p.Join("b1", "bob", false)
	c, err := p.CreateCallout("a1", "bob", decimal.Zero, "")
	require.NoError(t, err)

	clock.Advance(60 * time.Second)
	_, err = p.AcceptCallout(c.ID, "b1")
	assert.ErrorIs(t, err, ErrExpired)
	assert.Empty(t, p.Callouts(""))
}

func TestDeclineCallout(t *testing.T) {
	t.Parallel()
	p, _, rec := newTestPit(t)
	p.Join("a1", "alice", false)
	p.Join("b1", "bob", false)
	c, err := p.CreateCallout("a1", "bob", decimal.Zero, "")
	require.NoError(t, err)

	assert.ErrorIs(t, p.DeclineCallout(c.ID, "a1"), ErrNotYours)
	require.NoError(t, p.DeclineCallout(c.ID, "b1"))

	evs := pitEvents(rec)
	declined := evs[len(evs)-1]
	assert.Equal(t, CalloutDeclined, declined.Type)
	assert.Equal(t, "a1", declined.Recipient)
}

func TestLeaveDropsCallouts(t *testing.T) {
	t.Parallel()
	p, clock, _ := newTestPit(t)
	p.Join("a1", "alice", false)
	p.Join("b1", "bob", false)
	p.Join("c1", "carol", false)

	_, err := p.CreateCallout("a1", "bob", decimal.Zero, "")
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	_, err = p.CreateCallout("c1", "bob", decimal.Zero, "")
	require.NoError(t, err)
	require.Len(t, p.Callouts("b1"), 2)

	p.Leave("a1")
	assert.Len(t, p.Callouts("b1"), 1)
	p.Leave("b1")
	assert.Empty(t, p.Callouts(""))
}

func TestCleanExpiredIsIdempotent(t *testing.T) {
	t.Parallel()
	p, clock, _ := newTestPit(t)
	p.Join("a1", "alice", false)
	p.Join("b1", "bob", false)
	p.Join("c1", "carol", false)

	_, err := p.CreateCallout("a1", "bob", decimal.Zero, "")
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = p.CreateCallout("c1", "bob", decimal.Zero, "")
	require.NoError(t, err)

	assert.Equal(t, 0, p.CleanExpired())
	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, p.CleanExpired())
	assert.Equal(t, 0, p.CleanExpired())
	assert.Len(t, p.Callouts(""), 1)
}

func TestEnqueuePairsFIFO(t *testing.T) {
	t.Parallel()
	p, _, rec := newTestPit(t)
	for _, id := range []string{"a", "b", "c"} {
		p.Join(id, id, false)
	}

	pair, err := p.Enqueue("a", 1000)
	require.NoError(t, err)
	assert.Nil(t, pair)

	pair, err = p.Enqueue("a", 1000)
	require.NoError(t, err)
	assert.Nil(t, pair, "enqueue is idempotent")
	assert.Len(t, p.Queue(LivePool), 1)

	pair, err = p.Enqueue("b", 1000)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "a", pair.P1)
	assert.Equal(t, "b", pair.P2)
	assert.Empty(t, p.Queue(LivePool))

	pair, err = p.Enqueue("c", 1000)
	require.NoError(t, err)
	assert.Nil(t, pair)

	_, err = p.Enqueue("ghost", 0)
	assert.ErrorIs(t, err, ErrNotMember)

	kinds := types(rec)
	assert.Contains(t, kinds, MatchFound)
}

func TestRequeueKeepsPosition(t *testing.T) {
	t.Parallel()
	p, clock, _ := newTestPit(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		p.Join(id, id, false)
	}

	_, err := p.Enqueue("a", 1200)
	require.NoError(t, err)
	clock.Advance(time.Second)
	pair, err := p.Enqueue("b", 1000)
	require.NoError(t, err)
	require.NotNil(t, pair)
	require.Len(t, pair.Entries, 2)
	first := pair.Entries[0]
	assert.Equal(t, "a", first.ParticipantID)

	clock.Advance(time.Second)
	_, err = p.Enqueue("c", 1000)
	require.NoError(t, err)

	pair, err = p.Requeue(first)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "a", pair.P1, "the restored entry is the longest waiting")
	assert.Equal(t, "c", pair.P2)

	_, err = p.Requeue(QueueEntry{ParticipantID: "ghost"})
	assert.ErrorIs(t, err, ErrNotMember)

	pair, err = p.Requeue(QueueEntry{ParticipantID: "d", Rating: 900, JoinedAt: clock.Now()})
	require.NoError(t, err)
	assert.Nil(t, pair)
	q := p.Queue(LivePool)
	require.Len(t, q, 1)
	assert.Equal(t, 900, q[0].Rating)
}

func TestEnqueueSeparatesPools(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPit(t)
	p.Join("live", "live", false)
	p.Join("demo", "demo", true)

	pair, err := p.Enqueue("live", 0)
	require.NoError(t, err)
	assert.Nil(t, pair)
	pair, err = p.Enqueue("demo", 0)
	require.NoError(t, err)
	assert.Nil(t, pair)

	assert.Len(t, p.Queue(LivePool), 1)
	assert.Len(t, p.Queue(DemoPool), 1)
}

func TestDequeueAndLeave(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPit(t)
	p.Join("a", "a", false)
	p.Join("b", "b", false)

	_, err := p.Enqueue("a", 0)
	require.NoError(t, err)
	assert.True(t, p.Dequeue("a"))
	assert.False(t, p.Dequeue("a"))

	_, err = p.Enqueue("b", 0)
	require.NoError(t, err)
	p.Leave("b")
	assert.Empty(t, p.Queue(LivePool))
}
