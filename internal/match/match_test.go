package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pitfight/internal/combat"
)

func newTestMatch(t *testing.T) *Match {
	t.Helper()
	m, err := New("m1", "alice", "bob", DefaultRules())
	require.NoError(t, err)
	return m
}

// exchange submits one action per side and returns the resolved result.
func exchange(t *testing.T, m *Match, a, b combat.Action) *combat.ExchangeResult {
	t.Helper()
	res, err := m.SubmitAction("alice", a)
	require.NoError(t, err)
	require.Nil(t, res)
	res, err = m.SubmitAction("bob", b)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// knockOut has alice heavy-punch a taunting bob until the round ends.
func knockOut(t *testing.T, m *Match, winner string) int {
	t.Helper()
	round := m.Round()
	n := 0
	for m.Status() == AwaitingActions && m.Round() == round {
		if winner == "alice" {
			exchange(t, m, combat.HeavyPunch, combat.Taunt)
		} else {
			exchange(t, m, combat.Taunt, combat.HeavyPunch)
		}
		n++
		require.LessOrEqual(t, n, DefaultRules().MaxExchanges)
	}
	return n
}

func TestNewMatch(t *testing.T) {
	t.Parallel()

	m := newTestMatch(t)
	s := m.Snapshot()
	assert.Equal(t, AwaitingActions, s.Status)
	assert.Equal(t, 1, s.Round)
	assert.Equal(t, 1, s.Exchange)
	for _, f := range s.Fighters {
		assert.Equal(t, combat.MaxHP, f.HP)
		assert.Equal(t, combat.MaxStamina, f.Stamina)
		assert.Zero(t, f.RoundWins)
	}

	_, err := New("m2", "alice", "alice", DefaultRules())
	require.Error(t, err)
	_, err = New("m3", "alice", "", DefaultRules())
	require.Error(t, err)
}

func TestSubmitActionResolvesOnSecondSubmission(t *testing.T) {
	t.Parallel()

	m := newTestMatch(t)

	res, err := m.SubmitAction("alice", combat.LightPunch)
	require.NoError(t, err)
	assert.Nil(t, res, "first submission waits for the opponent")
	assert.Equal(t, []string{"bob"}, m.Waiting())

	res, err = m.SubmitAction("bob", combat.Taunt)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 8, res.DamageToB)

	s := m.Snapshot()
	assert.Equal(t, 2, s.Exchange)
	assert.Equal(t, 92, s.Fighters[1].HP)
	assert.Equal(t, [2]bool{false, false}, s.Submitted, "pending slots cleared")
	require.Len(t, s.History, 1)
	assert.Equal(t, *res, s.History[0])
}

func TestSubmitActionErrors(t *testing.T) {
	t.Parallel()

	m := newTestMatch(t)

	_, err := m.SubmitAction("carol", combat.BlockHigh)
	require.ErrorIs(t, err, ErrNotAParticipant)

	_, err = m.SubmitAction("alice", "headbutt")
	require.ErrorIs(t, err, combat.ErrInvalidAction)

	_, err = m.SubmitAction("alice", combat.BlockHigh)
	require.NoError(t, err)
	_, err = m.SubmitAction("alice", combat.LightPunch)
	require.ErrorIs(t, err, ErrDuplicateAction)

	require.ErrorIs(t, m.NextRound(), ErrInvalidState)
	_, _, err = m.Winner()
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStaminaClampsAtMax(t *testing.T) {
	t.Parallel()

	m := newTestMatch(t)
	exchange(t, m, combat.Taunt, combat.BlockHigh)
	assert.Equal(t, combat.MaxStamina, m.Snapshot().Fighters[0].Stamina)
}

func TestKnockOutEndsRound(t *testing.T) {
	t.Parallel()

	m := newTestMatch(t)
	n := knockOut(t, m, "alice")

	assert.Equal(t, 7, n)
	assert.Equal(t, RoundOver, m.Status())

	s := m.Snapshot()
	assert.Equal(t, 0, s.Fighters[1].HP, "HP floors at zero")
	assert.Equal(t, 1, s.Fighters[0].RoundWins)
	require.Len(t, s.Rounds, 1)
	assert.Equal(t, RoundResult{Round: 1, Winner: "alice", Exchanges: 7, KO: true}, s.Rounds[0])

	_, err := m.SubmitAction("alice", combat.LightPunch)
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, m.NextRound())
	s = m.Snapshot()
	assert.Equal(t, AwaitingActions, s.Status)
	assert.Equal(t, 2, s.Round)
	assert.Equal(t, 1, s.Exchange)
	assert.Equal(t, combat.MaxHP, s.Fighters[1].HP)
	assert.Equal(t, combat.MaxStamina, s.Fighters[0].Stamina)
	assert.Equal(t, 1, s.Fighters[0].RoundWins, "round wins carry over")
}

func TestExchangeCapDecidesOnHP(t *testing.T) {
	t.Parallel()

	m := newTestMatch(t)
	exchange(t, m, combat.LightPunch, combat.Taunt)
	for m.Status() == AwaitingActions {
		exchange(t, m, combat.BlockHigh, combat.BlockLow)
	}

	assert.Equal(t, RoundOver, m.Status())
	s := m.Snapshot()
	assert.Equal(t, DefaultRules().MaxExchanges, s.Exchange)
	assert.Len(t, s.History, DefaultRules().MaxExchanges)
	assert.Equal(t, RoundResult{Round: 1, Winner: "alice", Exchanges: 20}, s.Rounds[0])
}

func TestBestOfThree(t *testing.T) {
	t.Parallel()

	t.Run("two nil", func(t *testing.T) {
		m := newTestMatch(t)
		knockOut(t, m, "bob")
		require.Equal(t, RoundOver, m.Status())
		require.NoError(t, m.NextRound())
		knockOut(t, m, "bob")

		require.Equal(t, MatchOver, m.Status())
		winner, ok, err := m.Winner()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "bob", winner)
		assert.Equal(t, "bob", m.Snapshot().Winner)
	})

	t.Run("two one", func(t *testing.T) {
		m := newTestMatch(t)
		roundOvers := 0
		for _, w := range []string{"alice", "bob", "alice"} {
			knockOut(t, m, w)
			if m.Status() == RoundOver {
				roundOvers++
				require.NoError(t, m.NextRound())
			}
		}

		assert.Equal(t, 2, roundOvers)
		require.Equal(t, MatchOver, m.Status())
		winner, ok, err := m.Winner()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "alice", winner)
		require.ErrorIs(t, m.NextRound(), ErrInvalidState)
	})
}

func TestDrawnRoundsEndInDraw(t *testing.T) {
	t.Parallel()

	m := newTestMatch(t)
	for m.Status() != MatchOver {
		for m.Status() == AwaitingActions {
			exchange(t, m, combat.BlockHigh, combat.BlockHigh)
		}
		if m.Status() == RoundOver {
			require.NoError(t, m.NextRound())
		}
	}

	s := m.Snapshot()
	assert.Equal(t, 3, s.Round)
	for _, rr := range s.Rounds {
		assert.Empty(t, rr.Winner)
	}
	winner, ok, err := m.Winner()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, winner)
}

func TestFillDefaults(t *testing.T) {
	t.Parallel()

	m := newTestMatch(t)
	_, err := m.SubmitAction("alice", combat.HeavyPunch)
	require.NoError(t, err)

	res, idle, err := m.FillDefaults(combat.DefaultAction)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, []string{"bob"}, idle)
	assert.Equal(t, combat.HeavyPunch, res.ActionA)
	assert.Equal(t, combat.DefaultAction, res.ActionB)
	assert.Equal(t, 9, res.DamageToB)
	assert.Equal(t, 2, m.Exchange())
}

func TestForfeit(t *testing.T) {
	t.Parallel()

	m := newTestMatch(t)
	require.ErrorIs(t, m.Forfeit("carol"), ErrNotAParticipant)
	require.NoError(t, m.Forfeit("alice"))

	winner, ok, err := m.Winner()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bob", winner)
	require.ErrorIs(t, m.Forfeit("bob"), ErrInvalidState)
}
