package gameid

import (
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pitfight/internal/randutil"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	g := NewGenerator(quartz.NewReal(), nil)

	for _, p := range []Prefix{Match, Bet, Callout} {
		id := g.New(p)
		require.True(t, strings.HasPrefix(id, string(p)+"_"), id)
		require.NoError(t, Validate(p, id))
	}
}

func TestGenerateUnique(t *testing.T) {
	t.Parallel()
	g := NewGenerator(quartz.NewReal(), nil)

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.New(Match)
		require.False(t, ids[id], "duplicate ID generated: %s", id)
		ids[id] = true
	}
}

func TestGenerateTimeSorted(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	g := NewGenerator(clock, randutil.New(7))

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, g.New(Bet))
		clock.Advance(time.Millisecond)
	}

	for i := 1; i < len(ids); i++ {
		assert.Negative(t, strings.Compare(ids[i-1], ids[i]), "IDs not sorted: %s >= %s", ids[i-1], ids[i])
	}
}

func TestGenerateDeterministic(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)

	a := NewGenerator(clock, randutil.New(42)).New(Match)
	b := NewGenerator(clock, randutil.New(42)).New(Match)
	assert.Equal(t, a, b)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid ID", "match_01h5n0et5q6mt3v7ms1234abcd", false},
		{"wrong prefix", "bet_01h5n0et5q6mt3v7ms1234abcd", true},
		{"too short", "match_01h5n0et5q6mt3v7ms123", true},
		{"too long", "match_01h5n0et5q6mt3v7ms1234abcdef", true},
		{"first char too high", "match_81h5n0et5q6mt3v7ms1234abcd", true},
		{"invalid character", "match_01h5n0et5q6mt3v7ms1234abcu", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(Match, tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
