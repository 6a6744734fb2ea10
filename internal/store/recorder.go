package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/lox/pitfight/internal/arena"
	"github.com/lox/pitfight/internal/events"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/wager"
)

// Recorder persists lifecycle events. It subscribes to the bus with a
// buffered queue so publishers never wait on the database; Run drains it.
type Recorder struct {
	db     Execer
	queue  *events.Queue
	logger *log.Logger
}

// NewRecorder creates a recorder with room for buffer pending events.
func NewRecorder(db Execer, buffer int, logger *log.Logger) *Recorder {
	return &Recorder{
		db:     db,
		queue:  events.NewQueue(buffer),
		logger: logger.WithPrefix("store"),
	}
}

// OnEvent queues e if it is a kind worth keeping.
func (r *Recorder) OnEvent(e events.Event) {
	switch e.Kind() {
	case arena.KindMatchCreated, arena.KindRoundEnd, arena.KindMatchEnd,
		wager.KindBetPlaced, wager.KindBetSettled, wager.KindPoolVoided:
		r.queue.OnEvent(e)
	}
}

// Dropped reports events lost to a full buffer.
func (r *Recorder) Dropped() uint64 { return r.queue.Dropped() }

// Run writes queued events until ctx is cancelled. A failed write is logged
// and skipped.
func (r *Recorder) Run(ctx context.Context) error {
	return r.queue.Run(ctx, func(e events.Event) {
		if err := r.Record(ctx, e); err != nil {
			r.logger.Error("Failed to record event", "kind", e.Kind(), "error", err)
		}
	})
}

// Record writes one event synchronously.
func (r *Recorder) Record(ctx context.Context, e events.Event) error {
	var matchID string
	var err error

	switch ev := e.(type) {
	case arena.MatchCreated:
		matchID = ev.State.MatchID
		_, err = r.db.Exec(ctx, `
			INSERT INTO matches(id, p1, p2, wager, status, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, matchID, ev.State.Fighters[0].ParticipantID, ev.State.Fighters[1].ParticipantID,
			ev.Wager.String(), string(ev.State.Status), ev.At)

	case arena.RoundEnded:
		matchID = ev.State.MatchID
		err = r.round(ctx, matchID, ev.Result, ev.State, ev.At)

	case arena.MatchEnded:
		matchID = ev.State.MatchID
		if n := len(ev.State.Rounds); n > 0 {
			if err = r.round(ctx, matchID, ev.State.Rounds[n-1], ev.State, ev.At); err != nil {
				break
			}
		}
		var state []byte
		if state, err = json.Marshal(ev.State); err != nil {
			break
		}
		_, err = r.db.Exec(ctx, `
			UPDATE matches
			   SET status = $2, winner = NULLIF($3, ''), forfeit = NULLIF($4, ''),
			       state = $5::jsonb, ended_at = $6
			 WHERE id = $1
		`, matchID, string(ev.State.Status), ev.Winner, ev.State.Forfeit, string(state), ev.At)

	case wager.BetPlaced:
		// The bet row itself is written by the ledger transaction.
		matchID = ev.Bet.MatchID

	case wager.BetSettled:
		matchID = ev.Result.MatchID
		res := ev.Result
		_, err = r.db.Exec(ctx, `
			INSERT INTO settlements(match_id, winner, refunded, total_pool, rake, residue, net_pool, settled_at)
			VALUES ($1, NULLIF($2, ''), $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8)
			ON CONFLICT (match_id) DO NOTHING
		`, matchID, res.WinnerID, res.Refunded, res.TotalPool.String(), res.Rake.String(),
			res.Residue.String(), res.NetPool.String(), ev.At)

	case wager.PoolVoided:
		matchID = ev.MatchID

	default:
		return fmt.Errorf("store: unexpected event %T", e)
	}
	if err != nil {
		return fmt.Errorf("store: %s: %w", e.Kind(), err)
	}
	return r.append(ctx, matchID, e)
}

func (r *Recorder) round(ctx context.Context, matchID string, res match.RoundResult, state match.State, at time.Time) error {
	snap, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO match_rounds(match_id, round, winner, exchanges, ko, snapshot, recorded_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6::jsonb, $7)
		ON CONFLICT (match_id, round) DO NOTHING
	`, matchID, res.Round, res.Winner, res.Exchanges, res.KO, string(snap), at)
	return err
}

func (r *Recorder) append(ctx context.Context, matchID string, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO events(id, kind, match_id, payload, created_at)
		VALUES ($1::uuid, $2, NULLIF($3, ''), $4::jsonb, $5)
	`, newID(), string(e.Kind()), matchID, string(payload), e.Timestamp())
	return err
}

func newID() string { return uuid.NewString() }
