package pit

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Pool separates synthetic demo participants from real ones so real-money
// fights only pair real agents.
type Pool string

const (
	LivePool Pool = "live"
	DemoPool Pool = "demo"
)

// QueueEntry is a participant waiting for an opponent.
type QueueEntry struct {
	ParticipantID string    `json:"participantId"`
	Rating        int       `json:"rating"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// Enqueue puts a member in their pool's queue. Queueing twice keeps the
// original position. When two or more are waiting the two longest-waiting
// are removed and returned as a pairing.
func (p *Pit) Enqueue(id string, rating int) (*Pairing, error) {
	return p.enqueue(QueueEntry{ParticipantID: id, Rating: rating})
}

// Requeue restores an entry taken by a pairing that could not start. The
// entry keeps its original JoinedAt, so it goes back ahead of anyone who
// queued after it. It pairs the same way Enqueue does.
func (p *Pit) Requeue(e QueueEntry) (*Pairing, error) {
	return p.enqueue(e)
}

func (p *Pit) enqueue(e QueueEntry) (*Pairing, error) {
	p.mu.Lock()
	m, ok := p.members[e.ParticipantID]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotMember, e.ParticipantID)
	}
	if e.JoinedAt.IsZero() {
		e.JoinedAt = p.clock.Now()
	}
	pool := poolOf(m)
	q := p.queues[pool]
	queued := slices.ContainsFunc(q, func(x QueueEntry) bool { return x.ParticipantID == e.ParticipantID })
	if !queued {
		i := sort.Search(len(q), func(i int) bool { return q[i].JoinedAt.After(e.JoinedAt) })
		q = slices.Insert(q, i, e)
	}

	var pair *Pairing
	if len(q) >= 2 {
		pair = &Pairing{
			P1:      q[0].ParticipantID,
			P2:      q[1].ParticipantID,
			Wager:   decimal.Zero,
			Source:  "queue:" + string(pool),
			Entries: []QueueEntry{q[0], q[1]},
		}
		q = q[2:]
	}
	p.queues[pool] = q
	depth := len(q)
	p.mu.Unlock()

	if !queued {
		p.publish(Queued, e.ParticipantID, QueueEntry{ParticipantID: e.ParticipantID, Rating: e.Rating})
	}
	if pair != nil {
		p.logger.Info("Match found", "p1", pair.P1, "p2", pair.P2, "pool", pool, "remaining", depth)
		p.publish(MatchFound, "", *pair)
	}
	return pair, nil
}

// Dequeue removes a member from whichever queue they are in.
func (p *Pit) Dequeue(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeQueuedLocked(id)
}

// Queue returns a copy of a pool's queue, longest-waiting first.
func (p *Pit) Queue(pool Pool) []QueueEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]QueueEntry(nil), p.queues[pool]...)
}

func (p *Pit) removeQueuedLocked(id string) bool {
	for pool, q := range p.queues {
		for i, e := range q {
			if e.ParticipantID == id {
				p.queues[pool] = append(q[:i:i], q[i+1:]...)
				return true
			}
		}
	}
	return false
}

func poolOf(m *Member) Pool {
	if m.Synthetic {
		return DemoPool
	}
	return LivePool
}
