// Package pit is the pre-fight lobby: who is connected, rate-limited chat,
// direct callouts with a TTL, and FIFO matchmaking queues. It only pairs
// participants; starting the match is the caller's job.
package pit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/events"
	"github.com/lox/pitfight/internal/gameid"
)

var (
	ErrRateLimited     = errors.New("pit: rate limited")
	ErrNotFound        = errors.New("pit: callout not found")
	ErrExpired         = errors.New("pit: callout expired")
	ErrNotYours        = errors.New("pit: callout addressed to someone else")
	ErrTargetAbsent    = errors.New("pit: target not in the pit")
	ErrAmbiguousTarget = errors.New("pit: username is shared, call out by id")
	ErrSelfCallout     = errors.New("pit: cannot call out yourself")
	ErrNotMember       = errors.New("pit: not in the pit")
	ErrEmptyMessage    = errors.New("pit: empty message")
)

// Config holds lobby limits.
type Config struct {
	ChatCooldown    time.Duration
	ChatMaxLen      int
	CalloutCooldown time.Duration
	CalloutTTL      time.Duration
}

// DefaultConfig returns production limits.
func DefaultConfig() Config {
	return Config{
		ChatCooldown:    2 * time.Second,
		ChatMaxLen:      280,
		CalloutCooldown: 10 * time.Second,
		CalloutTTL:      60 * time.Second,
	}
}

// Member is a connected participant.
type Member struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Synthetic bool      `json:"synthetic,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`

	lastChat    time.Time
	lastCallout time.Time
}

// Callout is a direct challenge. It is never mutated after creation.
type Callout struct {
	ID        string          `json:"id"`
	FromID    string          `json:"fromId"`
	TargetID  string          `json:"targetId"`
	Wager     decimal.Decimal `json:"wager"`
	Message   string          `json:"message,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Pairing is two participants that should be put in a match.
type Pairing struct {
	P1     string          `json:"p1"`
	P2     string          `json:"p2"`
	Wager  decimal.Decimal `json:"wager"`
	Source string          `json:"source"`

	// Entries holds the queue entries a queue pairing consumed.
	Entries []QueueEntry `json:"-"`
}

// Pit is safe for concurrent use.
type Pit struct {
	cfg    Config
	clock  quartz.Clock
	logger *log.Logger
	bus    events.Publisher
	ids    *gameid.Generator

	mu       sync.Mutex
	members  map[string]*Member
	callouts map[string]Callout
	queues   map[Pool][]QueueEntry
}

// New creates an empty pit.
func New(cfg Config, clock quartz.Clock, bus events.Publisher, logger *log.Logger) *Pit {
	if bus == nil {
		bus = events.Discard
	}
	return &Pit{
		cfg:      cfg,
		clock:    clock,
		logger:   logger.WithPrefix("pit"),
		bus:      bus,
		ids:      gameid.NewGenerator(clock, nil),
		members:  make(map[string]*Member),
		callouts: make(map[string]Callout),
		queues:   make(map[Pool][]QueueEntry),
	}
}

// Join adds a member. Joining twice is a no-op.
func (p *Pit) Join(id, username string, synthetic bool) Member {
	if username == "" {
		username = id
	}

	p.mu.Lock()
	if m, ok := p.members[id]; ok {
		out := *m
		p.mu.Unlock()
		return out
	}
	m := &Member{ID: id, Username: username, Synthetic: synthetic, JoinedAt: p.clock.Now()}
	p.members[id] = m
	out := *m
	p.mu.Unlock()

	p.logger.Info("Joined", "member", id, "username", username, "synthetic", synthetic)
	p.publish(Joined, "", out)
	return out
}

// Leave removes a member along with their queue entry and every callout
// they sent or received.
func (p *Pit) Leave(id string) bool {
	p.mu.Lock()
	m, ok := p.members[id]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.members, id)
	p.removeQueuedLocked(id)

	var dropped []Callout
	for cid, c := range p.callouts {
		if c.FromID == id || c.TargetID == id {
			delete(p.callouts, cid)
			dropped = append(dropped, c)
		}
	}
	out := *m
	p.mu.Unlock()

	p.logger.Info("Left", "member", id, "callouts_dropped", len(dropped))
	for _, c := range dropped {
		p.publish(CalloutWithdrawn, "", c)
	}
	p.publish(Left, "", out)
	return true
}

// Members lists everyone present, oldest first.
func (p *Pit) Members() []Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Member, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Present reports whether id is in the pit.
func (p *Pit) Present(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.members[id]
	return ok
}

// ChatMessage is a broadcast chat line.
type ChatMessage struct {
	FromID   string    `json:"fromId"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// Chat broadcasts text from a member, truncated to the configured length.
func (p *Pit) Chat(id, text string) (ChatMessage, error) {
	if text == "" {
		return ChatMessage{}, ErrEmptyMessage
	}

	p.mu.Lock()
	m, ok := p.members[id]
	if !ok {
		p.mu.Unlock()
		return ChatMessage{}, fmt.Errorf("%w: %s", ErrNotMember, id)
	}
	now := p.clock.Now()
	if !m.lastChat.IsZero() && now.Sub(m.lastChat) < p.cfg.ChatCooldown {
		p.mu.Unlock()
		return ChatMessage{}, fmt.Errorf("%w: chat", ErrRateLimited)
	}
	m.lastChat = now
	msg := ChatMessage{FromID: id, Username: m.Username, Text: truncate(text, p.cfg.ChatMaxLen), SentAt: now}
	p.mu.Unlock()

	p.publish(Chatted, "", msg)
	return msg, nil
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func (p *Pit) publish(kind EventKind, recipient string, payload any) {
	p.bus.Publish(Event{Type: kind, Recipient: recipient, Payload: payload, At: p.clock.Now()})
}
