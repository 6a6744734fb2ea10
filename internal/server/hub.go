package server

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/pitfight/internal/arena"
	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/events"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/protocol"
	"github.com/lox/pitfight/internal/wager"
)

// Hub tracks authenticated connections and turns bus events into outbound
// messages. A participant has at most one live connection.
type Hub struct {
	clock  quartz.Clock
	logger *log.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewHub creates an empty hub.
func NewHub(clock quartz.Clock, logger *log.Logger) *Hub {
	return &Hub{
		clock:  clock,
		logger: logger.WithPrefix("hub"),
		conns:  make(map[string]*Connection),
	}
}

// Register binds a participant to c, returning the connection it replaced.
func (h *Hub) Register(participantID string, c *Connection) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.conns[participantID]
	h.conns[participantID] = c
	h.logger.Debug("Registered", "participant", participantID, "total", len(h.conns))
	if old == c {
		return nil
	}
	return old
}

// Unregister removes the binding only if it still points at c.
func (h *Hub) Unregister(participantID string, c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[participantID] != c {
		return false
	}
	delete(h.conns, participantID)
	h.logger.Debug("Unregistered", "participant", participantID, "total", len(h.conns))
	return true
}

// Len is the number of authenticated connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Send delivers a message to one participant, if connected.
func (h *Hub) Send(participantID string, msg *protocol.Message) {
	h.mu.RLock()
	c := h.conns[participantID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	if err := c.SendMessage(msg); err != nil {
		h.logger.Debug("Failed to send message", "participant", participantID, "type", msg.Type, "error", err)
	}
}

// broadcast sends msg to everyone in the pit and to the extra participants,
// once each.
func (h *Hub) broadcast(msg *protocol.Message, extra ...string) {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.conns))
	seen := make(map[*Connection]bool, len(extra))
	for _, id := range extra {
		if c := h.conns[id]; c != nil && !seen[c] {
			seen[c] = true
			targets = append(targets, c)
		}
	}
	for _, c := range h.conns {
		if !seen[c] && c.InPit() {
			seen[c] = true
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.SendMessage(msg); err != nil {
			h.logger.Debug("Failed to broadcast", "participant", c.Participant(), "type", msg.Type, "error", err)
		}
	}
}

// OnEvent implements events.Subscriber.
func (h *Hub) OnEvent(e events.Event) {
	switch ev := e.(type) {
	case arena.MatchCreated:
		h.toMatch(ev.State, protocol.MessageTypeMatchCreated, protocol.MatchCreatedData{State: ev.State, Wager: ev.Wager})
	case arena.MatchUpdated:
		h.toMatch(ev.State, protocol.MessageTypeMatchUpdate, protocol.MatchUpdateData{State: ev.State, Exchange: ev.Exchange})
	case arena.ExchangeRequested:
		msg := h.message(protocol.MessageTypeExchangeRequest, protocol.ExchangeRequestData{
			State:    ev.State,
			Deadline: ev.Deadline,
			Actions:  combat.Actions(),
		})
		if msg == nil {
			return
		}
		for _, f := range ev.State.Fighters {
			h.Send(f.ParticipantID, msg)
		}
	case arena.RoundEnded:
		h.toMatch(ev.State, protocol.MessageTypeRoundEnd, protocol.RoundEndData{State: ev.State, Result: ev.Result})
	case arena.MatchEnded:
		h.toMatch(ev.State, protocol.MessageTypeMatchEnd, protocol.MatchEndData{WinnerID: ev.Winner, Draw: ev.Draw, State: ev.State})
	case pit.Event:
		msg := h.message(protocol.MessageTypePitEvent, protocol.PitEventData{Kind: ev.Type, Payload: ev.Payload})
		if msg == nil {
			return
		}
		if ev.Recipient != "" {
			h.Send(ev.Recipient, msg)
			return
		}
		h.broadcast(msg)
	case wager.BetPlaced:
		if msg := h.message(protocol.MessageTypeBetPlaced, protocol.BetPlacedData{Bet: ev.Bet, Pool: ev.Pool}); msg != nil {
			h.broadcast(msg, ev.Bet.BettorID)
		}
	case wager.BetSettled:
		if msg := h.message(protocol.MessageTypeBetSettled, protocol.BetSettledData{Result: ev.Result}); msg != nil {
			h.broadcast(msg, bettors(ev.Result.Payouts)...)
		}
	case wager.PoolVoided:
		if msg := h.message(protocol.MessageTypePoolVoided, protocol.PoolVoidedData{MatchID: ev.MatchID, Refunded: ev.Refunded}); msg != nil {
			h.broadcast(msg, bettors(ev.Refunded)...)
		}
	}
}

func (h *Hub) toMatch(st match.State, t protocol.MessageType, data any) {
	msg := h.message(t, data)
	if msg == nil {
		return
	}
	h.broadcast(msg, st.Fighters[0].ParticipantID, st.Fighters[1].ParticipantID)
}

func (h *Hub) message(t protocol.MessageType, data any) *protocol.Message {
	msg, err := protocol.NewMessage(t, data, h.clock.Now())
	if err != nil {
		h.logger.Error("Failed to encode message", "type", t, "error", err)
		return nil
	}
	return msg
}

func bettors(payouts []wager.Payout) []string {
	out := make([]string, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, p.BettorID)
	}
	return out
}
