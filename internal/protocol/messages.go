package protocol

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/wager"
)

// Message represents the base WebSocket message structure
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a message stamped with at.
func NewMessage(messageType MessageType, data any, at time.Time) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: at,
	}, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Client → Server Messages

type AuthData struct {
	Token string `json:"token"`
}

type JoinPitData struct {
	Synthetic bool `json:"synthetic,omitempty"`
}

type ChatData struct {
	Text string `json:"text"`
}

type CalloutData struct {
	Target  string          `json:"target"`
	Wager   decimal.Decimal `json:"wager"`
	Message string          `json:"message,omitempty"`
}

type CalloutRefData struct {
	ID string `json:"id"`
}

type QueueData struct {
	Rating int `json:"rating,omitempty"`
}

type SubmitActionData struct {
	MatchID string        `json:"matchId"`
	Action  combat.Action `json:"action"`
}

type PlaceBetData struct {
	MatchID  string          `json:"matchId"`
	BackedID string          `json:"backedId"`
	Amount   decimal.Decimal `json:"amount"`
}

// Server → Client Messages

type AuthResponseData struct {
	Success       bool            `json:"success"`
	ParticipantID string          `json:"participantId,omitempty"`
	Username      string          `json:"username,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	Error         string          `json:"error,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AckData struct {
	For MessageType `json:"for"`
}

type MatchCreatedData struct {
	State match.State     `json:"state"`
	Wager decimal.Decimal `json:"wager"`
}

type MatchUpdateData struct {
	State    match.State            `json:"state"`
	Exchange *combat.ExchangeResult `json:"exchange,omitempty"`
}

type ExchangeRequestData struct {
	State    match.State     `json:"state"`
	Deadline time.Time       `json:"deadline"`
	Actions  []combat.Action `json:"actions"`
}

type RoundEndData struct {
	State  match.State       `json:"state"`
	Result match.RoundResult `json:"result"`
}

type MatchEndData struct {
	WinnerID string      `json:"winnerId,omitempty"`
	Draw     bool        `json:"draw"`
	State    match.State `json:"state"`
}

type PitEventData struct {
	Kind    pit.EventKind `json:"kind"`
	Payload any           `json:"payload"`
}

type BetPlacedData struct {
	Bet  wager.Bet         `json:"bet"`
	Pool wager.PoolSummary `json:"pool"`
}

type BetSettledData struct {
	Result wager.SettleResult `json:"result"`
}

type PoolVoidedData struct {
	MatchID  string         `json:"matchId"`
	Refunded []wager.Payout `json:"refunded"`
}

type BalanceData struct {
	ParticipantID string          `json:"participantId"`
	Balance       decimal.Decimal `json:"balance"`
}
