// Package protocol defines the JSON messages exchanged over the WebSocket.
package protocol

// MessageType represents a WebSocket message type with type safety
type MessageType string

// WebSocket message type constants
const (
	// Client to server messages
	MessageTypeAuth           MessageType = "auth"
	MessageTypeJoinPit        MessageType = "join_pit"
	MessageTypeLeavePit       MessageType = "leave_pit"
	MessageTypeChat           MessageType = "chat"
	MessageTypeCallout        MessageType = "callout"
	MessageTypeAcceptCallout  MessageType = "accept_callout"
	MessageTypeDeclineCallout MessageType = "decline_callout"
	MessageTypeQueue          MessageType = "queue"
	MessageTypeDequeue        MessageType = "dequeue"
	MessageTypeSubmitAction   MessageType = "submit_action"
	MessageTypePlaceBet       MessageType = "place_bet"
	MessageTypeBalance        MessageType = "balance"

	// Server to client messages
	MessageTypeAuthResponse    MessageType = "auth_response"
	MessageTypeError           MessageType = "error"
	MessageTypeMatchCreated    MessageType = "match_created"
	MessageTypeMatchUpdate     MessageType = "match_update"
	MessageTypeExchangeRequest MessageType = "exchange_request"
	MessageTypeRoundEnd        MessageType = "round_end"
	MessageTypeMatchEnd        MessageType = "match_end"
	MessageTypePitEvent        MessageType = "pit_event"
	MessageTypeBetPlaced       MessageType = "bet_placed"
	MessageTypeBetSettled      MessageType = "bet_settled"
	MessageTypePoolVoided      MessageType = "pool_voided"
	MessageTypeAck             MessageType = "ack"
)

// String returns the string representation of the message type
func (mt MessageType) String() string {
	return string(mt)
}
