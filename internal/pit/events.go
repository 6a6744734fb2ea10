package pit

import (
	"time"

	"github.com/lox/pitfight/internal/events"
)

// KindPitEvent is the bus kind for every lobby event.
const KindPitEvent events.Kind = "pit_event"

// EventKind says what happened in the pit.
type EventKind string

const (
	Joined           EventKind = "join"
	Left             EventKind = "leave"
	Chatted          EventKind = "chat"
	CalloutCreated   EventKind = "callout_created"
	CalloutReceived  EventKind = "callout_received"
	CalloutAccepted  EventKind = "callout_accepted"
	CalloutDeclined  EventKind = "callout_declined"
	CalloutExpired   EventKind = "callout_expired"
	CalloutWithdrawn EventKind = "callout_withdrawn"
	Queued           EventKind = "queued"
	MatchFound       EventKind = "match_found"
)

// Event is published for every lobby change. An empty Recipient means the
// event is for everyone in the pit.
type Event struct {
	Type      EventKind `json:"kind"`
	Recipient string    `json:"-"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

func (e Event) Kind() events.Kind    { return KindPitEvent }
func (e Event) Timestamp() time.Time { return e.At }
