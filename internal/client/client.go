// Package client is a WebSocket client for the pit server, used by the demo
// bot and the terminal UI.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 54 * time.Second
	requestTimeout = 10 * time.Second
)

var ErrClosed = errors.New("client: connection closed")

// ServerError is an error message returned by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EventHandler is a function that handles incoming events
type EventHandler func(*protocol.Message)

// Client represents a WebSocket client for the pit
type Client struct {
	serverURL string
	conn      *websocket.Conn
	send      chan *protocol.Message
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu            sync.Mutex
	seq           int
	pending       map[string]chan *protocol.Message
	eventHandlers map[protocol.MessageType][]EventHandler
	participantID string
}

// NewClient creates a new WebSocket client
func NewClient(serverURL string, logger *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		serverURL:     serverURL,
		send:          make(chan *protocol.Message, 256),
		logger:        logger.WithPrefix("client"),
		ctx:           ctx,
		cancel:        cancel,
		pending:       make(map[string]chan *protocol.Message),
		eventHandlers: make(map[protocol.MessageType][]EventHandler),
	}
}

// Connect establishes a WebSocket connection to the server
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	c.logger.Info("Connecting to server", "url", u.String())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	go c.readPump()
	go c.writePump()
	return nil
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the WebSocket connection
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			err = c.conn.Close()
		}
	})
	return err
}

// On registers a handler for unsolicited messages of type t. Handlers run on
// the read goroutine and must not block.
func (c *Client) On(t protocol.MessageType, h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandlers[t] = append(c.eventHandlers[t], h)
}

// ParticipantID is the id assigned at authentication.
func (c *Client) ParticipantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID
}

// Call sends a request and waits for the message carrying its request id.
// An error reply is returned as *ServerError.
func (c *Client) Call(ctx context.Context, t protocol.MessageType, data any) (*protocol.Message, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}
	msg, err := protocol.NewMessage(t, data, time.Now())
	if err != nil {
		return nil, err
	}
	reply := make(chan *protocol.Message, 1)

	c.mu.Lock()
	c.seq++
	msg.RequestID = strconv.Itoa(c.seq)
	c.pending[msg.RequestID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
	}()

	select {
	case c.send <- msg:
	case <-c.ctx.Done():
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	select {
	case resp := <-reply:
		if resp.Type == protocol.MessageTypeError {
			var e protocol.ErrorData
			if err := resp.Decode(&e); err != nil {
				return nil, err
			}
			return nil, &ServerError{Code: e.Code, Message: e.Message}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s reply: %w", t, ctx.Err())
	case <-c.ctx.Done():
		return nil, ErrClosed
	}
}

// Auth authenticates and returns the server's answer.
func (c *Client) Auth(ctx context.Context, token string) (protocol.AuthResponseData, error) {
	var data protocol.AuthResponseData
	resp, err := c.Call(ctx, protocol.MessageTypeAuth, protocol.AuthData{Token: token})
	if err != nil {
		return data, err
	}
	if err := resp.Decode(&data); err != nil {
		return data, err
	}
	if !data.Success {
		return data, &ServerError{Code: data.Error, Message: "authentication failed"}
	}
	c.mu.Lock()
	c.participantID = data.ParticipantID
	c.mu.Unlock()
	return data, nil
}

func (c *Client) JoinPit(ctx context.Context, synthetic bool) error {
	_, err := c.Call(ctx, protocol.MessageTypeJoinPit, protocol.JoinPitData{Synthetic: synthetic})
	return err
}

func (c *Client) LeavePit(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.MessageTypeLeavePit, nil)
	return err
}

func (c *Client) Chat(ctx context.Context, text string) error {
	_, err := c.Call(ctx, protocol.MessageTypeChat, protocol.ChatData{Text: text})
	return err
}

func (c *Client) Callout(ctx context.Context, target string, stake decimal.Decimal, message string) error {
	_, err := c.Call(ctx, protocol.MessageTypeCallout, protocol.CalloutData{Target: target, Wager: stake, Message: message})
	return err
}

// AcceptCallout accepts a callout and returns the new match.
func (c *Client) AcceptCallout(ctx context.Context, calloutID string) (match.State, error) {
	resp, err := c.Call(ctx, protocol.MessageTypeAcceptCallout, protocol.CalloutRefData{ID: calloutID})
	if err != nil {
		return match.State{}, err
	}
	var data protocol.MatchUpdateData
	err = resp.Decode(&data)
	return data.State, err
}

func (c *Client) DeclineCallout(ctx context.Context, calloutID string) error {
	_, err := c.Call(ctx, protocol.MessageTypeDeclineCallout, protocol.CalloutRefData{ID: calloutID})
	return err
}

// Queue enters matchmaking. The state is non-nil when a match started
// straight away.
func (c *Client) Queue(ctx context.Context, rating int) (*match.State, error) {
	resp, err := c.Call(ctx, protocol.MessageTypeQueue, protocol.QueueData{Rating: rating})
	if err != nil || resp.Type != protocol.MessageTypeMatchUpdate {
		return nil, err
	}
	var data protocol.MatchUpdateData
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	return &data.State, nil
}

func (c *Client) Dequeue(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.MessageTypeDequeue, nil)
	return err
}

func (c *Client) SubmitAction(ctx context.Context, matchID string, action combat.Action) error {
	_, err := c.Call(ctx, protocol.MessageTypeSubmitAction, protocol.SubmitActionData{MatchID: matchID, Action: action})
	return err
}

func (c *Client) PlaceBet(ctx context.Context, matchID, backedID string, amount decimal.Decimal) error {
	_, err := c.Call(ctx, protocol.MessageTypePlaceBet, protocol.PlaceBetData{MatchID: matchID, BackedID: backedID, Amount: amount})
	return err
}

func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	resp, err := c.Call(ctx, protocol.MessageTypeBalance, nil)
	if err != nil {
		return decimal.Zero, err
	}
	var data protocol.BalanceData
	err = resp.Decode(&data)
	return data.Balance, err
}

// readPump handles incoming messages from the server
func (c *Client) readPump() {
	defer func() { _ = c.Close() }()

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		c.logger.Debug("Received message", "type", msg.Type, "request", msg.RequestID)
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *protocol.Message) {
	c.mu.Lock()
	reply, isReply := c.pending[msg.RequestID]
	handlers := c.eventHandlers[msg.Type]
	c.mu.Unlock()

	if msg.RequestID != "" && isReply {
		reply <- msg
		return
	}
	if len(handlers) == 0 {
		c.logger.Debug("No handler for message type", "type", msg.Type)
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

// writePump handles outgoing messages to the server
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
