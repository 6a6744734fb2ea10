package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/pitfight/internal/auth"
	"github.com/lox/pitfight/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Outbound messages buffered before the peer is considered too slow
	sendBuffer = 256

	authTimeout = 5 * time.Second
)

var ErrConnectionClosed = websocket.ErrCloseSent

// Connection represents a WebSocket connection to a participant
type Connection struct {
	conn    *websocket.Conn
	send    chan *protocol.Message
	service *Service
	hub     *Hub
	logger  *log.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.RWMutex
	identity *auth.Identity
	inPit    bool

	closeOnce sync.Once
}

// NewConnection wraps an upgraded socket.
func NewConnection(conn *websocket.Conn, service *Service, hub *Hub, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:    conn,
		send:    make(chan *protocol.Message, sendBuffer),
		service: service,
		hub:     hub,
		logger:  logger.WithPrefix("conn"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins handling the connection
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Done is closed once the connection shuts down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues a message for the client without blocking. A client
// that lets its buffer fill is disconnected.
func (c *Connection) SendMessage(msg *protocol.Message) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("Connection send buffer full, closing connection", "participant", c.Participant())
		_ = c.Close()
		return ErrConnectionClosed
	}
}

// Participant returns the authenticated participant id, if any.
func (c *Connection) Participant() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return ""
	}
	return c.identity.ParticipantID
}

// InPit reports whether the participant has joined the pit over this
// connection.
func (c *Connection) InPit() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inPit
}

func (c *Connection) setInPit(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inPit = v
}

func (c *Connection) authenticated() (*auth.Identity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return nil, ErrNotAuthenticated
	}
	return c.identity, nil
}

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// cleanup runs once the read side is gone. A participant whose binding was
// taken over by a newer connection is left alone.
func (c *Connection) cleanup() {
	_ = c.Close()
	id := c.Participant()
	if id == "" {
		return
	}
	if c.hub.Unregister(id, c) {
		c.logger.Info("Participant disconnected", "participant", id)
		c.service.Disconnect(id)
	}
}

// handleMessage processes incoming messages from the client
func (c *Connection) handleMessage(msg *protocol.Message) {
	c.logger.Debug("Received message", "type", msg.Type, "participant", c.Participant())

	if msg.Type == protocol.MessageTypeAuth {
		var data protocol.AuthData
		if !c.decode(msg, &data) {
			return
		}
		c.handleAuth(msg, data)
		return
	}

	id, err := c.authenticated()
	if err != nil {
		c.replyError(msg, err)
		return
	}

	switch msg.Type {
	case protocol.MessageTypeJoinPit:
		var data protocol.JoinPitData
		if c.decode(msg, &data) {
			c.setInPit(true)
			c.service.JoinPit(id, data.Synthetic)
			c.ack(msg)
		}

	case protocol.MessageTypeLeavePit:
		c.service.LeavePit(id.ParticipantID)
		c.setInPit(false)
		c.ack(msg)

	case protocol.MessageTypeChat:
		var data protocol.ChatData
		if c.decode(msg, &data) {
			c.respond(msg, c.service.Chat(id.ParticipantID, data.Text))
		}

	case protocol.MessageTypeCallout:
		var data protocol.CalloutData
		if c.decode(msg, &data) {
			_, err := c.service.Callout(id.ParticipantID, data.Target, data.Wager, data.Message)
			c.respond(msg, err)
		}

	case protocol.MessageTypeAcceptCallout:
		var data protocol.CalloutRefData
		if c.decode(msg, &data) {
			st, err := c.service.AcceptCallout(c.ctx, id.ParticipantID, data.ID)
			if err != nil {
				c.replyError(msg, err)
				return
			}
			c.reply(msg, protocol.MessageTypeMatchUpdate, protocol.MatchUpdateData{State: st})
		}

	case protocol.MessageTypeDeclineCallout:
		var data protocol.CalloutRefData
		if c.decode(msg, &data) {
			c.respond(msg, c.service.DeclineCallout(id.ParticipantID, data.ID))
		}

	case protocol.MessageTypeQueue:
		var data protocol.QueueData
		if c.decode(msg, &data) {
			st, err := c.service.Queue(c.ctx, id.ParticipantID, data.Rating)
			switch {
			case err != nil:
				c.replyError(msg, err)
			case st != nil:
				c.reply(msg, protocol.MessageTypeMatchUpdate, protocol.MatchUpdateData{State: *st})
			default:
				c.ack(msg)
			}
		}

	case protocol.MessageTypeDequeue:
		c.service.Dequeue(id.ParticipantID)
		c.ack(msg)

	case protocol.MessageTypeSubmitAction:
		var data protocol.SubmitActionData
		if c.decode(msg, &data) {
			// The resolved exchange is delivered as a match_update broadcast.
			_, err := c.service.SubmitAction(id.ParticipantID, data.MatchID, data.Action)
			c.respond(msg, err)
		}

	case protocol.MessageTypePlaceBet:
		var data protocol.PlaceBetData
		if c.decode(msg, &data) {
			_, err := c.service.PlaceBet(c.ctx, id.ParticipantID, data.MatchID, data.BackedID, data.Amount)
			c.respond(msg, err)
		}

	case protocol.MessageTypeBalance:
		bal, err := c.service.Balance(c.ctx, id.ParticipantID)
		if err != nil {
			c.replyError(msg, err)
			return
		}
		c.reply(msg, protocol.MessageTypeBalance, protocol.BalanceData{ParticipantID: id.ParticipantID, Balance: bal})

	default:
		c.sendError(msg.RequestID, "unknown_message_type", "Unknown message type: "+msg.Type.String())
	}
}

func (c *Connection) handleAuth(msg *protocol.Message, data protocol.AuthData) {
	if c.Participant() != "" {
		c.replyError(msg, ErrAlreadyAuthenticated)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, authTimeout)
	defer cancel()
	id, bal, err := c.service.Authenticate(ctx, data.Token)
	if err != nil {
		c.logger.Info("Authentication failed", "error", err)
		c.reply(msg, protocol.MessageTypeAuthResponse, protocol.AuthResponseData{Error: errorCode(err)})
		return
	}

	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()

	if old := c.hub.Register(id.ParticipantID, c); old != nil {
		c.logger.Info("Replacing existing connection", "participant", id.ParticipantID)
		_ = old.Close()
	}

	c.logger.Info("Participant authenticated", "participant", id.ParticipantID, "username", id.Username)
	c.reply(msg, protocol.MessageTypeAuthResponse, protocol.AuthResponseData{
		Success:       true,
		ParticipantID: id.ParticipantID,
		Username:      id.Username,
		Balance:       bal,
	})
}

func (c *Connection) decode(msg *protocol.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		c.sendError(msg.RequestID, "invalid_message", "Failed to parse "+msg.Type.String()+" data")
		return false
	}
	return true
}

// respond acks msg or reports err.
func (c *Connection) respond(msg *protocol.Message, err error) {
	if err != nil {
		c.replyError(msg, err)
		return
	}
	c.ack(msg)
}

func (c *Connection) ack(msg *protocol.Message) {
	c.reply(msg, protocol.MessageTypeAck, protocol.AckData{For: msg.Type})
}

func (c *Connection) reply(req *protocol.Message, t protocol.MessageType, data any) {
	out, err := protocol.NewMessage(t, data, c.service.clock.Now())
	if err != nil {
		c.logger.Error("Failed to create message", "type", t, "error", err)
		return
	}
	out.RequestID = req.RequestID
	_ = c.SendMessage(out)
}

func (c *Connection) replyError(msg *protocol.Message, err error) {
	code := errorCode(err)
	if code == internalError {
		c.logger.Error("Request failed", "type", msg.Type, "participant", c.Participant(), "error", err)
	} else {
		c.logger.Debug("Request rejected", "type", msg.Type, "code", code, "error", err)
	}
	c.sendError(msg.RequestID, code, err.Error())
}

// sendError sends an error message to the client
func (c *Connection) sendError(requestID, code, message string) {
	out, err := protocol.NewMessage(protocol.MessageTypeError, protocol.ErrorData{Code: code, Message: message}, c.service.clock.Now())
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}
	out.RequestID = requestID
	if err := c.SendMessage(out); err != nil && !errors.Is(err, ErrConnectionClosed) {
		c.logger.Debug("Failed to send error", "error", err)
	}
}
