package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/protocol"
	"github.com/lox/pitfight/internal/wager"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func startServer(t *testing.T) (*stack, *httptest.Server) {
	t.Helper()
	s := newStack(t)
	srv := httptest.NewServer(NewServer(s.svc, s.hub, testLogger()).Handler())
	t.Cleanup(func() {
		s.hub.Close()
		srv.Close()
	})
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

// login dials, authenticates and joins the pit.
func login(t *testing.T, srv *httptest.Server, name string) *wsClient {
	t.Helper()
	c := dial(t, srv)
	resp := c.call(protocol.MessageTypeAuth, protocol.AuthData{Token: name})
	require.Equal(t, protocol.MessageTypeAuthResponse, resp.Type)
	var auth protocol.AuthResponseData
	require.NoError(t, resp.Decode(&auth))
	require.True(t, auth.Success, auth.Error)

	resp = c.call(protocol.MessageTypeJoinPit, protocol.JoinPitData{})
	require.Equal(t, protocol.MessageTypeAck, resp.Type)
	return c
}

func (c *wsClient) send(t protocol.MessageType, data any) string {
	c.t.Helper()
	c.seq++
	msg, err := protocol.NewMessage(t, data, time.Now())
	require.NoError(c.t, err)
	msg.RequestID = strconv.Itoa(c.seq)
	require.NoError(c.t, c.conn.WriteJSON(msg))
	return msg.RequestID
}

func (c *wsClient) read() *protocol.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg protocol.Message
	require.NoError(c.t, c.conn.ReadJSON(&msg))
	return &msg
}

// call sends a request and returns the message answering it.
func (c *wsClient) call(t protocol.MessageType, data any) *protocol.Message {
	c.t.Helper()
	id := c.send(t, data)
	for {
		if msg := c.read(); msg.RequestID == id {
			return msg
		}
	}
}

// expect skips messages until one of type t arrives.
func (c *wsClient) expect(t protocol.MessageType) *protocol.Message {
	c.t.Helper()
	for {
		if msg := c.read(); msg.Type == t {
			return msg
		}
	}
}

func (c *wsClient) expectPit(kind pit.EventKind, payload any) {
	c.t.Helper()
	for {
		msg := c.expect(protocol.MessageTypePitEvent)
		var ev struct {
			Kind    pit.EventKind   `json:"kind"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(c.t, msg.Decode(&ev))
		if ev.Kind == kind {
			require.NoError(c.t, json.Unmarshal(ev.Payload, payload))
			return
		}
	}
}

func errCode(t *testing.T, msg *protocol.Message) string {
	t.Helper()
	require.Equal(t, protocol.MessageTypeError, msg.Type)
	var data protocol.ErrorData
	require.NoError(t, msg.Decode(&data))
	return data.Code
}

func TestHealth(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
}

func TestRequestsRequireAuth(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)
	c := dial(t, srv)

	assert.Equal(t, "not_authenticated", errCode(t, c.call(protocol.MessageTypeJoinPit, protocol.JoinPitData{})))

	resp := c.call(protocol.MessageTypeAuth, protocol.AuthData{Token: ""})
	var auth protocol.AuthResponseData
	require.NoError(t, resp.Decode(&auth))
	assert.False(t, auth.Success)
	assert.Equal(t, "invalid_token", auth.Error)

	resp = c.call(protocol.MessageTypeAuth, protocol.AuthData{Token: "alice"})
	require.NoError(t, resp.Decode(&auth))
	require.True(t, auth.Success)
	assert.Equal(t, "dev:alice", auth.ParticipantID)
	assert.True(t, auth.Balance.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, "already_authenticated", errCode(t, c.call(protocol.MessageTypeAuth, protocol.AuthData{Token: "bob"})))
	assert.Equal(t, "unknown_message_type", errCode(t, c.call("dance", nil)))
}

func TestChatReachesPit(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)
	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")

	resp := bob.call(protocol.MessageTypeChat, protocol.ChatData{Text: "anyone?"})
	require.Equal(t, protocol.MessageTypeAck, resp.Type)

	var chat pit.ChatMessage
	alice.expectPit(pit.Chatted, &chat)
	assert.Equal(t, "dev:bob", chat.FromID)
	assert.Equal(t, "anyone?", chat.Text)

	assert.Equal(t, "rate_limited", errCode(t, bob.call(protocol.MessageTypeChat, protocol.ChatData{Text: "again"})))
}

func TestCalloutMatchAndForfeitOverWebSocket(t *testing.T) {
	t.Parallel()
	s, srv := startServer(t)
	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")
	carol := login(t, srv, "carol")

	resp := alice.call(protocol.MessageTypeCallout, protocol.CalloutData{Target: "bob", Wager: decimal.NewFromInt(5), Message: "you and me"})
	require.Equal(t, protocol.MessageTypeAck, resp.Type)

	var c pit.Callout
	bob.expectPit(pit.CalloutReceived, &c)
	assert.Equal(t, "dev:alice", c.FromID)

	resp = bob.call(protocol.MessageTypeAcceptCallout, protocol.CalloutRefData{ID: c.ID})
	require.Equal(t, protocol.MessageTypeMatchUpdate, resp.Type)
	var started protocol.MatchUpdateData
	require.NoError(t, resp.Decode(&started))
	matchID := started.State.MatchID
	require.NotEmpty(t, matchID)

	var created protocol.MatchCreatedData
	require.NoError(t, carol.expect(protocol.MessageTypeMatchCreated).Decode(&created))
	assert.Equal(t, matchID, created.State.MatchID)

	var req protocol.ExchangeRequestData
	require.NoError(t, alice.expect(protocol.MessageTypeExchangeRequest).Decode(&req))
	assert.NotEmpty(t, req.Actions)

	resp = carol.call(protocol.MessageTypePlaceBet, protocol.PlaceBetData{MatchID: matchID, BackedID: "dev:bob", Amount: decimal.NewFromInt(10)})
	require.Equal(t, protocol.MessageTypeAck, resp.Type)
	resp = carol.call(protocol.MessageTypePlaceBet, protocol.PlaceBetData{MatchID: matchID, BackedID: "dev:bob", Amount: decimal.NewFromInt(500)})
	assert.Equal(t, "insufficient_funds", errCode(t, resp))

	httpResp, err := http.Get(srv.URL + "/matches/" + matchID + "/pool")
	require.NoError(t, err)
	var pool wager.PoolSummary
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&pool))
	_ = httpResp.Body.Close()
	assert.Equal(t, wager.PoolOpen, pool.Status)
	assert.Equal(t, "10.00", money(pool.TotalPool))

	resp = bob.call(protocol.MessageTypeSubmitAction, protocol.SubmitActionData{MatchID: matchID, Action: "headbutt"})
	assert.Equal(t, "invalid_action", errCode(t, resp))

	// Alice walks away before a round is decided.
	require.NoError(t, alice.conn.Close())

	var end protocol.MatchEndData
	require.NoError(t, carol.expect(protocol.MessageTypeMatchEnd).Decode(&end))
	assert.Equal(t, "dev:bob", end.WinnerID)
	assert.Equal(t, "dev:alice", end.State.Forfeit)

	var voided protocol.PoolVoidedData
	require.NoError(t, carol.expect(protocol.MessageTypePoolVoided).Decode(&voided))
	require.Len(t, voided.Refunded, 1)

	resp = carol.call(protocol.MessageTypeBalance, nil)
	var bal protocol.BalanceData
	require.NoError(t, resp.Decode(&bal))
	assert.Equal(t, "100.00", money(bal.Balance))

	assert.Equal(t, 2, s.hub.Len())
}

func TestMatchEndpointNotFound(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)

	resp, err := http.Get(srv.URL + "/matches/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "match_not_found", body["code"])
}

func TestSecondLoginReplacesConnection(t *testing.T) {
	t.Parallel()
	s, srv := startServer(t)
	first := login(t, srv, "alice")
	_ = login(t, srv, "alice")

	require.NoError(t, first.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := first.conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 1, s.hub.Len())

	members := s.svc.Members()
	require.Len(t, members, 1, "the takeover keeps the participant in the pit")
	assert.Equal(t, "dev:alice", members[0].ID)
}
