// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tourforge/tourforge/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// clientIDCounter generates unique, monotonically increasing client
// ids so broadcast and shutdown order is deterministic.
var clientIDCounter atomic.Uint64

// Envelope is one inbound frame: a tagged action with its payload.
// Unknown or undecodable envelopes are rejected here at the transport
// boundary and never reach the command processor.
type Envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Handler consumes decoded envelopes for one client. Handle is called
// from the client's read pump, one envelope at a time, so commands
// from a single connection are applied strictly in send order.
type Handler interface {
	Handle(ctx context.Context, c *Client, env Envelope)

	// Disconnected is called once when the connection drops, before
	// the client unregisters from the hub.
	Disconnected(c *Client)
}

// Client is the middleman between one websocket connection and the
// rest of the server. Session state (username, active tour) is only
// touched from the read pump goroutine, so it needs no lock.
type Client struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	send    chan Message
	handler Handler
	limiter *rate.Limiter

	// auth state, owned by the read pump.
	username  string
	sessionID string
	tourID    int64 // 0 = not editing

	// snapshotSent tracks tours whose tour_data snapshot has already
	// gone out on this connection.
	snapshotSent map[int64]bool
}

// NewClient wraps an upgraded connection. limit is the inbound command
// budget; a nil limiter disables rate limiting.
func NewClient(hub *Hub, conn *websocket.Conn, handler Handler, limiter *rate.Limiter) *Client {
	return &Client{
		id:           clientIDCounter.Add(1),
		hub:          hub,
		conn:         conn,
		send:         make(chan Message, 256),
		handler:      handler,
		limiter:      limiter,
		snapshotSent: make(map[int64]bool),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 { return c.id }

// Username returns the authenticated account name, "" before login.
func (c *Client) Username() string { return c.username }

// SessionID returns the auth session id, "" before login.
func (c *Client) SessionID() string { return c.sessionID }

// TourID returns the tour being edited, 0 when none.
func (c *Client) TourID() int64 { return c.tourID }

// SetAuthenticated records a successful login or restore.
func (c *Client) SetAuthenticated(username, sessionID string) {
	c.username = username
	c.sessionID = sessionID
}

// ClearAuthenticated drops the login state after logout.
func (c *Client) ClearAuthenticated() {
	c.username = ""
	c.sessionID = ""
	c.tourID = 0
	c.snapshotSent = make(map[int64]bool)
}

// SetTour records the tour under edit.
func (c *Client) SetTour(tourID int64) { c.tourID = tourID }

// MarkSnapshotSent records that tour_data went out for a tour and
// reports whether it had been sent before on this connection.
func (c *Client) MarkSnapshotSent(tourID int64) bool {
	if c.snapshotSent[tourID] {
		return true
	}
	c.snapshotSent[tourID] = true
	return false
}

// Close tears down the underlying connection. The read pump exits on
// the next read, which runs the disconnect path.
func (c *Client) Close() {
	_ = c.conn.Close()
}

// Send queues a message for the client. Messages are dropped when the
// queue is full; the write pump will notice a hopeless connection via
// its deadlines.
func (c *Client) Send(msg Message) {
	select {
	case c.send <- msg:
	default:
		logging.Warn().Uint64("client_id", c.id).Str("type", msg.Type).
			Msg("client send queue full, dropping message")
	}
}

// readPump pumps frames from the websocket connection to the handler.
func (c *Client) readPump() {
	defer func() {
		c.handler.Disconnected(c)
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			break
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.Send(Message{Type: "error", Data: map[string]string{"message": "rate limit exceeded"}})
			continue
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Action == "" {
			c.Send(Message{Type: "error", Data: map[string]string{"message": "malformed message"}})
			continue
		}

		if env.Action == MessageTypePing || env.Action == "heartbeat" {
			c.Send(Message{Type: MessageTypePong})
			continue
		}

		c.handler.Handle(context.Background(), c, env)
	}
}

// writePump pumps messages from the send queue to the connection and
// keeps the connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
