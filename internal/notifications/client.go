package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"tally/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	sendBufferSize = 256
)

var dropNotice = []byte(`{"type":"messages-dropped","payload":{"reason":"buffer_full"}}`)

// Client is the middleman between one websocket connection and the
// registry. It implements Channel.
type Client struct {
	Username string

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// IncomingHandler receives every message read from the peer.
	IncomingHandler func(*Client, []byte)

	log *observability.WSLogger
}

// NewClient creates a Client for username over conn.
func NewClient(conn *websocket.Conn, username string) *Client {
	return &Client{
		Username: username,
		Conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		log:      observability.NewWSLogger("events"),
	}
}

// Send queues message for the peer. A full buffer drops the message and
// tries to tell the peer so it can re-fetch.
func (c *Client) Send(message []byte) bool {
	select {
	case <-c.done:
		observability.WebSocketBackpressureDrops.WithLabelValues("events", "closed").Inc()
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues("events", "full").Inc()
		c.log.LogError(context.Background(), c.Username, errors.New("send buffer full"), "backpressure")
		select {
		case c.send <- dropNotice:
		default:
		}
		return false
	}
}

// Close stops the write pump, which sends a close frame to the peer.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump pumps messages from the websocket connection to IncomingHandler
// until the peer goes away. onClose runs once the loop ends.
func (c *Client) ReadPump(onClose func(*Client)) {
	defer func() {
		if onClose != nil {
			onClose(c)
		}
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.LogError(context.Background(), c.Username, err, "read")
			}
			return
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps queued messages to the websocket connection and pings
// the peer. It returns once the client is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "connection replaced or server shutting down"))
			return
		}
	}
}

// Run drives both pumps and returns once the connection is finished, so
// the caller's handler does not return while the write pump still uses
// the connection.
func (c *Client) Run(onClose func(*Client)) {
	written := make(chan struct{})
	go func() {
		defer close(written)
		c.WritePump()
	}()
	c.ReadPump(onClose)
	<-written
}
