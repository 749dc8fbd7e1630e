package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// sendBufferSize bounds the per-connection outbound queue. A client
	// that cannot drain this many events loses the overflow rather than
	// stalling fan-out for its peers.
	sendBufferSize = 64
	writeWait      = 5 * time.Second
)

// Client is one authenticated websocket connection. The identity tag is set
// at handshake and never changes for the connection's life.
type Client struct {
	ID     string
	UserID string

	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// joined is the set of workspace ids this connection subscribes to.
	// Guarded by the hub's mutex.
	joined map[string]struct{}
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		joined: map[string]struct{}{},
	}
}

// TrySend queues payload for delivery without blocking. It reports false when
// the connection is closed or its buffer is full; the event is dropped.
func (c *Client) TrySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) SendEnvelope(env Envelope) bool {
	b, err := json.Marshal(env)
	if err != nil {
		return false
	}
	return c.TrySend(b)
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// WritePump drains the outbound queue onto the websocket until the client is
// closed or a write fails. Run in its own goroutine per connection.
func (c *Client) WritePump() {
	if c.conn == nil {
		return
	}
	defer c.Close()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
