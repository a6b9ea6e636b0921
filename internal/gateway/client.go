package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/porter/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second // must be shorter than pongWait
	sendQueueDepth = 64
)

// wsClient is one connected events-feed subscriber.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan protocol.Envelope
	once sync.Once
	done chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan protocol.Envelope, sendQueueDepth),
		done: make(chan struct{}),
	}
}

// Send queues an envelope for delivery. A slow client drops events rather
// than backing up the broadcaster.
func (c *wsClient) Send(env protocol.Envelope) {
	select {
	case <-c.done:
	case c.send <- env:
	default:
		slog.Debug("ops client send queue full, dropping event",
			"id", c.id, "event", env.Event)
	}
}

// Run services the connection until it closes. The feed is one-way: the
// read side only consumes control frames and detects disconnect.
func (c *wsClient) Run() {
	go c.readPump()
	c.writePump()
}

func (c *wsClient) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close tears the connection down; safe to call more than once.
func (c *wsClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
