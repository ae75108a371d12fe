package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Client is one subscriber connected to a single job's status stream.
// Unlike the teacher's Client, which tracked a mutable per-connection
// subscription set, a Client here is bound to exactly one job id for its
// whole lifetime: subscriptions are chosen by which URL the client
// connected to (GET /status/{jobId}/stream), not by an in-band command
// protocol, since spec.md names no such protocol.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *Event

	id    string
	jobID string
}

// NewClient wraps an upgraded connection, already scoped to jobID.
func NewClient(hub *Hub, conn *websocket.Conn, jobID string) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan *Event, sendBufferSize),
		id:    uuid.NewString(),
		jobID: jobID,
	}
}

// Serve registers the client, runs its read and write pumps, and blocks
// until the connection closes. Call in its own goroutine per connection.
func (c *Client) Serve() {
	c.hub.Register(c)
	go c.readPump()
	c.writePump()
}

// readPump only drains the connection to notice client-initiated close;
// this stream is push-only, so any inbound message is discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
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
