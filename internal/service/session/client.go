package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn abstracts a websocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents one connected room member.
type Client struct {
	UserID        uuid.UUID
	Role          string
	AppointmentID uuid.UUID
	Send          chan []byte

	conn      Conn
	hub       *Hub
	closeOnce sync.Once
}

// Close shuts the underlying connection; the read pump then unwinds and
// removes the client from its room.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// ReadPump consumes frames from the connection until it drops. An abrupt
// disconnect takes the same path as an explicit leave: the room slot is
// released and the remaining member is notified.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Leave(c)
		c.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.HandleMessage(ctx, c, message)
	}
}

// WritePump drains the send channel onto the connection. The channel is
// closed by the hub when the client leaves its room.
func (c *Client) WritePump() {
	defer c.Close()

	for message := range c.Send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
