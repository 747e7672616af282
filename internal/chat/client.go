package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// Client is one socket connection. The queue is closed exactly once, either
// on disconnect or when it overflows.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	// authUserID is the user the upgrade request was authenticated as.
	authUserID int64

	mu     sync.Mutex
	send   chan []byte
	closed bool
	userID int64
}

// NewClient wraps conn. conn may be nil in tests that only look at the queue.
func NewClient(hub *Hub, conn *websocket.Conn, authUserID int64) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		id:         uuid.NewString(),
		authUserID: authUserID,
		send:       make(chan []byte, sendQueueSize),
	}
}

func (c *Client) ID() string { return c.id }

// UserID is the identified user, zero before setup.
func (c *Client) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) identify(userID int64) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Send queues payload without blocking. A saturated queue closes the
// connection and reports false, as does a closed one.
func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugf("Connection (id: %s) read error: %v", c.id, err)
			}
			break
		}
		c.hub.Dispatch(c, msg)
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
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
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
