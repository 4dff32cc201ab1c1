// Package ws carries real-time notification pushes over WebSocket.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
)

const (
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 4096
	sendBuffer     = 64
)

var (
	ErrConnClosed   = errors.New("ws: connection closed")
	ErrSlowConsumer = errors.New("ws: send buffer full")
)

// Frame is the message written to the client for every push.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Conn is one client connection. Pushes are queued and written by
// WritePump so Send never blocks the dispatcher.
type Conn struct {
	ID     string
	UserID string

	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func newConn(conn *websocket.Conn, userID string, writeWait, pongWait time.Duration) *Conn {
	return &Conn{
		ID:         uuid.New().String(),
		UserID:     userID,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		writeWait:  writeWait,
		pongWait:   pongWait,
		pingPeriod: (pongWait * 9) / 10,
	}
}

// Send queues {"event": event, "data": payload} for the client.
func (c *Conn) Send(event string, payload any) error {
	msg, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSlowConsumer
	}
}

// Close stops the pumps. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// ReadPump discards inbound messages and keeps the read deadline moving on
// every pong. onPong runs after each pong. It returns when the peer goes
// away or the connection is closed.
func (c *Conn) ReadPump(onPong func()) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait)) //nolint:errcheck
		if onPong != nil {
			onPong()
		}
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Str("conn_id", c.ID).Str("user_id", c.UserID).Msg("ws: read error")
			}
			return
		}
	}
}

// WritePump writes queued pushes and pings until Close is called or a write
// fails.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)) //nolint:errcheck
			c.conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
