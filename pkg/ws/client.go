// Package ws is the live transport: one websocket per participant,
// registered in the connection registry and fed by the dispatch router's
// fan-out.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/bytebufferpool"

	"supportchat/pkg/logger"
	"supportchat/pkg/models"
)

const (
	// writeWait bounds a single socket write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read
	// side gives up; pings go out a little more often.
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// sendBuffer is the per-connection event buffer. A full buffer means
	// the receiver is too slow and events are dropped (messages stay
	// durable in the store).
	sendBuffer = 256
)

// client is one live websocket connection. It satisfies registry.Handle:
// Enqueue never blocks, so fan-out can run inside a session's critical
// section without network I/O holding the lock.
type client struct {
	participant string
	role        models.Role
	conn        *websocket.Conn

	send chan models.Event

	once   sync.Once
	done   chan struct{}
	reason string
}

func newClient(participant string, role models.Role, conn *websocket.Conn) *client {
	return &client{
		participant: participant,
		role:        role,
		conn:        conn,
		send:        make(chan models.Event, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Enqueue hands an event to the write pump. Reports false when the
// connection is closing or the buffer is full.
func (c *client) Enqueue(ev models.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close asks the write pump to send a close frame and stop.
func (c *client) Close(reason string) {
	c.once.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

// writePump drains the send buffer to the socket and keeps the connection
// alive with pings. It owns all writes to the socket.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, c.reason)
			_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
			return

		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			buf := bytebufferpool.Get()
			err := json.NewEncoder(buf).Encode(ev)
			if err == nil {
				err = c.conn.WriteMessage(websocket.TextMessage, buf.B)
			}
			bytebufferpool.Put(buf)
			if err != nil {
				logger.Debug("ws_write_failed", "participant", c.participant, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
