package handlers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// client is one participant WebSocket connection. Outbound frames go through
// the buffered send channel; the write pump owns all socket writes.
type client struct {
	key    string
	peerID string
	roomID string
	conn   *websocket.Conn
	send   chan []byte
	gw     *Gateway

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, gw *Gateway) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, 256),
		gw:   gw,
	}
}

// Send marshals and enqueues a frame without blocking; a full buffer drops
// the frame and logs, matching the broadcast semantics of the room fan-out.
func (c *client) Send(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.gw.log.Error("marshal frame failed", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.gw.log.Warn("send buffer full, frame dropped",
			zap.String("peerId", c.peerID),
			zap.String("roomId", c.roomID))
	}
}

// Close tears the socket down; the read pump unwinds and runs disconnect
// cleanup.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

func (c *client) readPump() {
	defer c.gw.handleDisconnect(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.gw.log.Warn("websocket read error",
					zap.String("peerId", c.peerID), zap.Error(err))
			}
			return
		}
		c.gw.dispatch(c, raw)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
