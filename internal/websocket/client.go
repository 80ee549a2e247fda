package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"nexacore/realtime/internal/registry"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client binds one WebSocket connection to its registry session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *registry.Session
	logger  *logrus.Entry
}

// heartbeatMessage is the only inbound payload clients send after
// establishment.
type heartbeatMessage struct {
	Action string `json:"action"`
}

// readPump consumes inbound frames for liveness until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.teardown(registry.ReasonExplicitClose)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.session.Touch()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			return
		}

		// Any inbound frame counts as liveness.
		c.session.Touch()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var hb heartbeatMessage
		if err := json.Unmarshal(message, &hb); err != nil {
			c.logger.WithError(err).Warn("Invalid client message")
			continue
		}
		if hb.Action != "heartbeat" {
			c.logger.WithField("action", hb.Action).Debug("Ignoring unknown client action")
		}
	}
}

// writePump drains the session's outbound queue to the connection and keeps
// the peer alive with pings. It owns all writes after establishment.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		if c.hub.metrics != nil {
			c.hub.metrics.ActiveSessions.WithLabelValues(c.session.TenantID).Dec()
		}
	}()

	for {
		select {
		case ev := <-c.session.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.teardown(registry.ReasonExplicitClose)
				return
			}
			if c.hub.metrics != nil {
				c.hub.metrics.DeliveryLag.WithLabelValues(ev.Channel).Observe(time.Since(ev.EmittedAt).Seconds())
			}

		case <-c.session.Done():
			// Flush anything still queued before reporting the close reason.
			for {
				select {
				case ev := <-c.session.Events():
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(ev); err != nil {
						return
					}
				default:
					reason := c.session.Reason()
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(closeCode(reason), string(reason)))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.teardown(registry.ReasonExplicitClose)
				return
			}
		}
	}
}

// sendControl writes a control message directly. Only safe before the
// pumps start.
func (c *Client) sendControl(data map[string]interface{}) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(data); err != nil {
		c.logger.WithError(err).Warn("Failed to write control message")
	}
}

// teardown releases the registry slot; idempotent across reader, writer and
// sweep races.
func (c *Client) teardown(reason registry.CloseReason) {
	c.hub.registry.Unregister(c.session, reason)
}

// closeCode maps a teardown reason onto the wire close code.
func closeCode(reason registry.CloseReason) int {
	switch reason {
	case registry.ReasonHeartbeatTimeout:
		return 4001
	case registry.ReasonSlowConsumer:
		return 4002
	case registry.ReasonKicked:
		return 4003
	case registry.ReasonShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}
