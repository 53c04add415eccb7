package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/util"
)

const (
	sendBuffer     = 256
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	publishTimeout = 5 * time.Second
	maxFrameSize   = 64 << 10
)

// client is one WebSocket connection to the relay.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// readPump publishes every valid frame to the backplane until the
// connection fails.
func (c *client) readPump(s *Server) {
	defer func() {
		s.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("relay: client %s: %v", c.id, err)
			}
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogDebug("relay: client %s sent malformed frame: %v", c.id, err)
			continue
		}
		if err := msg.Validate(); err != nil {
			util.LogDebug("relay: client %s: %v", c.id, err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = s.backplane.Publish(ctx, msg)
		cancel()
		if err != nil {
			util.LogWarning("relay: failed to forward %s: %v", msg.Type, err)
		}
	}
}

// writePump drains send and keeps the connection alive with pings. It
// sends a close frame once send is closed.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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
				util.LogDebug("relay: write to %s: %v", c.id, err)
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
