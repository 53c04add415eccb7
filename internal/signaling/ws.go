package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/nexzi/internal/util"
)

const wsWriteTimeout = 10 * time.Second

// WSChannel is a Channel backed by one WebSocket connection to a relay
// server. The relay echoes every frame to all of its clients, so the
// broadcast contract holds across processes.
type WSChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
	hub  *hub

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// DialWS connects to a relay's /ws endpoint.
func DialWS(ctx context.Context, rawURL string) (*WSChannel, error) {
	wsURL, err := NormalizeWSURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	util.LogDebug("relay connected: %s", wsURL)
	return NewWSChannel(conn), nil
}

// NewWSChannel wraps an established connection and starts its read loop.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		conn: conn,
		hub:  newHub(),
		done: make(chan struct{}),
	}
	go c.watch()
	return c
}

// Publish writes msg as one JSON frame, guarded by a mutex.
func (c *WSChannel) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write signaling message: %w", err)
	}
	return nil
}

func (c *WSChannel) Subscribe(handler Handler) Subscription { return c.hub.subscribe(handler) }

func (c *WSChannel) Unsubscribe(sub Subscription) { c.hub.unsubscribe(sub) }

// Done is closed when the connection is gone.
func (c *WSChannel) Done() <-chan struct{} { return c.done }

// Err reports why the read loop stopped. Valid after Done is closed.
func (c *WSChannel) Err() error {
	<-c.done
	return c.err
}

// Close sends a close frame and tears down the connection.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

// watch reads frames until the connection fails, dispatching every valid
// message to subscribers. Malformed frames are dropped.
func (c *WSChannel) watch() {
	defer c.closeOnce.Do(func() {
		c.hub.close()
		close(c.done)
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogDebug("relay: dropping malformed frame: %v", err)
			continue
		}
		if err := msg.Validate(); err != nil {
			util.LogDebug("relay: dropping frame: %v", err)
			continue
		}
		c.hub.broadcast(msg)
	}
}

// NormalizeWSURL turns "host", "https://host" or "ws://host/ws" into the
// relay's WebSocket endpoint.
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	scheme := "ws"
	switch u.Scheme {
	case "wss", "https":
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
