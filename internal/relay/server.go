// Package relay is the signaling server: a WebSocket hub that forwards
// every frame it receives to every connected client. Several relays can
// share one Redis backplane.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/util"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists browser origins admitted by the origin filter.
	AllowedOrigins []string
	// Backplane carries messages between clients. Nil means an in-process
	// MemoryBus, owned and closed by the Server.
	Backplane signaling.Channel
}

// Server is the relay. It implements http.Handler.
type Server struct {
	engine    *gin.Engine
	upgrader  websocket.Upgrader
	backplane signaling.Channel
	owned     bool
	sub       signaling.Subscription

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

// New builds a Server and subscribes it to the backplane.
func New(opts Options) *Server {
	s := &Server{
		backplane: opts.Backplane,
		clients:   make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origins are checked by OriginFilter
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if s.backplane == nil {
		s.backplane = signaling.NewMemoryBus()
		s.owned = true
	}
	s.sub = s.backplane.Subscribe(s.broadcast)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), OriginFilter(opts.AllowedOrigins))
	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWS)
	s.engine = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Clients reports the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.Clients()})
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogDebug("relay: upgrade failed: %v", err)
		return
	}

	cl := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if !s.register(cl) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
		conn.Close()
		return
	}

	go cl.writePump()
	go cl.readPump(s)
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	util.LogDebug("relay: client %s connected (%d total)", c.id, len(s.clients))
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; !ok {
		return
	}
	delete(s.clients, c.id)
	close(c.send)
	util.LogDebug("relay: client %s left (%d total)", c.id, len(s.clients))
}

// broadcast sends msg to every client. A client whose buffer is full is
// disconnected rather than silently missing messages; it can reconnect and
// resubscribe.
func (s *Server) broadcast(msg signaling.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		util.LogWarning("relay: failed to encode %s: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		select {
		case c.send <- data:
		default:
			util.LogWarning("relay: client %s is too slow, disconnecting", id)
			delete(s.clients, id)
			close(c.send)
		}
	}
}

// Close disconnects every client and releases the backplane subscription.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, c := range s.clients {
		delete(s.clients, id)
		close(c.send)
	}
	s.mu.Unlock()

	s.backplane.Unsubscribe(s.sub)
	if s.owned {
		return s.backplane.Close()
	}
	return nil
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	util.LogInfo("relay listening on %s", ln.Addr())

	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// hijacked WebSocket connections are not tracked by Shutdown
	closeErr := s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return closeErr
}
