// Package web implements the browser channel: a small HTTP server with a
// JWT-cookie login flow and a WebSocket chat endpoint.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/galaxyproto/caduceus/internal/auth"
	"github.com/galaxyproto/caduceus/internal/bus"
	"github.com/galaxyproto/caduceus/internal/channels"
	"github.com/galaxyproto/caduceus/internal/config"
	"github.com/galaxyproto/caduceus/internal/sessions"
)

//go:embed static/*.html
var staticFS embed.FS

// cookieName is the JWT session cookie.
const cookieName = "galaxy_token"

const writeTimeout = 10 * time.Second

// Channel serves the chat UI and relays WebSocket messages over the bus.
// Authentication is the JWT cookie, not the allow-list.
type Channel struct {
	*channels.BaseChannel
	users         *auth.Store
	events        *sessions.EventLog
	addr          string
	secureCookies bool
	cookieMaxAge  int

	upgrader websocket.Upgrader
	server   *http.Server

	mu    sync.Mutex
	conns map[string]*wsConn

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New creates the web channel. users must be non-nil; every route is gated
// on it.
func New(cfg *config.Config, msgBus *bus.MessageBus, users *auth.Store, events *sessions.EventLog) (*Channel, error) {
	if users == nil {
		return nil, errors.New("web channel requires a user store")
	}

	host := cfg.Web.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Web.Port
	if port == 0 {
		port = 8080
	}

	return &Channel{
		BaseChannel:   channels.NewBaseChannel("web", msgBus, nil),
		users:         users,
		events:        events,
		addr:          fmt.Sprintf("%s:%d", host, port),
		secureCookies: cfg.Web.SecureCookies,
		cookieMaxAge:  int(cfg.TokenExpiry().Seconds()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns:    make(map[string]*wsConn),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// IsAllowed always reports true: web senders are authenticated by their
// session token before any message reaches the bus.
func (c *Channel) IsAllowed(string) bool { return true }

func (c *Channel) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", c.handleIndex)
	mux.HandleFunc("/login", c.handleLogin)
	mux.HandleFunc("/logout", c.handleLogout)
	mux.HandleFunc("/ws", c.handleWebSocket)
	return mux
}

// Start binds the listener and serves in the background. Bind failures
// surface synchronously.
func (c *Channel) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("web channel listen: %w", err)
	}

	c.server = &http.Server{
		Handler:           c.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.SetRunning(true)
	slog.Info("web channel started", "addr", c.addr)

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("web channel server exited", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down and closes every open socket.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := c.server.Shutdown(shutdownCtx)

	c.mu.Lock()
	for id, conn := range c.conns {
		conn.close()
		delete(c.conns, id)
	}
	c.mu.Unlock()

	slog.Info("web channel stopped")
	return err
}

// Send delivers an outbound message to the user's active socket. Document
// attachments are inlined; the browser has no file-transfer path.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	conn := c.conns[msg.ChatID]
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no active websocket for chat %s", msg.ChatID)
	}

	if msg.Content != "" {
		if err := conn.writeJSON(frame{Type: "message", Content: msg.Content, Timestamp: time.Now().Unix()}); err != nil {
			return fmt.Errorf("websocket send: %w", err)
		}
	}
	if msg.Document != nil {
		data, err := os.ReadFile(msg.Document.Path)
		if err != nil {
			return fmt.Errorf("read attachment: %w", err)
		}
		body := string(data)
		if msg.Document.Caption != "" {
			body = msg.Document.Caption + "\n\n" + body
		}
		if err := conn.writeJSON(frame{Type: "document", Content: body, Timestamp: time.Now().Unix()}); err != nil {
			return fmt.Errorf("websocket send document: %w", err)
		}
	}
	return nil
}

// loginLimiter returns the per-address login limiter, creating it on first
// sight. One attempt every two seconds with a burst of five.
func (c *Channel) loginLimiter(ip string) *rate.Limiter {
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()
	l, ok := c.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Every(2*time.Second), 5)
		c.limiters[ip] = l
	}
	return l
}

func (c *Channel) logEvent(eventType string, details map[string]any) {
	if c.events != nil {
		c.events.Log(eventType, details)
	}
}

// frame is one JSON message on the WebSocket, either direction.
type frame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// wsConn serializes writes; gorilla connections do not allow concurrent
// writers.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) close() {
	w.conn.Close()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
