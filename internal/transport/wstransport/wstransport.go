// Package wstransport sends each message as one WebSocket text frame and
// serves a WebSocket endpoint that reads frames into a transport.Handler.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/torosent/msgmeter/internal/pool"
	"github.com/torosent/msgmeter/internal/transport"
)

// DefaultHandshakeTimeout bounds the opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// Config configures the sending side.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	// PoolSize caps idle connections kept between dials.
	PoolSize int
}

// TargetURL turns a --target value into a ws:// URL, appending path when
// the target has none.
func TargetURL(target, path string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("target is required")
	}
	if !strings.Contains(target, "://") {
		target = "ws://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target %q: %w", target, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("target %q: unsupported scheme %q", target, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("target %q has no host", target)
	}
	if u.Path == "" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		u.Path = path
	}
	return u.String(), nil
}

// client is one WebSocket connection.
type client struct {
	url     string
	headers http.Header
	dialer  *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	c.conn = conn
	return nil
}

func (c *client) write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Dialer hands each worker a connection from a shared pool.
type Dialer struct {
	cfg    Config
	key    string
	dialer *websocket.Dialer
	pool   *pool.ConnectionPool[*client]
}

// NewDialer returns a Dialer for cfg.URL.
func NewDialer(cfg Config) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Dialer{
		cfg: cfg,
		key: pool.MakePoolKey(cfg.URL, cfg.Headers),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		pool: pool.NewConnectionPool[*client](cfg.PoolSize),
	}
}

func (d *Dialer) newClient() *client {
	return &client{url: d.cfg.URL, headers: d.cfg.Headers, dialer: d.dialer}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, worker int) (transport.Sender, error) {
	c, _, err := d.pool.Get(ctx, d.key, d.newClient)
	if err != nil {
		return nil, err
	}
	return &sender{d: d, c: c}, nil
}

// Close closes idle pooled connections.
func (d *Dialer) Close() error {
	return d.pool.Close()
}

type sender struct {
	d     *Dialer
	c     *client
	stale bool
}

// Send writes one text frame. A failed write marks the connection stale and
// the next Send reconnects; the failed message is not resent.
func (s *sender) Send(ctx context.Context, payload []byte) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}
	if err := s.c.write(ctx, payload); err != nil {
		s.stale = true
		return err
	}
	return nil
}

func (s *sender) ensure(ctx context.Context) error {
	if s.c != nil && !s.stale {
		return nil
	}
	if s.c == nil {
		c := s.d.newClient()
		if err := c.Connect(ctx); err != nil {
			return err
		}
		s.c, s.stale = c, false
		return nil
	}
	c, err := s.d.pool.Reconnect(ctx, s.c, s.d.newClient)
	if err != nil {
		s.c = nil
		return err
	}
	s.c, s.stale = c, false
	return nil
}

// Close returns a healthy connection to the pool.
func (s *sender) Close() error {
	if s.c == nil {
		return nil
	}
	c := s.c
	s.c = nil
	if s.stale {
		return c.Close()
	}
	return s.d.pool.Put(s.d.key, c)
}

// ServerConfig configures the receiving side.
type ServerConfig struct {
	Addr   string
	Path   string
	Logger *zap.Logger
}

// Server upgrades requests on Path and feeds every frame to the handler.
type Server struct {
	cfg      ServerConfig
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	ln    net.Listener
	srv   *http.Server
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer returns an unbound Server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Listen implements transport.Server.
func (s *Server) Listen(ctx context.Context, h transport.Handler) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(s.cfg.Path, s.serveWS(h))

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("websocket server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) serveWS(h transport.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		defer s.untrack(conn)

		ctx := context.WithoutCancel(r.Context())
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := h(ctx, data); err != nil {
				if errors.Is(err, transport.ErrUnavailable) {
					_ = conn.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "receiver unavailable"),
						time.Now().Add(time.Second),
					)
					return
				}
				s.log.Debug("websocket handler error", zap.Error(err))
			}
		}
	}
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
	s.mu.Unlock()
	_ = conn.Close()
	s.wg.Done()
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting upgrades and closes open connections with a
// going-away frame.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	conns := s.conns
	s.srv, s.conns = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)

	for conn := range conns {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
