// Package coaptransport sends each message as a confirmable CoAP POST over
// UDP and serves a resource that hands request bodies to a transport.Handler.
package coaptransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpclient "github.com/plgd-dev/go-coap/v3/udp/client"
	udpserver "github.com/plgd-dev/go-coap/v3/udp/server"
	"go.uber.org/zap"

	"github.com/torosent/msgmeter/internal/transport"
)

// DefaultResource is the resource path used when none is configured.
const DefaultResource = "test"

type codeError struct {
	code codes.Code
}

func (e *codeError) Error() string {
	return fmt.Sprintf("unexpected CoAP response code %v", e.code)
}

// ResponseCode returns the CoAP code carried by err, if any.
func ResponseCode(err error) (codes.Code, bool) {
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code, true
	}
	return 0, false
}

func resourcePath(resource string) string {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		resource = DefaultResource
	}
	return "/" + strings.TrimPrefix(resource, "/")
}

// HostPort strips an optional coap:// scheme and trailing path from target.
func HostPort(target string) string {
	target = strings.TrimSpace(target)
	target = strings.TrimPrefix(target, "coap://")
	if i := strings.Index(target, "/"); i >= 0 {
		target = target[:i]
	}
	return target
}

// Config configures the sending side.
type Config struct {
	Target   string // host:port
	Resource string
}

// Dialer opens one UDP session per worker.
type Dialer struct {
	target string
	path   string
}

// NewDialer returns a Dialer for cfg.Target.
func NewDialer(cfg Config) *Dialer {
	return &Dialer{target: HostPort(cfg.Target), path: resourcePath(cfg.Resource)}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, worker int) (transport.Sender, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := udp.Dial(d.target)
	if err != nil {
		return nil, err
	}
	return &sender{conn: conn, path: d.path}, nil
}

// Close implements transport.Dialer.
func (d *Dialer) Close() error { return nil }

type sender struct {
	conn *udpclient.Conn
	path string
}

// Send posts payload and expects 2.01, 2.04 or 2.05.
func (s *sender) Send(ctx context.Context, payload []byte) error {
	resp, err := s.conn.Post(ctx, s.path, message.AppJSON, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	switch resp.Code() {
	case codes.Created, codes.Changed, codes.Content:
		return nil
	default:
		return &codeError{code: resp.Code()}
	}
}

func (s *sender) Close() error {
	return s.conn.Close()
}

// ServerConfig configures the receiving side.
type ServerConfig struct {
	Addr     string
	Resource string
	Logger   *zap.Logger
}

// Server answers POSTs on the resource with 2.04 Changed, or 5.03 once the
// handler refuses.
type Server struct {
	cfg  ServerConfig
	path string
	log  *zap.Logger

	mu  sync.Mutex
	ln  *coapnet.UDPConn
	srv *udpserver.Server
}

// NewServer returns an unbound Server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, path: resourcePath(cfg.Resource), log: logger}
}

// Listen implements transport.Server.
func (s *Server) Listen(ctx context.Context, h transport.Handler) error {
	ln, err := coapnet.NewListenUDP("udp", s.cfg.Addr)
	if err != nil {
		return err
	}

	r := mux.NewRouter()
	if err := r.Handle(s.path, mux.HandlerFunc(s.deliver(h))); err != nil {
		_ = ln.Close()
		return err
	}
	srv := udp.NewServer(options.WithMux(r))

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil {
			s.log.Debug("coap server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) deliver(h transport.Handler) func(mux.ResponseWriter, *mux.Message) {
	return func(w mux.ResponseWriter, r *mux.Message) {
		if r.Code() != codes.POST {
			s.respond(w, codes.MethodNotAllowed)
			return
		}
		body, err := r.ReadBody()
		if err != nil {
			s.respond(w, codes.BadRequest)
			return
		}
		if err := h(r.Context(), body); err != nil {
			if errors.Is(err, transport.ErrUnavailable) {
				s.respond(w, codes.ServiceUnavailable)
				return
			}
			s.respond(w, codes.InternalServerError)
			return
		}
		s.respond(w, codes.Changed)
	}
}

func (s *Server) respond(w mux.ResponseWriter, code codes.Code) {
	if err := w.SetResponse(code, message.TextPlain, nil); err != nil {
		s.log.Debug("coap response failed", zap.Error(err))
	}
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.LocalAddr().String()
}

// Shutdown stops the server and closes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, ln := s.srv, s.ln
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	srv.Stop()
	_ = ln.Close()
	return nil
}
