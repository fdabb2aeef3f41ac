package httptransport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"

	"github.com/torosent/msgmeter/internal/tracing"
	"github.com/torosent/msgmeter/internal/transport"
)

// MaxBodyBytes caps a single message body.
const MaxBodyBytes = 16 << 20

var (
	okBody          = []byte(`{"status":"ok"}`)
	unavailableBody = []byte(`{"status":"unavailable"}`)
)

// ServerConfig configures the receiving side.
type ServerConfig struct {
	Addr  string
	Path  string // accepted in addition to "/" and "/message"
	HTTP3 bool
	// TLS is used by the HTTP/3 server; a self-signed config is generated when nil.
	TLS    *tls.Config
	Logger *zap.Logger
}

// Server accepts POSTed messages.
type Server struct {
	cfg ServerConfig
	log *zap.Logger

	mu   sync.Mutex
	ln   net.Listener
	pc   net.PacketConn
	srv  *http.Server
	h3   *http3.Server
	done bool
}

// NewServer returns an unbound Server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, log: logger}
}

// Router builds the message routes around h.
func Router(path string, h transport.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	handle := messageHandler(h)
	r.Post("/", handle)
	r.Post("/message", handle)
	if path != "" && path != "/" && path != "/message" {
		r.Post(path, handle)
	}
	return r
}

func messageHandler(h transport.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		ctx := tracing.ExtractHTTPHeaders(r.Context(), r.Header)
		w.Header().Set("Content-Type", "application/json")
		if err := h(ctx, body); err != nil {
			if errors.Is(err, transport.ErrUnavailable) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write(unavailableBody)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(okBody)
	}
}

// Listen implements transport.Server.
func (s *Server) Listen(ctx context.Context, h transport.Handler) error {
	handler := Router(s.cfg.Path, h)
	if s.cfg.HTTP3 {
		return s.listenHTTP3(handler)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) listenHTTP3(handler http.Handler) error {
	tlsConf := s.cfg.TLS
	if tlsConf == nil {
		var err error
		if tlsConf, err = transport.SelfSignedTLS(); err != nil {
			return err
		}
	}

	pc, err := net.ListenPacket("udp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http3.Server{Handler: handler, TLSConfig: http3.ConfigureTLSConfig(tlsConf)}

	s.mu.Lock()
	s.pc, s.h3 = pc, srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(pc); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Debug("http3 server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.ln != nil:
		return s.ln.Addr().String()
	case s.pc != nil:
		return s.pc.LocalAddr().String()
	}
	return s.cfg.Addr
}

// Shutdown implements transport.Server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	srv, h3, pc := s.srv, s.h3, s.pc
	s.mu.Unlock()

	if h3 != nil {
		// Shutdown lets in-flight requests finish, so every counted message
		// still gets its reply.
		err := h3.Shutdown(ctx)
		if err != nil {
			_ = h3.Close()
		}
		if cerr := pc.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		return err
	}
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
