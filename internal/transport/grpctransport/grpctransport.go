// Package grpctransport delivers each message as a unary RPC carrying a
// google.protobuf.BytesValue. The server side registers no services; every
// call lands in an unknown-service handler that checks the method name.
package grpctransport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/torosent/msgmeter/internal/tracing"
	"github.com/torosent/msgmeter/internal/transport"
)

// DefaultMethod is the full method name used when none is configured.
const DefaultMethod = "/msgmeter.Sink/Deliver"

// Config configures the sending side.
type Config struct {
	Target    string
	Method    string
	UseTLS    bool
	Insecure  bool // skip certificate verification when UseTLS is set
	Propagate bool
}

// Dialer opens one client connection per worker.
type Dialer struct {
	cfg Config
}

// NewDialer returns a Dialer for cfg.Target.
func NewDialer(cfg Config) *Dialer {
	if cfg.Method == "" {
		cfg.Method = DefaultMethod
	}
	return &Dialer{cfg: cfg}
}

func dialOptions(cfg Config) []grpc.DialOption {
	var opts []grpc.DialOption
	if cfg.UseTLS {
		if cfg.Insecure {
			creds := credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in via --grpc-insecure
			opts = append(opts, grpc.WithTransportCredentials(creds))
		} else {
			opts = append(opts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return opts
}

// Dial implements transport.Dialer. grpc.NewClient does not connect; the
// connection is established by the first Send.
func (d *Dialer) Dial(ctx context.Context, worker int) (transport.Sender, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(d.cfg.Target, dialOptions(d.cfg)...)
	if err != nil {
		return nil, err
	}
	conn.Connect()
	return &sender{conn: conn, method: d.cfg.Method, propagate: d.cfg.Propagate}, nil
}

// Close implements transport.Dialer.
func (d *Dialer) Close() error { return nil }

type sender struct {
	conn      *grpc.ClientConn
	method    string
	propagate bool
}

func (s *sender) Send(ctx context.Context, payload []byte) error {
	if s.propagate {
		md := metadata.MD{}
		tracing.InjectGRPCMetadata(ctx, md)
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	return s.conn.Invoke(ctx, s.method, wrapperspb.Bytes(payload), &emptypb.Empty{})
}

func (s *sender) Close() error {
	return s.conn.Close()
}

// ServerConfig configures the receiving side.
type ServerConfig struct {
	Addr   string
	Method string
	// TLS enables transport security; nil serves plaintext.
	TLS    *tls.Config
	Logger *zap.Logger
}

// Server accepts unary calls on Method.
type Server struct {
	cfg ServerConfig
	log *zap.Logger

	mu  sync.Mutex
	ln  net.Listener
	srv *grpc.Server
}

// NewServer returns an unbound Server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Method == "" {
		cfg.Method = DefaultMethod
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, log: logger}
}

// Listen implements transport.Server.
func (s *Server) Listen(ctx context.Context, h transport.Handler) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	opts := []grpc.ServerOption{grpc.UnknownServiceHandler(s.deliver(h))}
	if s.cfg.TLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.cfg.TLS)))
	}
	srv := grpc.NewServer(opts...)

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("grpc server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) deliver(h transport.Handler) grpc.StreamHandler {
	return func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method != s.cfg.Method {
			return status.Errorf(codes.Unimplemented, "unknown method %s", method)
		}

		msg := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(msg); err != nil {
			return err
		}

		ctx := stream.Context()
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = tracing.ExtractGRPCMetadata(ctx, md)
		}
		if err := h(ctx, msg.GetValue()); err != nil {
			if errors.Is(err, transport.ErrUnavailable) {
				return status.Error(codes.Unavailable, err.Error())
			}
			return status.Error(codes.Internal, err.Error())
		}
		return stream.SendMsg(&emptypb.Empty{})
	}
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

// Shutdown stops gracefully, falling back to a hard stop when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		srv.Stop()
		return ctx.Err()
	}
}
