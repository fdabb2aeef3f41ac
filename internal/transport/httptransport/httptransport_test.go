package httptransport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/msgmeter/internal/transport"
	"github.com/torosent/msgmeter/internal/transport/httptransport"
)

type collector struct {
	mu       sync.Mutex
	payloads []string
	traces   []trace.TraceID
}

func (c *collector) handle(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(payload))
	c.traces = append(c.traces, trace.SpanContextFromContext(ctx).TraceID())
	return nil
}

func (c *collector) snapshot() ([]string, []trace.TraceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...), append([]trace.TraceID(nil), c.traces...)
}

func listen(t *testing.T, cfg httptransport.ServerConfig, h transport.Handler) *httptransport.Server {
	t.Helper()
	srv := httptransport.NewServer(cfg)
	require.NoError(t, srv.Listen(context.Background(), h))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func TestTargetURL(t *testing.T) {
	tests := []struct {
		target, path string
		secure       bool
		want         string
		wantErr      bool
	}{
		{target: "localhost:8080", path: "/", want: "http://localhost:8080/"},
		{target: "localhost:8080", path: "message", want: "http://localhost:8080/message"},
		{target: "localhost:8443", path: "/", secure: true, want: "https://localhost:8443/"},
		{target: "http://example.com/in", path: "/", want: "http://example.com/in"},
		{target: "  ", wantErr: true},
		{target: "http://", wantErr: true},
	}
	for _, tt := range tests {
		got, err := httptransport.TargetURL(tt.target, tt.path, tt.secure)
		if tt.wantErr {
			assert.Error(t, err, tt.target)
			continue
		}
		require.NoError(t, err, tt.target)
		assert.Equal(t, tt.want, got)
	}
}

func TestSendPostsJSON(t *testing.T) {
	seen := make(chan *http.Request, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	d := httptransport.NewDialer(httptransport.Config{URL: ts.URL, Timeout: time.Second})
	defer d.Close()
	s, err := d.Dial(context.Background(), 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), []byte(`{"a":1}`)))
	req := <-seen
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
}

func TestSendReturnsStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	d := httptransport.NewDialer(httptransport.Config{URL: ts.URL})
	defer d.Close()
	s, err := d.Dial(context.Background(), 0)
	require.NoError(t, err)

	err = s.Send(context.Background(), []byte("{}"))
	var statusErr *httptransport.StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestServerRoutesAndUnavailable(t *testing.T) {
	var got collector
	accepting := true
	var mu sync.Mutex
	srv := listen(t, httptransport.ServerConfig{Addr: "127.0.0.1:0", Path: "/ingest"}, func(ctx context.Context, p []byte) error {
		mu.Lock()
		ok := accepting
		mu.Unlock()
		if !ok {
			return transport.ErrUnavailable
		}
		return got.handle(ctx, p)
	})

	ctx := context.Background()
	for _, path := range []string{"/", "/message", "/ingest"} {
		d := httptransport.NewDialer(httptransport.Config{URL: "http://" + srv.Addr() + path, Timeout: 2 * time.Second})
		s, err := d.Dial(ctx, 0)
		require.NoError(t, err)
		require.NoError(t, s.Send(ctx, []byte(path)), path)
		require.NoError(t, d.Close())
	}
	payloads, _ := got.snapshot()
	assert.Equal(t, []string{"/", "/message", "/ingest"}, payloads)

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	mu.Lock()
	accepting = false
	mu.Unlock()

	d := httptransport.NewDialer(httptransport.Config{URL: "http://" + srv.Addr() + "/"})
	defer d.Close()
	s, err := d.Dial(ctx, 0)
	require.NoError(t, err)
	err = s.Send(ctx, []byte("late"))
	var statusErr *httptransport.StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestTraceContextPropagates(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var got collector
	srv := listen(t, httptransport.ServerConfig{Addr: "127.0.0.1:0"}, got.handle)

	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	for _, propagate := range []bool{true, false} {
		d := httptransport.NewDialer(httptransport.Config{URL: "http://" + srv.Addr() + "/", Propagate: propagate})
		s, err := d.Dial(ctx, 0)
		require.NoError(t, err)
		require.NoError(t, s.Send(ctx, []byte("x")))
		require.NoError(t, d.Close())
	}

	_, traces := got.snapshot()
	require.Len(t, traces, 2)
	assert.Equal(t, traceID, traces[0])
	assert.False(t, traces[1].IsValid())
}

func TestServerBindFailure(t *testing.T) {
	first := listen(t, httptransport.ServerConfig{Addr: "127.0.0.1:0"}, func(context.Context, []byte) error { return nil })

	second := httptransport.NewServer(httptransport.ServerConfig{Addr: first.Addr()})
	assert.Error(t, second.Listen(context.Background(), func(context.Context, []byte) error { return nil }))
}

func TestHTTP3RoundTrip(t *testing.T) {
	var got collector
	srv := listen(t, httptransport.ServerConfig{Addr: "127.0.0.1:0", HTTP3: true}, got.handle)

	d := httptransport.NewDialer(httptransport.Config{
		URL:                "https://" + srv.Addr() + "/message",
		HTTP3:              true,
		Timeout:            5 * time.Second,
		InsecureSkipVerify: true,
	})
	defer d.Close()

	ctx := context.Background()
	s, err := d.Dial(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, s.Send(ctx, []byte("quic")))
	require.NoError(t, s.Send(ctx, []byte("again")))

	payloads, _ := got.snapshot()
	assert.Equal(t, []string{"quic", "again"}, payloads)
}

func TestHTTP3ShutdownRepliesToAcceptedMessages(t *testing.T) {
	const limit = 200
	var accepted atomic.Int64
	var srv *httptransport.Server
	stopped := make(chan struct{})
	var once sync.Once
	handler := func(context.Context, []byte) error {
		n := accepted.Add(1)
		if n > limit {
			accepted.Add(-1)
			return transport.ErrUnavailable
		}
		if n == limit {
			once.Do(func() {
				go func() {
					defer close(stopped)
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
			})
		}
		return nil
	}
	srv = listen(t, httptransport.ServerConfig{Addr: "127.0.0.1:0", HTTP3: true}, handler)

	d := httptransport.NewDialer(httptransport.Config{
		URL:                "https://" + srv.Addr() + "/message",
		HTTP3:              true,
		Timeout:            5 * time.Second,
		InsecureSkipVerify: true,
	})
	defer d.Close()

	var sent atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			s, err := d.Dial(ctx, w)
			if err != nil {
				return
			}
			for {
				if err := s.Send(ctx, []byte("m")); err != nil {
					return
				}
				sent.Add(1)
			}
		}()
	}
	wg.Wait()

	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, int64(limit), accepted.Load())
	assert.Equal(t, accepted.Load(), sent.Load())
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := httptransport.NewServer(httptransport.ServerConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Listen(context.Background(), func(context.Context, []byte) error { return nil }))

	ctx := context.Background()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx))
}
