package coaptransport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/msgmeter/internal/transport"
)

func TestResourcePath(t *testing.T) {
	tests := map[string]string{
		"":         "/test",
		"test":     "/test",
		"/sensors": "/sensors",
		" a/b ":    "/a/b",
	}
	for in, want := range tests {
		assert.Equal(t, want, resourcePath(in), in)
	}
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "localhost:5683", HostPort("localhost:5683"))
	assert.Equal(t, "10.0.0.1:5683", HostPort("coap://10.0.0.1:5683/test"))
}

func TestPostRoundTripAndUnavailable(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []string
		refuse   bool
	)
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0", Resource: "bench"})
	require.NoError(t, srv.Listen(context.Background(), func(_ context.Context, p []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if refuse {
			return transport.ErrUnavailable
		}
		payloads = append(payloads, string(p))
		return nil
	}))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	d := NewDialer(Config{Target: srv.Addr(), Resource: "bench"})
	s, err := d.Dial(context.Background(), 0)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Send(ctx, []byte(`{"n":1}`)))
	require.NoError(t, s.Send(ctx, []byte(`{"n":2}`)))

	mu.Lock()
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, payloads)
	refuse = true
	mu.Unlock()

	err = s.Send(ctx, []byte(`{"n":3}`))
	code, ok := ResponseCode(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, codes.ServiceUnavailable, code)
}

func TestUnknownResourceIsNotFound(t *testing.T) {
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Listen(context.Background(), func(context.Context, []byte) error { return nil }))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	d := NewDialer(Config{Target: srv.Addr(), Resource: "elsewhere"})
	s, err := d.Dial(context.Background(), 0)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, ok := ResponseCode(s.Send(ctx, []byte("x")))
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, code)
}

func TestShutdownIdempotent(t *testing.T) {
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Listen(context.Background(), func(context.Context, []byte) error { return nil }))
	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, srv.Shutdown(context.Background()))
}
