// Package httptransport posts each message as a JSON request body over
// HTTP/1.1 or HTTP/3 and serves a chi router that hands request bodies to a
// transport.Handler.
package httptransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"

	"github.com/torosent/msgmeter/internal/tracing"
	"github.com/torosent/msgmeter/internal/transport"
)

// StatusError is returned when the receiver replies outside 2xx.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Config configures the sending side.
type Config struct {
	URL       string
	HTTP3     bool
	Timeout   time.Duration
	Propagate bool // inject trace context headers
	// InsecureSkipVerify accepts the receiver's self-signed certificate.
	InsecureSkipVerify bool
}

// TargetURL turns a --target value into a request URL. A bare host:port gets
// an http (or https for HTTP/3) scheme and path appended.
func TargetURL(target, path string, secure bool) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("target is required")
	}
	if !strings.Contains(target, "://") {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		target = scheme + "://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target %q: %w", target, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("target %q has no host", target)
	}
	if u.Path == "" {
		if path == "" {
			path = "/"
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		u.Path = path
	}
	return u.String(), nil
}

// NewClient returns the HTTP/1.1 client shared by all workers.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Dialer shares one *http.Client between all workers.
type Dialer struct {
	url       string
	propagate bool
	client    *http.Client
	h3        *http3.Transport
}

// NewDialer returns a Dialer posting to cfg.URL.
func NewDialer(cfg Config) *Dialer {
	d := &Dialer{url: cfg.URL, propagate: cfg.Propagate}
	if cfg.HTTP3 {
		d.h3 = &http3.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // receivers use self-signed certificates
		}
		d.client = &http.Client{Timeout: cfg.Timeout, Transport: d.h3}
		return d
	}
	d.client = NewClient(cfg.Timeout)
	return d
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, worker int) (transport.Sender, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sender{d: d}, nil
}

// Close releases idle connections.
func (d *Dialer) Close() error {
	d.client.CloseIdleConnections()
	if d.h3 != nil {
		return d.h3.Close()
	}
	return nil
}

type sender struct {
	d *Dialer
}

func (s *sender) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.d.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.d.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := s.d.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close is a no-op; connections belong to the Dialer's client.
func (s *sender) Close() error { return nil }
