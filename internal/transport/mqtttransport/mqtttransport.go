// Package mqtttransport publishes each message to a topic through an MQTT
// broker, and subscribes to that topic on the receiving side.
package mqtttransport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/msgmeter/internal/transport"
)

const (
	DefaultTopic          = "msgmeter/test"
	DefaultConnectTimeout = 10 * time.Second
	disconnectQuiesce     = 250 // ms
)

// Config is shared by both sides. Broker is a URL such as tcp://localhost:1883.
type Config struct {
	Broker         string
	Topic          string
	QoS            byte
	ClientID       string // prefix; a ULID or worker suffix keeps IDs unique
	Username       string
	Password       string
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Topic) == "" {
		c.Topic = DefaultTopic
	}
	if c.QoS > 2 {
		c.QoS = 2
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ClientID returns the client identifier for one connection. Without a
// configured prefix every call yields a fresh ULID-based ID.
func ClientID(prefix, role string, worker int) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fmt.Sprintf("msgmeter-%s-%s", role, strings.ToLower(ulid.Make().String()))
	}
	if worker < 0 {
		return fmt.Sprintf("%s-%s", prefix, role)
	}
	return fmt.Sprintf("%s-%s-%d", prefix, role, worker)
}

// BrokerURL adds the tcp scheme to a bare host:port.
func BrokerURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.Contains(addr, "://") {
		return addr
	}
	return "tcp://" + addr
}

func clientOptions(cfg Config, clientID string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

type publishTimeout struct {
	topic string
}

func (e *publishTimeout) Error() string {
	return fmt.Sprintf("publish to %s timed out", e.topic)
}

// wait blocks until tok completes or ctx ends.
func wait(ctx context.Context, tok mqtt.Token, topic string) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &publishTimeout{topic: topic}
		}
		return ctx.Err()
	}
}

func connect(ctx context.Context, client mqtt.Client, cfg Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	tok := client.Connect()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("connect to %s: %w", cfg.Broker, ctx.Err())
	}
}

// Dialer opens one broker connection per worker.
type Dialer struct {
	cfg       Config
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewDialer returns a Dialer publishing through cfg.Broker.
func NewDialer(cfg Config) *Dialer {
	cfg.normalize()
	return &Dialer{cfg: cfg, newClient: mqtt.NewClient}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, worker int) (transport.Sender, error) {
	client := d.newClient(clientOptions(d.cfg, ClientID(d.cfg.ClientID, "pub", worker)))
	if err := connect(ctx, client, d.cfg); err != nil {
		return nil, err
	}
	return &sender{client: client, topic: d.cfg.Topic, qos: d.cfg.QoS}, nil
}

// Close implements transport.Dialer.
func (d *Dialer) Close() error { return nil }

type sender struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// Send publishes payload and waits for the token: the write for QoS 0, the
// broker acknowledgement for QoS 1 and 2.
func (s *sender) Send(ctx context.Context, payload []byte) error {
	return wait(ctx, s.client.Publish(s.topic, s.qos, false, payload), s.topic)
}

func (s *sender) Close() error {
	s.client.Disconnect(disconnectQuiesce)
	return nil
}

// Server subscribes to the topic and forwards each publication.
type Server struct {
	cfg       Config
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
}

// NewServer returns an unsubscribed Server.
func NewServer(cfg Config) *Server {
	cfg.normalize()
	return &Server{cfg: cfg, newClient: mqtt.NewClient}
}

// Listen connects to the broker and subscribes. It returns once the
// subscription is acknowledged.
func (s *Server) Listen(ctx context.Context, h transport.Handler) error {
	client := s.newClient(clientOptions(s.cfg, ClientID(s.cfg.ClientID, "sub", -1)))
	if err := connect(ctx, client, s.cfg); err != nil {
		return err
	}

	base := context.WithoutCancel(ctx)
	log := s.cfg.Logger
	tok := client.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := h(base, msg.Payload()); err != nil && !errors.Is(err, transport.ErrUnavailable) {
			log.Debug("mqtt handler error", zap.Error(err))
		}
	})

	subCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := wait(subCtx, tok, s.cfg.Topic); err != nil {
		client.Disconnect(disconnectQuiesce)
		return fmt.Errorf("subscribe %s: %w", s.cfg.Topic, err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

// Addr reports the broker and topic the server is subscribed through.
func (s *Server) Addr() string {
	return s.cfg.Broker + " topic " + s.cfg.Topic
}

// Shutdown unsubscribes and disconnects.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client == nil {
		return nil
	}

	err := wait(ctx, client.Unsubscribe(s.cfg.Topic), s.cfg.Topic)
	client.Disconnect(disconnectQuiesce)
	return err
}
