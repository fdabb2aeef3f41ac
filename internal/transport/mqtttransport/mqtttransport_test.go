package mqtttransport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/msgmeter/internal/transport"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

type fakeClient struct {
	mqtt.Client

	opts       *mqtt.ClientOptions
	connectErr error
	publishTok mqtt.Token

	mu           sync.Mutex
	published    [][]byte
	handler      mqtt.MessageHandler
	subscribed   string
	unsubscribed bool
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return doneToken(c.connectErr) }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.published = append(c.published, payload.([]byte))
	c.mu.Unlock()
	if c.publishTok != nil {
		return c.publishTok
	}
	return doneToken(nil)
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed, c.handler = topic, cb
	return doneToken(nil)
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	c.unsubscribed = true
	c.mu.Unlock()
	return doneToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) deliver(payload string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(c, fakeMessage{payload: []byte(payload)})
}

func TestClientID(t *testing.T) {
	assert.Equal(t, "bench-pub-3", ClientID("bench", "pub", 3))
	assert.Equal(t, "bench-sub", ClientID(" bench ", "sub", -1))

	a, b := ClientID("", "pub", 0), ClientID("", "pub", 0)
	assert.True(t, strings.HasPrefix(a, "msgmeter-pub-"))
	assert.NotEqual(t, a, b)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", BrokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", BrokerURL(" ssl://broker:8883 "))
	assert.Equal(t, "", BrokerURL(""))
}

func TestClientOptions(t *testing.T) {
	cfg := Config{Broker: "tcp://broker:1883", Username: "u", Password: "p"}
	cfg.normalize()
	opts := clientOptions(cfg, "id-1")

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.Equal(t, "id-1", opts.ClientID)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.True(t, opts.CleanSession)
	assert.Equal(t, DefaultTopic, cfg.Topic)
}

func TestSenderPublishesToTopic(t *testing.T) {
	fake := &fakeClient{}
	d := NewDialer(Config{Broker: "tcp://x:1883", Topic: "bench/t", QoS: 1, ClientID: "run"})
	d.newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		fake.opts = o
		return fake
	}

	s, err := d.Dial(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "run-pub-2", fake.opts.ClientID)

	require.NoError(t, s.Send(context.Background(), []byte("m1")))
	require.NoError(t, s.Close())

	assert.Equal(t, [][]byte{[]byte("m1")}, fake.published)
	assert.True(t, fake.disconnected)
}

func TestDialConnectFailure(t *testing.T) {
	d := NewDialer(Config{Broker: "tcp://x:1883"})
	d.newClient = func(*mqtt.ClientOptions) mqtt.Client {
		return &fakeClient{connectErr: errors.New("refused")}
	}
	_, err := d.Dial(context.Background(), 0)
	assert.EqualError(t, err, "refused")
}

func TestSendTimesOutOnPendingToken(t *testing.T) {
	fake := &fakeClient{publishTok: pendingToken()}
	d := NewDialer(Config{Broker: "tcp://x:1883"})
	d.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fake }

	s, err := d.Dial(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Send(ctx, []byte("slow"))
	var pt *publishTimeout
	assert.True(t, errors.As(err, &pt), "got %v", err)
}

func TestServerForwardsPublications(t *testing.T) {
	fake := &fakeClient{}
	srv := NewServer(Config{Broker: "tcp://x:1883", Topic: "bench/in"})
	srv.newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		fake.opts = o
		return fake
	}

	var (
		mu  sync.Mutex
		got []string
	)
	refuse := false
	require.NoError(t, srv.Listen(context.Background(), func(_ context.Context, p []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if refuse {
			return transport.ErrUnavailable
		}
		got = append(got, string(p))
		return nil
	}))
	assert.Equal(t, "bench/in", fake.subscribed)
	assert.True(t, strings.HasPrefix(fake.opts.ClientID, "msgmeter-sub-"))

	fake.deliver("a")
	fake.deliver("b")
	mu.Lock()
	refuse = true
	mu.Unlock()
	fake.deliver("c")

	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, got)
	mu.Unlock()

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.True(t, fake.unsubscribed)
	assert.True(t, fake.disconnected)
	require.NoError(t, srv.Shutdown(context.Background()))
}
