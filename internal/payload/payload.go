// Package payload builds the synthetic sensor messages msgmeter sends.
package payload

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultDeviceID identifies the simulated sensor.
const DefaultDeviceID = "sensor-0042"

// TimestampLayout keeps the embedded timestamp fixed-width so padding stays exact.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// paddingOverhead is len(`,"padding":""`).
const paddingOverhead = len(`,"padding":""`)

// Readings are the sensor values carried by every message.
type Readings struct {
	Temperature int `json:"temperature"`
	Humidity    int `json:"humidity"`
	Pressure    int `json:"pressure"`
	Battery     int `json:"battery"`
	RSSI        int `json:"rssi"`
}

// Status is the device status block.
type Status struct {
	ErrorCode int    `json:"error_code"`
	Mode      string `json:"mode"`
}

// Message is the decoded form of a payload.
type Message struct {
	DeviceID  string   `json:"device_id"`
	Seq       int64    `json:"seq"`
	Timestamp string   `json:"timestamp"`
	Readings  Readings `json:"readings"`
	Status    Status   `json:"status"`
	Padding   string   `json:"padding,omitempty"`
}

// Generator produces payloads of a target size. It is safe for concurrent use.
type Generator struct {
	size     int
	deviceID string
	now      func() time.Time
}

// Option customises a Generator.
type Option func(*Generator)

// WithDeviceID overrides DefaultDeviceID.
func WithDeviceID(id string) Option {
	return func(g *Generator) {
		if id != "" {
			g.deviceID = id
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// New returns a Generator targeting size bytes. A size of 0 disables padding.
func New(size int, opts ...Option) *Generator {
	if size < 0 {
		size = 0
	}
	g := &Generator{size: size, deviceID: DefaultDeviceID, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Size returns the configured target size.
func (g *Generator) Size() int { return g.size }

// Build encodes message seq. When the target size exceeds the unpadded
// encoding by more than the padding field's own overhead, the payload is
// padded with 'x' to exactly the target size; otherwise it is sent unpadded.
func (g *Generator) Build(seq int64) ([]byte, error) {
	msg := Message{
		DeviceID:  g.deviceID,
		Seq:       seq,
		Timestamp: g.now().UTC().Format(TimestampLayout),
		Readings: Readings{
			Temperature: 13,
			Humidity:    89,
			Pressure:    4,
			Battery:     67,
			RSSI:        0,
		},
		Status: Status{ErrorCode: 0, Mode: "normal"},
	}

	base, err := json.Marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("encode payload %d: %w", seq, err)
	}
	pad := g.size - len(base) - paddingOverhead
	if pad <= 0 {
		return base, nil
	}

	msg.Padding = strings.Repeat("x", pad)
	out, err := json.Marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("encode padded payload %d: %w", seq, err)
	}
	return out, nil
}

// Decode parses a payload produced by Build.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode payload: %w", err)
	}
	return msg, nil
}
