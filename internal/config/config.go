package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/torosent/msgmeter/internal/logging"
)

// Protocol names a transport binding.
type Protocol string

const (
	ProtocolHTTP      Protocol = "http"
	ProtocolHTTP3     Protocol = "http3"
	ProtocolWebSocket Protocol = "websocket"
	ProtocolMQTT      Protocol = "mqtt"
	ProtocolCoAP      Protocol = "coap"
	ProtocolGRPC      Protocol = "grpc"
	ProtocolMemory    Protocol = "memory"
)

// Protocols lists every supported binding in help order.
var Protocols = []Protocol{ProtocolHTTP, ProtocolHTTP3, ProtocolWebSocket, ProtocolMQTT, ProtocolCoAP, ProtocolGRPC, ProtocolMemory}

// Mode selects which engine a Config drives.
type Mode string

const (
	ModeSend    Mode = "send"
	ModeReceive Mode = "receive"
)

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Config drives the send and receive commands.
type Config struct {
	Mode             Mode
	Protocol         Protocol        `mapstructure:"protocol"`
	Target           string          `mapstructure:"target"`
	Bind             string          `mapstructure:"bind"`
	Total            int64           `mapstructure:"total"`
	Duration         time.Duration   `mapstructure:"duration"`
	Rate             float64         `mapstructure:"rate"`
	Concurrency      int             `mapstructure:"concurrency"`
	PayloadSize      int             `mapstructure:"payload_size"`
	Timeout          time.Duration   `mapstructure:"timeout"`
	ReportPath       string          `mapstructure:"report"`
	Arrival          ArrivalModel    `mapstructure:"arrival_model"`
	RandomSeed       int64           `mapstructure:"seed"`
	MetricsAddr      string          `mapstructure:"metrics_addr"`
	ProgressInterval time.Duration   `mapstructure:"progress_interval"`
	Log              LogConfig       `mapstructure:"log"`
	Tracing          TracingConfig   `mapstructure:"tracing"`
	HTTP             HTTPConfig      `mapstructure:"http"`
	WebSocket        WebSocketConfig `mapstructure:"websocket"`
	MQTT             MQTTConfig      `mapstructure:"mqtt"`
	CoAP             CoAPConfig      `mapstructure:"coap"`
	GRPC             GRPCConfig      `mapstructure:"grpc"`
	ConfigFile       string          `mapstructure:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig enables OpenTelemetry spans around sends and receives.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether any tracing setting was supplied.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context is injected into outgoing messages.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type HTTPConfig struct {
	Path string `mapstructure:"path"`
}

type WebSocketConfig struct {
	Path             string        `mapstructure:"path"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type MQTTConfig struct {
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type CoAPConfig struct {
	Resource string `mapstructure:"resource"`
}

type GRPCConfig struct {
	Method   string `mapstructure:"method"`
	TLS      bool   `mapstructure:"tls"`
	Insecure bool   `mapstructure:"insecure"`
}

// Defaults applied before the config file, environment and flags.
const (
	DefaultPayloadSize = 100
	DefaultTimeout     = 2 * time.Second
	DefaultMQTTTopic   = "msgmeter/test"
	DefaultCoAPPath    = "test"
	DefaultGRPCMethod  = "/msgmeter.Sink/Deliver"
	DefaultHTTPPath    = "/"
	DefaultWSPath      = "/ws"
)

// DefaultBind is the listen address used when --bind is not given.
// For mqtt it is the broker the receiver subscribes through.
func DefaultBind(p Protocol) string {
	switch p {
	case ProtocolCoAP:
		return ":5683"
	case ProtocolGRPC:
		return ":50051"
	case ProtocolMQTT:
		return "tcp://localhost:1883"
	case ProtocolHTTP3:
		return ":8443"
	case ProtocolMemory:
		return "memory"
	default:
		return ":8080"
	}
}

func defaultConfig(mode Mode) *Config {
	return &Config{
		Mode:             mode,
		Protocol:         ProtocolHTTP,
		Concurrency:      1,
		PayloadSize:      DefaultPayloadSize,
		Timeout:          DefaultTimeout,
		Arrival:          ArrivalModelUniform,
		ProgressInterval: 0,
		Log:              LogConfig{Level: "info", Format: string(logging.FormatConsole)},
		Tracing:          TracingConfig{SampleRate: 1.0},
		HTTP:             HTTPConfig{Path: DefaultHTTPPath},
		WebSocket:        WebSocketConfig{Path: DefaultWSPath, HandshakeTimeout: 10 * time.Second},
		MQTT:             MQTTConfig{Topic: DefaultMQTTTopic},
		CoAP:             CoAPConfig{Resource: DefaultCoAPPath},
		GRPC:             GRPCConfig{Method: DefaultGRPCMethod},
	}
}

// EffectiveTotal is the message budget. With both a rate and a duration it
// is floor(rate × seconds × concurrency) and overrides Total.
func (c Config) EffectiveTotal() int64 {
	if c.Rate > 0 && c.Duration > 0 {
		workers := c.Concurrency
		if workers < 1 {
			workers = 1
		}
		return int64(math.Floor(c.Rate*c.Duration.Seconds()*float64(workers) + 1e-9))
	}
	return c.Total
}

// ResolvedReportPath returns ReportPath or the conventional default for the mode.
func (c Config) ResolvedReportPath() string {
	if strings.TrimSpace(c.ReportPath) != "" {
		return c.ReportPath
	}
	if c.Mode == ModeReceive {
		return "receiver_report.txt"
	}
	return "sender_report.txt"
}

// ResolvedBind returns Bind or the protocol's default listen address.
func (c Config) ResolvedBind() string {
	if strings.TrimSpace(c.Bind) != "" {
		return c.Bind
	}
	return DefaultBind(c.Protocol)
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks c, writing warnings for aggressive load settings to stderr.
func (c Config) Validate() error {
	return c.validate(os.Stderr)
}

func (c Config) validate(warn io.Writer) error {
	var issues []string
	var warnings []string

	if !validProtocol(c.Protocol) {
		issues = append(issues, fmt.Sprintf("protocol: must be one of %s, got %q", protocolList(), c.Protocol))
	}
	switch c.Mode {
	case ModeSend:
		if strings.TrimSpace(c.Target) == "" && c.Protocol != ProtocolMemory {
			issues = append(issues, "target is required (use --help for usage information)")
		}
	case ModeReceive:
	default:
		issues = append(issues, fmt.Sprintf("mode %q is not supported", c.Mode))
	}

	if c.Concurrency < 1 {
		issues = append(issues, "concurrency must be >= 1")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Total < 0 {
		issues = append(issues, "total must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.Timeout <= 0 {
		issues = append(issues, "timeout must be > 0")
	}
	if c.PayloadSize < 0 {
		issues = append(issues, "payload-size must be >= 0")
	}
	if c.ProgressInterval < 0 {
		issues = append(issues, "progress-interval must be >= 0")
	}
	switch c.Arrival {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("arrival model %q is not supported", c.Arrival))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		issues = append(issues, err.Error())
	}
	switch logging.Format(strings.ToLower(c.Log.Format)) {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		issues = append(issues, fmt.Sprintf("log format %q is not supported (console or json)", c.Log.Format))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing sample rate must be between 0.0 and 1.0, got %g", c.Tracing.SampleRate))
	}
	issues = append(issues, validateProtocolConfig(c)...)

	if c.Mode == ModeSend {
		if c.Rate*float64(c.Concurrency) > 10000 {
			warnings = append(warnings, fmt.Sprintf("WARNING: High aggregate rate configured (%.0f msgs/sec). Ensure you have authorization to test the target system.", c.Rate*float64(c.Concurrency)))
		}
		if c.Concurrency > 500 {
			warnings = append(warnings, fmt.Sprintf("WARNING: High concurrency configured (%d workers). Ensure you have authorization to test the target system.", c.Concurrency))
		}
		if c.Rate > 0 && c.Duration > 0 && c.Total > 0 && c.Total != c.EffectiveTotal() {
			warnings = append(warnings, fmt.Sprintf("WARNING: --total %d is overridden by rate × duration × concurrency = %d.", c.Total, c.EffectiveTotal()))
		}
		if c.Protocol == ProtocolGRPC && c.GRPC.Insecure {
			warnings = append(warnings, "WARNING: gRPC TLS verification is DISABLED (insecure: true). This should ONLY be used in development/testing environments.")
		}
	}
	if warn != nil {
		for _, w := range warnings {
			fmt.Fprintln(warn, w)
		}
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validProtocol(p Protocol) bool {
	for _, known := range Protocols {
		if p == known {
			return true
		}
	}
	return false
}

func protocolList() string {
	names := make([]string, len(Protocols))
	for i, p := range Protocols {
		names[i] = "'" + string(p) + "'"
	}
	return strings.Join(names, ", ")
}

func validateProtocolConfig(c Config) []string {
	var issues []string
	switch c.Protocol {
	case ProtocolMQTT:
		if strings.TrimSpace(c.MQTT.Topic) == "" {
			issues = append(issues, "mqtt: topic is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			issues = append(issues, fmt.Sprintf("mqtt: qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
	case ProtocolCoAP:
		if strings.TrimSpace(c.CoAP.Resource) == "" {
			issues = append(issues, "coap: resource is required")
		}
	case ProtocolGRPC:
		if !strings.HasPrefix(c.GRPC.Method, "/") || strings.Count(c.GRPC.Method, "/") != 2 {
			issues = append(issues, fmt.Sprintf("grpc: method must look like /package.Service/Method, got %q", c.GRPC.Method))
		}
	case ProtocolWebSocket:
		if c.WebSocket.HandshakeTimeout < 0 {
			issues = append(issues, "websocket: handshake_timeout must be >= 0")
		}
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			issues = append(issues, "websocket: path must start with /")
		}
	case ProtocolHTTP, ProtocolHTTP3:
		if !strings.HasPrefix(c.HTTP.Path, "/") {
			issues = append(issues, "http: path must start with /")
		}
	}
	return issues
}

// OutputFormat selects how the aggregate command renders its summary.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// AggregateConfig drives the aggregate command.
type AggregateConfig struct {
	SenderPath   string
	ReceiverPath string
	OutputPath   string
	Format       OutputFormat
	HTMLOutput   string
	Thresholds   []string
	Label        string
	Log          LogConfig
	ConfigFile   string
}

// Validate checks the aggregate settings.
func (c AggregateConfig) Validate() error {
	var issues []string
	if strings.TrimSpace(c.SenderPath) == "" {
		issues = append(issues, "sender report path is required")
	}
	if strings.TrimSpace(c.ReceiverPath) == "" {
		issues = append(issues, "receiver report path is required")
	}
	switch c.Format {
	case "", FormatText, FormatJSON, FormatYAML:
	default:
		issues = append(issues, fmt.Sprintf("format %q is not supported (text, json or yaml)", c.Format))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		issues = append(issues, err.Error())
	}
	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
