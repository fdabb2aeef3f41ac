package config

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterSendFlags registers the send command's flags.
func RegisterSendFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("target", "", "Target address (URL for http/http3/websocket, host:port for coap/grpc, broker URL for mqtt)")
	flags.IntP("concurrency", "c", 1, "Number of concurrent sending workers")
	flags.Float64P("rate", "r", 0, "Messages per second per worker (0 means unthrottled; with --duration it sets the total)")
	flags.Int("payload-size", DefaultPayloadSize, "Target payload size in bytes")
	flags.Var(newSecondsDuration(DefaultTimeout), "timeout", "Per-message send timeout (e.g. 2s, or bare seconds)")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model used when pacing sends (uniform or poisson)")
	flags.Int64("seed", 0, "Random seed for the poisson arrival model (0 picks one)")
	flags.String("report", "sender_report.txt", "Path of the sender report file")
	registerEngineFlags(flags)
}

// RegisterReceiveFlags registers the receive command's flags.
func RegisterReceiveFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("bind", "", "Listen address (broker URL for mqtt); defaults per protocol")
	flags.String("report", "receiver_report.txt", "Path of the receiver report file")
	registerEngineFlags(flags)
}

func registerEngineFlags(flags *pflag.FlagSet) {
	flags.String("protocol", string(ProtocolHTTP), "Protocol: "+protocolList())
	flags.Int64P("total", "t", 0, "Number of messages (0 means unlimited)")
	flags.VarP(newSecondsDuration(0), "duration", "d", "How long to run (e.g. 30s, 1m, or bare seconds; 0 means unlimited)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.Duration("progress-interval", 0, "Print a progress line at this interval (0 disables)")

	flags.String("http-path", DefaultHTTPPath, "HTTP request path")
	flags.String("ws-path", DefaultWSPath, "WebSocket endpoint path")
	flags.Duration("ws-handshake-timeout", 10*time.Second, "WebSocket handshake timeout")
	flags.String("mqtt-topic", DefaultMQTTTopic, "MQTT topic to publish to or subscribe on")
	flags.Int("mqtt-qos", 0, "MQTT quality of service (0, 1 or 2)")
	flags.String("mqtt-client-id", "", "MQTT client ID prefix (a unique suffix is appended)")
	flags.String("mqtt-username", "", "MQTT username")
	flags.String("mqtt-password", "", "MQTT password")
	flags.String("coap-resource", DefaultCoAPPath, "CoAP resource path")
	flags.String("grpc-method", DefaultGRPCMethod, "gRPC full method name")
	flags.Bool("grpc-tls", false, "Use TLS for gRPC")
	flags.Bool("grpc-insecure", false, "Skip TLS verification for gRPC")

	flags.String("tracing-endpoint", "", "OTLP endpoint for traces (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported with spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of messages traced (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Use an insecure OTLP connection")
	flags.Bool("tracing-propagate", false, "Inject trace context into outgoing messages")

	registerCommonFlags(flags)
}

// RegisterAggregateFlags registers the aggregate command's flags.
func RegisterAggregateFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("sender", "sender_report.txt", "Path to the sender report")
	flags.String("receiver", "receiver_report.txt", "Path to the receiver report")
	flags.String("output", "aggregated_report.txt", "Path of the aggregated report (empty to skip the file)")
	flags.String("format", string(FormatText), "Output format: text, json or yaml")
	flags.String("html-output", "", "Also write an HTML report to this path")
	flags.StringArray("threshold", nil, "Pass/fail threshold (repeatable, e.g. 'loss:percent < 1', 'latency:p99 < 50')")
	flags.String("label", "", "Protocol label for the report title")
	registerCommonFlags(flags)
}

func registerCommonFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")
}

// secondsDuration is a duration flag that also accepts bare numbers as seconds.
type secondsDuration time.Duration

func newSecondsDuration(d time.Duration) *secondsDuration {
	v := secondsDuration(d)
	return &v
}

func (d *secondsDuration) String() string { return time.Duration(*d).String() }

func (d *secondsDuration) Set(s string) error {
	v, err := asDuration(s)
	if err != nil {
		return err
	}
	*d = secondsDuration(v)
	return nil
}

func (d *secondsDuration) Type() string { return "duration" }

func getSecondsDuration(fs *pflag.FlagSet, name string) time.Duration {
	if f := fs.Lookup(name); f != nil {
		if v, ok := f.Value.(*secondsDuration); ok {
			return time.Duration(*v)
		}
	}
	return 0
}

// applyFlagOverrides applies changed command-line flags over cfg.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("protocol") {
		val, err := fs.GetString("protocol")
		if err != nil {
			return err
		}
		cfg.Protocol = Protocol(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("target") {
		val, err := fs.GetString("target")
		if err != nil {
			return err
		}
		cfg.Target = strings.TrimSpace(val)
	}
	if fs.Changed("bind") {
		val, err := fs.GetString("bind")
		if err != nil {
			return err
		}
		cfg.Bind = strings.TrimSpace(val)
	}
	if fs.Changed("total") {
		val, err := fs.GetInt64("total")
		if err != nil {
			return err
		}
		cfg.Total = val
	}
	if fs.Changed("duration") {
		cfg.Duration = getSecondsDuration(fs, "duration")
	}
	if fs.Changed("rate") {
		val, err := fs.GetFloat64("rate")
		if err != nil {
			return err
		}
		cfg.Rate = val
	}
	if fs.Changed("concurrency") {
		val, err := fs.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Concurrency = val
	}
	if fs.Changed("payload-size") {
		val, err := fs.GetInt("payload-size")
		if err != nil {
			return err
		}
		cfg.PayloadSize = val
	}
	if fs.Changed("timeout") {
		cfg.Timeout = getSecondsDuration(fs, "timeout")
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.RandomSeed = val
	}
	if fs.Changed("report") {
		val, err := fs.GetString("report")
		if err != nil {
			return err
		}
		cfg.ReportPath = strings.TrimSpace(val)
	}
	if fs.Changed("metrics-addr") {
		val, err := fs.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}
	if fs.Changed("progress-interval") {
		val, err := fs.GetDuration("progress-interval")
		if err != nil {
			return err
		}
		cfg.ProgressInterval = val
	}
	if err := applyLogFlags(&cfg.Log, fs); err != nil {
		return err
	}

	if fs.Changed("http-path") {
		val, err := fs.GetString("http-path")
		if err != nil {
			return err
		}
		cfg.HTTP.Path = strings.TrimSpace(val)
	}
	if fs.Changed("ws-path") {
		val, err := fs.GetString("ws-path")
		if err != nil {
			return err
		}
		cfg.WebSocket.Path = strings.TrimSpace(val)
	}
	if fs.Changed("ws-handshake-timeout") {
		val, err := fs.GetDuration("ws-handshake-timeout")
		if err != nil {
			return err
		}
		cfg.WebSocket.HandshakeTimeout = val
	}
	if fs.Changed("mqtt-topic") {
		val, err := fs.GetString("mqtt-topic")
		if err != nil {
			return err
		}
		cfg.MQTT.Topic = strings.TrimSpace(val)
	}
	if fs.Changed("mqtt-qos") {
		val, err := fs.GetInt("mqtt-qos")
		if err != nil {
			return err
		}
		cfg.MQTT.QoS = val
	}
	if fs.Changed("mqtt-client-id") {
		val, err := fs.GetString("mqtt-client-id")
		if err != nil {
			return err
		}
		cfg.MQTT.ClientID = strings.TrimSpace(val)
	}
	if fs.Changed("mqtt-username") {
		val, err := fs.GetString("mqtt-username")
		if err != nil {
			return err
		}
		cfg.MQTT.Username = val
	}
	if fs.Changed("mqtt-password") {
		val, err := fs.GetString("mqtt-password")
		if err != nil {
			return err
		}
		cfg.MQTT.Password = val
	}
	if fs.Changed("coap-resource") {
		val, err := fs.GetString("coap-resource")
		if err != nil {
			return err
		}
		cfg.CoAP.Resource = strings.TrimSpace(val)
	}
	if fs.Changed("grpc-method") {
		val, err := fs.GetString("grpc-method")
		if err != nil {
			return err
		}
		cfg.GRPC.Method = strings.TrimSpace(val)
	}
	if fs.Changed("grpc-tls") {
		val, err := fs.GetBool("grpc-tls")
		if err != nil {
			return err
		}
		cfg.GRPC.TLS = val
	}
	if fs.Changed("grpc-insecure") {
		val, err := fs.GetBool("grpc-insecure")
		if err != nil {
			return err
		}
		cfg.GRPC.Insecure = val
	}

	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		cfg.Tracing.ServiceName = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}
	return nil
}

func applyLogFlags(cfg *LogConfig, fs *pflag.FlagSet) error {
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Level = strings.TrimSpace(val)
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Format = strings.TrimSpace(val)
	}
	return nil
}

// applyAggregateFlags copies aggregate flags into cfg. Unlike the engine
// flags, defaults apply even when unchanged.
func applyAggregateFlags(cfg *AggregateConfig, fs *pflag.FlagSet, settings map[string]interface{}) error {
	pick := func(flag string, keys ...string) (string, error) {
		val, err := fs.GetString(flag)
		if err != nil {
			return "", err
		}
		if !fs.Changed(flag) {
			if raw, ok := lookupSetting(settings, keys...); ok {
				return asString(raw)
			}
		}
		return strings.TrimSpace(val), nil
	}

	var err error
	if cfg.SenderPath, err = pick("sender", "sender"); err != nil {
		return err
	}
	if cfg.ReceiverPath, err = pick("receiver", "receiver"); err != nil {
		return err
	}
	if cfg.OutputPath, err = pick("output", "output"); err != nil {
		return err
	}
	format, err := pick("format", "format")
	if err != nil {
		return err
	}
	cfg.Format = OutputFormat(strings.ToLower(format))
	if cfg.HTMLOutput, err = pick("html-output", "html_output", "html-output"); err != nil {
		return err
	}
	if cfg.Label, err = pick("label", "label"); err != nil {
		return err
	}

	if fs.Changed("threshold") {
		vals, err := fs.GetStringArray("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = vals
	} else if raw, ok := lookupSetting(settings, "thresholds"); ok {
		vals, err := asStringSlice(raw)
		if err != nil {
			return err
		}
		cfg.Thresholds = vals
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		if err := applyLogSettings(&cfg.Log, raw); err != nil {
			return err
		}
	}
	return applyLogFlags(&cfg.Log, fs)
}
