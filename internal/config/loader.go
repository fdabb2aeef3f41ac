package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MSGMETER_RATE or MSGMETER_MQTT_TOPIC.
const EnvPrefix = "MSGMETER"

// ErrHelpRequested is returned when help was printed instead of running a command.
var ErrHelpRequested = errors.New("help requested")

// engineKeys are the settings that may come from a config file or the environment.
var engineKeys = []string{
	"protocol", "target", "bind", "total", "duration", "rate", "concurrency",
	"payload_size", "timeout", "report", "arrival_model", "seed", "metrics_addr",
	"progress_interval",
	"log.level", "log.format",
	"tracing.endpoint", "tracing.protocol", "tracing.service_name", "tracing.sample_rate",
	"tracing.insecure", "tracing.propagate",
	"http.path",
	"websocket.path", "websocket.handshake_timeout",
	"mqtt.topic", "mqtt.qos", "mqtt.client_id", "mqtt.username", "mqtt.password",
	"coap.resource",
	"grpc.method", "grpc.tls", "grpc.insecure",
}

var aggregateKeys = []string{
	"sender", "receiver", "output", "format", "html_output", "thresholds", "label",
	"log.level", "log.format",
}

// Loader merges defaults, an optional config file, MSGMETER_* environment
// variables and command-line flags, in increasing precedence.
type Loader struct {
	// Getenv is consulted instead of the process environment when set.
	Getenv func(string) string
}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadEngine builds the send or receive configuration from parsed flags.
func (l Loader) LoadEngine(mode Mode, fs *pflag.FlagSet) (*Config, error) {
	configPath, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}
	settings, err := l.readSettings(configPath, engineKeys)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig(mode)
	cfg.ConfigFile = configPath
	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, fs); err != nil {
		return nil, err
	}
	cfg.Protocol = Protocol(strings.ToLower(strings.TrimSpace(string(cfg.Protocol))))
	return cfg, nil
}

// LoadAggregate builds the aggregate configuration from parsed flags.
func (l Loader) LoadAggregate(fs *pflag.FlagSet) (*AggregateConfig, error) {
	configPath, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}
	settings, err := l.readSettings(configPath, aggregateKeys)
	if err != nil {
		return nil, err
	}

	cfg := &AggregateConfig{
		Format:     FormatText,
		Log:        LogConfig{Level: "info", Format: "console"},
		ConfigFile: configPath,
	}
	if err := applyAggregateFlags(cfg, fs, settings); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l Loader) readSettings(configPath string, keys []string) (map[string]interface{}, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if l.Getenv != nil {
		for _, key := range keys {
			envName := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
			if val := l.Getenv(envName); val != "" {
				v.Set(key, val)
			}
		}
	} else {
		for _, key := range keys {
			if err := v.BindEnv(key); err != nil {
				return nil, fmt.Errorf("bind env %s: %w", key, err)
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	return v.AllSettings(), nil
}

// applyConfigSettings applies settings from a config file or the environment.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		if val != "" {
			cfg.Protocol = Protocol(strings.ToLower(strings.TrimSpace(val)))
		}
	}
	if raw, ok := lookupSetting(settings, "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.Target = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "bind"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("bind: %w", err)
		}
		cfg.Bind = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "total", "count"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return fmt.Errorf("total: %w", err)
		}
		cfg.Total = val
	}
	if raw, ok := lookupSetting(settings, "duration", "time"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = dur
	}
	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.Rate = val
	}
	if raw, ok := lookupSetting(settings, "concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
		cfg.Concurrency = val
	}
	if raw, ok := lookupSetting(settings, "payload_size", "payloadsize", "payload-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("payload_size: %w", err)
		}
		cfg.PayloadSize = val
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}
	if raw, ok := lookupSetting(settings, "report"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		cfg.ReportPath = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "arrival_model", "arrivalmodel", "arrival-model"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("arrival_model: %w", err)
		}
		cfg.Arrival = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		cfg.RandomSeed = val
	}
	if raw, ok := lookupSetting(settings, "metrics_addr", "metricsaddr", "metrics-addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "progress_interval", "progressinterval", "progress-interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("progress_interval: %w", err)
		}
		cfg.ProgressInterval = dur
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		if err := applyLogSettings(&cfg.Log, raw); err != nil {
			return err
		}
	}
	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return err
		}
	}
	if raw, ok := lookupSetting(settings, "http"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		if v, ok := lookupSetting(section, "path"); ok {
			val, _ := asString(v)
			cfg.HTTP.Path = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(settings, "websocket"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("websocket: %w", err)
		}
		if v, ok := lookupSetting(section, "path"); ok {
			val, _ := asString(v)
			cfg.WebSocket.Path = strings.TrimSpace(val)
		}
		if v, ok := lookupSetting(section, "handshake_timeout", "handshaketimeout"); ok {
			dur, err := asDuration(v)
			if err != nil {
				return fmt.Errorf("websocket.handshake_timeout: %w", err)
			}
			cfg.WebSocket.HandshakeTimeout = dur
		}
	}
	if raw, ok := lookupSetting(settings, "mqtt"); ok {
		if err := applyMQTTSettings(&cfg.MQTT, raw); err != nil {
			return err
		}
	}
	if raw, ok := lookupSetting(settings, "coap"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("coap: %w", err)
		}
		if v, ok := lookupSetting(section, "resource"); ok {
			val, _ := asString(v)
			cfg.CoAP.Resource = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(settings, "grpc"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
		if v, ok := lookupSetting(section, "method"); ok {
			val, _ := asString(v)
			cfg.GRPC.Method = strings.TrimSpace(val)
		}
		if v, ok := lookupSetting(section, "tls"); ok {
			b, err := asBool(v)
			if err != nil {
				return fmt.Errorf("grpc.tls: %w", err)
			}
			cfg.GRPC.TLS = b
		}
		if v, ok := lookupSetting(section, "insecure"); ok {
			b, err := asBool(v)
			if err != nil {
				return fmt.Errorf("grpc.insecure: %w", err)
			}
			cfg.GRPC.Insecure = b
		}
	}
	return nil
}

func applyLogSettings(cfg *LogConfig, raw interface{}) error {
	section, err := toStringKeyMap(raw)
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if v, ok := lookupSetting(section, "level"); ok {
		val, _ := asString(v)
		cfg.Level = strings.TrimSpace(val)
	}
	if v, ok := lookupSetting(section, "format"); ok {
		val, _ := asString(v)
		cfg.Format = strings.TrimSpace(val)
	}
	return nil
}

func applyTracingSettings(cfg *TracingConfig, raw interface{}) error {
	section, err := toStringKeyMap(raw)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if v, ok := lookupSetting(section, "endpoint"); ok {
		val, _ := asString(v)
		cfg.Endpoint = strings.TrimSpace(val)
	}
	if v, ok := lookupSetting(section, "protocol"); ok {
		val, _ := asString(v)
		cfg.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if v, ok := lookupSetting(section, "service_name", "servicename"); ok {
		val, _ := asString(v)
		cfg.ServiceName = val
	}
	if v, ok := lookupSetting(section, "sample_rate", "samplerate"); ok {
		f, err := asFloat64(v)
		if err != nil {
			return fmt.Errorf("tracing.sample_rate: %w", err)
		}
		cfg.SampleRate = f
	}
	if v, ok := lookupSetting(section, "insecure"); ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("tracing.insecure: %w", err)
		}
		cfg.Insecure = b
	}
	if v, ok := lookupSetting(section, "propagate"); ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("tracing.propagate: %w", err)
		}
		cfg.Propagate = &b
	}
	return nil
}

func applyMQTTSettings(cfg *MQTTConfig, raw interface{}) error {
	section, err := toStringKeyMap(raw)
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if v, ok := lookupSetting(section, "topic"); ok {
		val, _ := asString(v)
		cfg.Topic = strings.TrimSpace(val)
	}
	if v, ok := lookupSetting(section, "qos"); ok {
		q, err := asInt(v)
		if err != nil {
			return fmt.Errorf("mqtt.qos: %w", err)
		}
		cfg.QoS = q
	}
	if v, ok := lookupSetting(section, "client_id", "clientid"); ok {
		val, _ := asString(v)
		cfg.ClientID = strings.TrimSpace(val)
	}
	if v, ok := lookupSetting(section, "username"); ok {
		val, _ := asString(v)
		cfg.Username = val
	}
	if v, ok := lookupSetting(section, "password"); ok {
		val, _ := asString(v)
		cfg.Password = val
	}
	return nil
}
