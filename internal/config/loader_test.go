package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsBool(t *testing.T) {
	tests := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{"true", true},
		{"1", true},
		{false, false},
		{"false", false},
		{"0", false},
		{nil, false},
	}

	for _, tt := range tests {
		got, err := asBool(tt.input)
		if err != nil {
			t.Errorf("asBool(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"1m", time.Minute},
		{10, 10 * time.Second}, // int treated as seconds
		{"30", 30 * time.Second},
		{1.5, 1500 * time.Millisecond},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := defaultConfig(ModeSend)
	settings := map[string]interface{}{
		"target":       "http://example.com",
		"protocol":     "MQTT",
		"concurrency":  10,
		"rate":         2.5,
		"timeout":      "5s",
		"duration":     30,
		"payload_size": 512,
		"mqtt": map[string]interface{}{
			"topic": "sensors/x",
			"qos":   1,
		},
		"log": map[string]interface{}{
			"level":  "debug",
			"format": "json",
		},
		"tracing": map[string]interface{}{
			"endpoint":    "localhost:4317",
			"sample_rate": 0.5,
			"propagate":   true,
		},
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.Target != "http://example.com" {
		t.Errorf("Target = %q, want http://example.com", cfg.Target)
	}
	if cfg.Protocol != ProtocolMQTT {
		t.Errorf("Protocol = %q, want mqtt", cfg.Protocol)
	}
	if cfg.Concurrency != 10 {
		t.Errorf("Concurrency = %d, want 10", cfg.Concurrency)
	}
	if cfg.Rate != 2.5 {
		t.Errorf("Rate = %g, want 2.5", cfg.Rate)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.Duration != 30*time.Second {
		t.Errorf("Duration = %v, want 30s", cfg.Duration)
	}
	if cfg.PayloadSize != 512 {
		t.Errorf("PayloadSize = %d, want 512", cfg.PayloadSize)
	}
	if cfg.MQTT.Topic != "sensors/x" || cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.SampleRate != 0.5 || !cfg.Tracing.ShouldPropagate() {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := defaultConfig(ModeSend)
	cfg.Target = "http://from-file"

	cmd := &cobra.Command{Use: "send"}
	RegisterSendFlags(cmd)
	fs := cmd.Flags()

	args := []string{
		"--concurrency=5",
		"--target=http://from-flag",
		"-d", "10",
		"--timeout=750ms",
		"-r", "20",
		"--arrival-model=POISSON",
		"--grpc-insecure",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.Concurrency != 5 {
		t.Errorf("Concurrency = %d, want 5", cfg.Concurrency)
	}
	if cfg.Target != "http://from-flag" {
		t.Errorf("Target = %q, want http://from-flag", cfg.Target)
	}
	if cfg.Duration != 10*time.Second {
		t.Errorf("Duration = %v, want 10s", cfg.Duration)
	}
	if cfg.Timeout != 750*time.Millisecond {
		t.Errorf("Timeout = %v, want 750ms", cfg.Timeout)
	}
	if cfg.Rate != 20 {
		t.Errorf("Rate = %g, want 20", cfg.Rate)
	}
	if cfg.Arrival != ArrivalModelPoisson {
		t.Errorf("Arrival = %q, want poisson", cfg.Arrival)
	}
	if !cfg.GRPC.Insecure {
		t.Error("GRPC.Insecure = false, want true")
	}
	if cfg.PayloadSize != DefaultPayloadSize {
		t.Errorf("unchanged flag should not override PayloadSize, got %d", cfg.PayloadSize)
	}
}

func TestSecondsDurationFlag(t *testing.T) {
	d := newSecondsDuration(0)
	if err := d.Set("2.5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if time.Duration(*d) != 2500*time.Millisecond {
		t.Errorf("got %s, want 2.5s", d)
	}
	if err := d.Set("1m"); err != nil || time.Duration(*d) != time.Minute {
		t.Errorf("Set(1m) = %s, %v", d, err)
	}
	if err := d.Set("soon"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if d.Type() != "duration" {
		t.Errorf("Type() = %q", d.Type())
	}
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "msgmeter.yaml")
	body := "protocol: coap\ntarget: localhost:5683\nrate: 10\ncoap:\n  resource: sensors\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	env := map[string]string{
		"MSGMETER_RATE":          "25",
		"MSGMETER_COAP_RESOURCE": "override",
	}
	loader := Loader{Getenv: func(k string) string { return env[k] }}

	cmd := &cobra.Command{Use: "send"}
	RegisterSendFlags(cmd)
	if err := cmd.Flags().Parse([]string{"--config", path, "-c", "3"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loader.LoadEngine(ModeSend, cmd.Flags())
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	if cfg.Protocol != ProtocolCoAP {
		t.Errorf("Protocol = %q, want coap", cfg.Protocol)
	}
	if cfg.Rate != 25 {
		t.Errorf("Rate = %g, want 25 from env", cfg.Rate)
	}
	if cfg.CoAP.Resource != "override" {
		t.Errorf("CoAP.Resource = %q, want override", cfg.CoAP.Resource)
	}
	if cfg.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3 from flag", cfg.Concurrency)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
}

func TestValidateWarnsOnHighLoad(t *testing.T) {
	cfg := defaultConfig(ModeSend)
	cfg.Target = "http://h"
	cfg.Concurrency = 600
	cfg.Rate = 100
	cfg.Total = 50
	cfg.Duration = time.Second

	var buf bytes.Buffer
	if err := cfg.validate(&buf); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"High concurrency", "High aggregate rate", "--total 50 is overridden"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected warning %q, got %q", want, out)
		}
	}
}
