package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter publishes engine counters in Prometheus format.
// A nil *Exporter is valid and records nothing.
type Exporter struct {
	registry *prometheus.Registry
	messages prometheus.Counter
	bytes    prometheus.Counter
	failures *prometheus.CounterVec
	rejected prometheus.Counter
	phase    prometheus.Gauge
}

// NewExporter builds an Exporter on a private registry, labelled with the engine role.
func NewExporter(role string) *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"role": role}

	return &Exporter{
		registry: reg,
		messages: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "msgmeter",
			Name:        "messages_total",
			Help:        "Messages successfully sent or received.",
			ConstLabels: labels,
		}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "msgmeter",
			Name:        "payload_bytes_total",
			Help:        "Payload bytes successfully sent or received.",
			ConstLabels: labels,
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "msgmeter",
			Name:        "failures_total",
			Help:        "Skipped sends by error type.",
			ConstLabels: labels,
		}, []string{"type"}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "msgmeter",
			Name:        "rejected_total",
			Help:        "Messages refused because the engine was no longer running.",
			ConstLabels: labels,
		}),
		phase: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "msgmeter",
			Name:        "run_phase",
			Help:        "Lifecycle phase: 0 running, 1 shutting down, 2 stopped.",
			ConstLabels: labels,
		}),
	}
}

// ObserveMessage counts one successful message of the given size.
func (e *Exporter) ObserveMessage(size int) {
	if e == nil {
		return
	}
	e.messages.Inc()
	e.bytes.Add(float64(size))
}

// ObserveFailure counts one skipped send.
func (e *Exporter) ObserveFailure(err error) {
	if e == nil || err == nil {
		return
	}
	e.failures.WithLabelValues(FriendlyErrorName(fmt.Sprintf("%T", err))).Inc()
}

// ObserveRejected counts one message refused during shutdown.
func (e *Exporter) ObserveRejected() {
	if e == nil {
		return
	}
	e.rejected.Inc()
}

// SetPhase records the engine lifecycle phase.
func (e *Exporter) SetPhase(phase int) {
	if e == nil {
		return
	}
	e.phase.Set(float64(phase))
}

// Handler serves the registry.
func (e *Exporter) Handler() http.Handler {
	if e == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	if e == nil {
		return nil
	}
	return e.registry
}

// Serve binds addr and serves /metrics until ctx is done. Bind errors are returned synchronously.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return nil
}
