package metrics_test

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/torosent/msgmeter/internal/metrics"
)

func TestExporterCounts(t *testing.T) {
	exp := metrics.NewExporter("sender")
	exp.ObserveMessage(100)
	exp.ObserveMessage(50)
	exp.ObserveFailure(errors.New("boom"))
	exp.ObserveRejected()
	exp.SetPhase(2)

	if n, err := testutil.GatherAndCount(exp.Registry()); err != nil || n == 0 {
		t.Fatalf("expected gathered metrics, got %d err=%v", n, err)
	}

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`msgmeter_messages_total{role="sender"} 2`,
		`msgmeter_payload_bytes_total{role="sender"} 150`,
		`msgmeter_failures_total{role="sender",type="Transport error"} 1`,
		`msgmeter_rejected_total{role="sender"} 1`,
		`msgmeter_run_phase{role="sender"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output:\n%s", want, body)
		}
	}
}

func TestNilExporterIsSafe(t *testing.T) {
	var exp *metrics.Exporter
	exp.ObserveMessage(1)
	exp.ObserveFailure(errors.New("x"))
	exp.ObserveRejected()
	exp.SetPhase(1)
	if exp.Registry() != nil {
		t.Fatal("nil exporter should have nil registry")
	}
}
