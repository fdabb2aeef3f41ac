package runner

import (
	"testing"
	"time"
)

func TestOptionsNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    Options
		validate func(*testing.T, Options)
	}{
		{
			name:  "defaults",
			input: Options{},
			validate: func(t *testing.T, o Options) {
				if o.Concurrency != 1 {
					t.Errorf("Concurrency = %d, want 1", o.Concurrency)
				}
				if o.ArrivalModel != ArrivalModelUniform {
					t.Errorf("ArrivalModel = %q, want %q", o.ArrivalModel, ArrivalModelUniform)
				}
				if o.SendTimeout != DefaultSendTimeout {
					t.Errorf("SendTimeout = %s, want %s", o.SendTimeout, DefaultSendTimeout)
				}
				if o.RandomSeed == 0 {
					t.Error("RandomSeed should be non-zero")
				}
				if o.Logger == nil || o.FailureLogger == nil || o.Clock == nil || o.Counters == nil {
					t.Error("logger, failure logger, clock and counters should be set")
				}
			},
		},
		{
			name: "negative values corrected",
			input: Options{
				Concurrency:   -5,
				TotalMessages: -10,
				RatePerWorker: -1,
				Duration:      -time.Second,
			},
			validate: func(t *testing.T, o Options) {
				if o.Concurrency != 1 {
					t.Errorf("Concurrency = %d, want 1", o.Concurrency)
				}
				if o.TotalMessages != 0 {
					t.Errorf("TotalMessages = %d, want 0", o.TotalMessages)
				}
				if o.RatePerWorker != 0 {
					t.Errorf("RatePerWorker = %g, want 0", o.RatePerWorker)
				}
				if o.Duration != 0 {
					t.Errorf("Duration = %s, want 0", o.Duration)
				}
			},
		},
		{
			name: "preserve valid values",
			input: Options{
				Concurrency:   10,
				TotalMessages: 100,
				RatePerWorker: 2.5,
				SendTimeout:   time.Second,
				ArrivalModel:  ArrivalModelPoisson,
				RandomSeed:    12345,
			},
			validate: func(t *testing.T, o Options) {
				if o.Concurrency != 10 || o.TotalMessages != 100 || o.RatePerWorker != 2.5 {
					t.Errorf("values changed: %+v", o)
				}
				if o.SendTimeout != time.Second {
					t.Errorf("SendTimeout = %s, want 1s", o.SendTimeout)
				}
				if o.ArrivalModel != ArrivalModelPoisson || o.RandomSeed != 12345 {
					t.Errorf("arrival settings changed: %q %d", o.ArrivalModel, o.RandomSeed)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.input
			opts.normalize()
			tt.validate(t, opts)
		})
	}
}
