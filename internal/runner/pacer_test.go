package runner

import (
	"context"
	"testing"
	"time"
)

func TestNextDeadline(t *testing.T) {
	ref := time.Unix(1000, 0)
	tests := []struct {
		seq  int64
		rate float64
		want time.Duration
	}{
		{0, 10, 0},
		{1, 10, 100 * time.Millisecond},
		{25, 10, 2500 * time.Millisecond},
		{3, 0.5, 6 * time.Second},
		{5, 0, 0},
		{-1, 10, 0},
	}
	for _, tt := range tests {
		got := NextDeadline(ref, tt.seq, tt.rate).Sub(ref)
		if got != tt.want {
			t.Errorf("NextDeadline(seq=%d, rate=%g) offset = %s, want %s", tt.seq, tt.rate, got, tt.want)
		}
	}
}

func TestPacerCatchesUpWithoutBursting(t *testing.T) {
	ref := time.Unix(0, 0)
	now := ref.Add(250 * time.Millisecond)
	var slept []time.Duration

	p := NewPacer(ref, 10)
	p.now = func() time.Time { return now }
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}

	// Deadlines 0, 100ms, 200ms are already past; 300ms and 400ms are not.
	for i := 0; i < 5; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d = %s, want %s", i, slept[i], want[i])
		}
	}
}

func TestPacerUnthrottledYields(t *testing.T) {
	p := NewPacer(time.Now(), 0)
	var slept time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if slept != idleYield {
		t.Fatalf("expected %s yield, got %s", idleYield, slept)
	}
}

func TestPacerWaitCancelled(t *testing.T) {
	p := NewPacer(time.Now().Add(time.Hour), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("expected context error when cancelled")
	}
}

func TestPoissonScheduleStaysAnchored(t *testing.T) {
	ref := time.Unix(0, 0)
	sched := newPoissonSchedule(func() float64 { return 1 })
	if got := sched.deadline(ref, 0, 200); !got.Equal(ref) {
		t.Fatalf("first deadline should be the reference, got %s", got.Sub(ref))
	}
	// With unit samples the schedule degenerates to uniform spacing.
	for seq := int64(1); seq <= 5; seq++ {
		want := NextDeadline(ref, seq, 200)
		if got := sched.deadline(ref, seq, 200); !got.Equal(want) {
			t.Fatalf("seq %d: got %s want %s", seq, got.Sub(ref), want.Sub(ref))
		}
	}
}

func TestNewWorkerPacerSelectsModel(t *testing.T) {
	opt := Options{RatePerWorker: 10, ArrivalModel: ArrivalModelPoisson, PoissonSampler: func() float64 { return 2 }}
	p := newWorkerPacer(opt, 0, time.Unix(0, 0))
	if p.arrival == nil {
		t.Fatal("expected poisson schedule")
	}
	p.Next()
	if got := p.Next().Sub(time.Unix(0, 0)); got != 200*time.Millisecond {
		t.Fatalf("expected 200ms gap, got %s", got)
	}

	opt.ArrivalModel = ArrivalModelUniform
	if newWorkerPacer(opt, 0, time.Now()).arrival != nil {
		t.Fatal("uniform model should not use a schedule")
	}
}
