package runner

import (
	"context"
	"math"
	"time"
)

// idleYield is the pause between sends when no rate is configured.
const idleYield = time.Millisecond

// NextDeadline returns reference + seq/rate seconds. A non-positive rate
// yields reference unchanged.
func NextDeadline(reference time.Time, seq int64, rate float64) time.Time {
	if rate <= 0 || seq <= 0 {
		return reference
	}
	offset := float64(seq) / rate * float64(time.Second)
	if offset > math.MaxInt64 {
		offset = math.MaxInt64
	}
	return reference.Add(time.Duration(offset))
}

// Pacer schedules one worker's sends against a fixed reference time, so a
// worker that falls behind sleeps less instead of drifting. A Pacer is not
// safe for concurrent use; each worker owns one.
type Pacer struct {
	reference time.Time
	rate      float64
	seq       int64
	arrival   arrivalSchedule
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPacer returns a uniform pacer for rate messages per second.
func NewPacer(reference time.Time, rate float64) *Pacer {
	return newPacer(reference, rate, nil)
}

func newPacer(reference time.Time, rate float64, arrival arrivalSchedule) *Pacer {
	if rate < 0 {
		rate = 0
	}
	return &Pacer{
		reference: reference,
		rate:      rate,
		arrival:   arrival,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Next returns the deadline of the next send and advances the schedule.
func (p *Pacer) Next() time.Time {
	seq := p.seq
	p.seq++
	if p.arrival != nil {
		return p.arrival.deadline(p.reference, seq, p.rate)
	}
	return NextDeadline(p.reference, seq, p.rate)
}

// Wait blocks until the next send is due. With no rate it yields briefly.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.rate <= 0 {
		p.seq++
		return p.sleep(ctx, idleYield)
	}
	delay := p.Next().Sub(p.now())
	if delay <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
