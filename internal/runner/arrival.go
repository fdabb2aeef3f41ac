package runner

import (
	"math"
	"math/rand"
	"time"
)

// ArrivalModel selects how send deadlines are spaced.
type ArrivalModel string

const (
	// ArrivalModelUniform spaces sends exactly 1/rate apart.
	ArrivalModelUniform ArrivalModel = "uniform"
	// ArrivalModelPoisson draws exponential gaps with mean 1/rate.
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// arrivalSchedule computes the deadline of send seq.
type arrivalSchedule interface {
	deadline(reference time.Time, seq int64, rate float64) time.Time
}

// poissonSchedule accumulates exponential gaps from the shared reference,
// so sampling noise never turns into drift of the mean rate.
type poissonSchedule struct {
	sample func() float64
	sum    float64 // seconds × rate accumulated so far
	next   int64
}

func newPoissonSchedule(sample func() float64) *poissonSchedule {
	return &poissonSchedule{sample: sample}
}

func (p *poissonSchedule) deadline(reference time.Time, seq int64, rate float64) time.Time {
	if rate <= 0 || p.sample == nil {
		return reference
	}
	for p.next < seq {
		p.sum += p.sample()
		p.next++
	}
	offset := p.sum / rate * float64(time.Second)
	if offset > math.MaxInt64 {
		offset = math.MaxInt64
	}
	return reference.Add(time.Duration(offset))
}

// newWorkerPacer builds the pacer for one worker under opt's arrival model.
func newWorkerPacer(opt Options, worker int, reference time.Time) *Pacer {
	if opt.ArrivalModel != ArrivalModelPoisson || opt.RatePerWorker <= 0 {
		return NewPacer(reference, opt.RatePerWorker)
	}
	sampler := opt.PoissonSampler
	if sampler == nil {
		seeded := rand.New(rand.NewSource(opt.RandomSeed + int64(worker)))
		sampler = seeded.ExpFloat64
	}
	return newPacer(reference, opt.RatePerWorker, newPoissonSchedule(sampler))
}
