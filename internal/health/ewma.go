package health

import (
	"math"
	"time"
)

// Estimator is an exponentially-weighted moving average whose history loses half
// of its weight every half-life of wall-clock time, regardless of sample count.
type Estimator struct {
	decayRate float64 // per second

	value  float64
	last   time.Time
	primed bool

	now func() time.Time
}

// NewEstimator constructs an Estimator with the given half-life.
func NewEstimator(halfLife time.Duration) *Estimator {
	if halfLife <= 0 {
		panic("estimator half-life must be positive")
	}
	return &Estimator{
		decayRate: math.Ln2 / halfLife.Seconds(),
		now:       time.Now,
	}
}

// Update folds a new observation into the estimate at the current time.
func (e *Estimator) Update(sample float64) {
	now := e.now()
	if !e.primed {
		e.value = sample
		e.primed = true
		e.last = now
		return
	}

	dt := now.Sub(e.last).Seconds()
	if dt < 0 {
		dt = 0
	}
	w := math.Exp(-e.decayRate * dt)
	e.value = w*e.value + (1-w)*sample
	e.last = now
}

// Value returns the smoothed estimate, 0 before the first sample.
func (e *Estimator) Value() float64 {
	if !e.primed {
		return 0
	}
	return e.value
}
