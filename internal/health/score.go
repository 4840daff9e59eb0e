// Package health scores RPC providers from smoothed lag and error-rate observations.
package health

import "time"

// Score tracks a provider's smoothed lag and error ratio against fixed thresholds.
type Score struct {
	lag  *Estimator
	errs *Estimator

	lagThreshold   time.Duration
	errorThreshold float64
}

// NewScore builds a Score whose estimators share the same half-life.
func NewScore(lagThreshold time.Duration, errorThreshold float64, halfLife time.Duration) *Score {
	return &Score{
		lag:            NewEstimator(halfLife),
		errs:           NewEstimator(halfLife),
		lagThreshold:   lagThreshold,
		errorThreshold: errorThreshold,
	}
}

// Update records one lag and one error-ratio observation.
func (s *Score) Update(lag time.Duration, errorRatio float64) {
	s.lag.Update(lag.Seconds())
	s.errs.Update(errorRatio)
}

// Healthy reports whether both smoothed values sit strictly below their thresholds.
// A provider that was never scored is healthy.
func (s *Score) Healthy() bool {
	return s.lag.Value() < s.lagThreshold.Seconds() && s.errs.Value() < s.errorThreshold
}

// Lag returns the smoothed lag.
func (s *Score) Lag() time.Duration {
	return time.Duration(s.lag.Value() * float64(time.Second))
}

// ErrorRatio returns the smoothed error ratio.
func (s *Score) ErrorRatio() float64 {
	return s.errs.Value()
}
