package failover

import "time"

// Status is a point-in-time view of one provider.
type Status struct {
	Name    string
	Active  bool
	Healthy bool
	// Lag and ScoreErrorRatio are the smoothed values used for health decisions.
	Lag             time.Duration
	ScoreErrorRatio float64
	// AverageLatency and ErrorRatio come straight from the transport's recent calls.
	AverageLatency time.Duration
	ErrorRatio     float64
}

// Snapshot reports the state of every provider in list order.
func (c *Controller) Snapshot() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := int(c.active.Load())
	out := make([]Status, len(c.providers))
	for i, p := range c.providers {
		score := c.scores[i]
		out[i] = Status{
			Name:            p.Name(),
			Active:          i == active,
			Healthy:         score.Healthy(),
			Lag:             score.Lag(),
			ScoreErrorRatio: score.ErrorRatio(),
			AverageLatency:  p.AverageLatency(),
			ErrorRatio:      p.ErrorRatio(),
		}
	}
	return out
}

// ActiveHealthy reports whether the active provider currently scores healthy.
func (c *Controller) ActiveHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scores[c.active.Load()].Healthy()
}
