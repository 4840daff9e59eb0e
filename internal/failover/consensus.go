package failover

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// HeadResult is one provider's answer to a head query.
type HeadResult struct {
	Provider string
	Head     uint64
	Err      error
}

// Heads queries every provider concurrently. Results are indexed like the
// provider list; a failed query is reported in Err and never cancels the others.
func (c *Controller) Heads(ctx context.Context) []HeadResult {
	results := make([]HeadResult, len(c.providers))

	var g errgroup.Group
	for i, p := range c.providers {
		g.Go(func() error {
			head, err := p.HeadNumber(ctx)
			results[i] = HeadResult{Provider: p.Name(), Head: head, Err: err}
			if err != nil {
				c.logger.Debug().Err(err).Str("provider", p.Name()).Msg("head query failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Plurality returns the most frequent head among successful results. Ties go to
// the value seen first. ok is false when no result succeeded.
func Plurality(heads []HeadResult) (head uint64, ok bool) {
	counts := make(map[uint64]int, len(heads))
	order := make([]uint64, 0, len(heads))
	for _, h := range heads {
		if h.Err != nil {
			continue
		}
		if counts[h.Head] == 0 {
			order = append(order, h.Head)
		}
		counts[h.Head]++
	}
	if len(order) == 0 {
		return 0, false
	}

	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best, true
}
