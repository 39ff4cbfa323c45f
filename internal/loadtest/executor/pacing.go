package executor

import (
	"math/rand"
	"time"
)

// Delay returns how long a VU should wait after an iteration.
// A nil config means no pacing.
func (p *PacingConfig) Delay() time.Duration {
	if p == nil {
		return 0
	}

	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		diff := p.Max - p.Min
		if diff > 0 {
			return p.Min + time.Duration(rand.Int63n(int64(diff)))
		}
		return p.Min
	default:
		return 0
	}
}
