package swap

import (
	"math/rand"
	"time"
)

// RetryPolicy controls retries of a failed attempt within one cycle.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	MaxDelay   time.Duration
	Jitter     float64 // 0.2 = ±20%
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Base:       time.Minute,
		MaxDelay:   30 * time.Minute,
		Jitter:     0.2,
	}
}

// WithDefaults fills zero fields from DefaultRetryPolicy. MaxRetries < 0 becomes 0.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.Base {
		p.MaxDelay = p.Base
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the wait before retry number retry (1-based):
// Base * 2^(retry-1), capped at MaxDelay, with ±Jitter applied when rng is set.
func (p RetryPolicy) Delay(retry int, rng *rand.Rand) time.Duration {
	p = p.WithDefaults()
	if retry < 1 {
		retry = 1
	}
	d := p.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
	}
	if d < 0 {
		d = 0
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
