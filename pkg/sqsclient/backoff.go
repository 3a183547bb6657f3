package sqsclient

import (
	"math/rand/v2"
	"time"
)

// backoff computes jittered exponential delays: the exponential step is
// halved and the other half drawn uniformly, so concurrent retriers
// spread out instead of thundering in lockstep.
type backoff struct {
	base time.Duration
	cap  time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	d := b.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.cap {
			d = b.cap
			break
		}
	}
	half := d / 2
	return half + rand.N(half+1)
}
