package outbox

import (
	"math/rand/v2"
	"time"
)

// NextBackoff computes the delay before a row's next attempt. The claim that
// just failed already incremented attempts, so attempts=1 yields the base
// delay, doubling per attempt up to ceiling, with up to 10% random jitter so
// rows rescheduled together do not become claimable in one thundering herd.
func NextBackoff(attempts int, base, ceiling time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= ceiling {
			delay = ceiling
			break
		}
	}
	if delay > ceiling {
		delay = ceiling
	}

	jitter := time.Duration(rand.Int64N(int64(delay)/10 + 1))

	return delay + jitter
}
