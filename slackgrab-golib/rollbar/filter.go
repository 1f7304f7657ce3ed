package rollbar

import (
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// newLimiter samples one in downSample reports and then rate limits the
// survivors to one per delay. Safe for concurrent use.
func newLimiter(downSample int, delay time.Duration) func() bool {
	var mu sync.Mutex
	random := rand.New(rand.NewSource(time.Now().UnixNano()))
	limiter := rate.NewLimiter(rate.Every(delay), 1)

	return func() bool {
		mu.Lock()
		defer mu.Unlock()
		return random.Intn(downSample) == 0 && limiter.Allow()
	}
}
