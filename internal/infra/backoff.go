package infra

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// CalculateBackoff returns an exponential backoff delay with jitter for
// the given retry count. Workers reset the count after a successful
// connection.
func CalculateBackoff(retryCount int) time.Duration {
	delay := backoffBase << uint(retryCount)
	if delay > backoffMax || delay <= 0 {
		delay = backoffMax
	}
	// Up to 25% jitter so reconnecting workers don't stampede.
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}
