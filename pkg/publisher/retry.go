package publisher

import (
	"context"
	"math/rand/v2"
	"time"
)

// withRetry runs fn up to attempts times with exponential backoff and
// jitter, stopping early when ctx is done. The last error is returned.
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		backoff := base << i
		sleep := backoff/2 + rand.N(backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}
