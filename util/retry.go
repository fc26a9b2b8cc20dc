package util

import (
	"fmt"
	"time"
)

// Retry is a bounded retry policy with a fixed backoff between
// attempts. Sleep is injectable so tests can exercise exhaustion
// without real delays; when nil, time.Sleep is used.
type Retry struct {
	Attempts int
	Backoff  time.Duration
	Sleep    func(time.Duration)
}

// Do runs op until it succeeds or the attempt budget is exhausted. The
// error of the last attempt is returned, wrapped with the attempt
// count. Attempts below 1 are treated as a single attempt.
func (r Retry) Do(op func() error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i < attempts-1 {
			sleep(r.Backoff)
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}
