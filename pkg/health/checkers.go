package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines run.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// StalenessCheck fails when last reports a time older than maxAge. A zero
// time is tolerated for grace after the check is created, which covers the
// first refresh cycle.
func StalenessCheck(last func() time.Time, maxAge, grace time.Duration) CheckFunc {
	created := time.Now()
	return func(_ context.Context) error {
		t := last()
		if t.IsZero() {
			if time.Since(created) < grace {
				return nil
			}
			return errors.New("no successful refresh yet")
		}
		if age := time.Since(t); age > maxAge {
			return errors.Errorf("last successful refresh %s ago exceeds %s", age.Round(time.Second), maxAge)
		}
		return nil
	}
}
