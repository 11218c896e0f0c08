package fsutil

import (
	"context"
	"fmt"
	"time"
)

// Checkpoint writes race with backup agents and sync clients holding the
// file open; these settings bound how long a rename keeps trying.
var (
	renameAttempts = 5
	renameBackoff  = 100 * time.Millisecond
)

// retry calls fn until it succeeds, fails with an error other than a busy or
// would-block errno, or runs out of attempts. The wait doubles each time.
func retry(ctx context.Context, op string, fn func() error) error {
	wait := renameBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt >= renameAttempts {
			return fmt.Errorf("%s: still failing after %d attempts: %w", op, attempt, err)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), err)
		case <-t.C:
		}
		wait *= 2
	}
}
