package pumpclient

import (
	"errors"
	"time"

	"evolverd/internal/rigclock"
)

// backoffDelay is the fixed 1s back-off between post_gcode decode retries.
// Kept as a function (rather than a bare constant) so a clamped or
// jittered schedule could replace it without touching call sites.
func backoffDelay() time.Duration { return time.Second }

// errMissingDoneKey marks the one transient failure post_gcode retries:
// the upload response decoded without a "done" key. Any other error from
// attempt is returned to the caller on the first try.
var errMissingDoneKey = errors.New("pumpclient: missing done key")

// retryDecode calls attempt up to maxAttempts times, sleeping backoffDelay
// between tries, but only when attempt fails with errMissingDoneKey. Any
// other error returns immediately without consuming a retry.
func retryDecode(clock rigclock.Clock, maxAttempts int, attempt func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var err error
	for i := 0; i < maxAttempts; i++ {
		err = attempt()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errMissingDoneKey) {
			return err
		}
		if i < maxAttempts-1 {
			clock.Sleep(backoffDelay())
		}
	}
	return err
}
