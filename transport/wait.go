package transport

import (
	"errors"
	"time"

	"github.com/latticehalo/haloflux/fi"
)

// waitForCompletionContext polls cq until it resolves target, mirroring the
// unexported poll loop in fi/wait.go (that helper isn't exported; within fi
// only the package's tests call it).
// The coordinator needs post and wait as separate steps so it can restart a
// persistent-emulated handle only after the previous one has drained, so it
// reimplements the same poll-and-resolve shape here against the public
// CompletionQueue surface.
func waitForCompletionContext(cq *fi.CompletionQueue, target *fi.CompletionContext, timeout time.Duration) error {
	if target == nil {
		return nil
	}
	if cq == nil {
		return errors.New("transport: nil completion queue")
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		evt, err := cq.ReadContext()
		if err != nil {
			if errors.Is(err, fi.ErrNoCompletion) {
				if timeout > 0 && time.Now().After(deadline) {
					return fi.ErrTimeout
				}
				time.Sleep(time.Millisecond)
				continue
			}
			return err
		}
		resolved, err := evt.Resolve()
		if err != nil {
			if errors.Is(err, fi.ErrContextUnknown) {
				continue
			}
			return err
		}
		if resolved == target {
			return nil
		}
	}
}
