package savequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starford/pinboard/internal/apperr"
)

// SlowFunc is called once when a drain takes longer than its threshold. It
// returns false to cancel the drain. ctx is cancelled when the drain ends,
// so an implementation that prompts the user can dismiss its prompt.
type SlowFunc func(ctx context.Context) (keepWaiting bool)

// Drain waits until no save is in flight or pending and returns the error of
// the last completed write. After slowAfter, onSlow fires once; if it
// returns false, or ctx ends, Drain fails with apperr.ErrDrainCancelled.
// A zero slowAfter or nil onSlow disables the escalation.
func (q *Pipeline) Drain(ctx context.Context, slowAfter time.Duration, onSlow SlowFunc) error {
	if err := wait(ctx, slowAfter, onSlow, q.state); err != nil {
		return err
	}
	return q.Err()
}

// DrainAll drains every pipeline under a single slow threshold and joins the
// last write errors of all of them.
func DrainAll(ctx context.Context, queues []*Pipeline, slowAfter time.Duration, onSlow SlowFunc) error {
	state := func() (<-chan struct{}, bool) {
		for _, q := range queues {
			if ch, idle := q.state(); !idle {
				return ch, false
			}
		}
		return nil, true
	}
	if err := wait(ctx, slowAfter, onSlow, state); err != nil {
		return err
	}
	var errs []error
	for _, q := range queues {
		if err := q.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func wait(ctx context.Context, slowAfter time.Duration, onSlow SlowFunc, state func() (<-chan struct{}, bool)) error {
	idle, done := state()
	if done {
		return nil
	}

	var slow <-chan time.Time
	if slowAfter > 0 && onSlow != nil {
		timer := time.NewTimer(slowAfter)
		defer timer.Stop()
		slow = timer.C
	}

	promptCtx, cancelPrompt := context.WithCancel(ctx)
	defer cancelPrompt()
	var decision chan bool

	for {
		select {
		case <-idle:
			if idle, done = state(); done {
				return nil
			}

		case <-slow:
			slow = nil
			decision = make(chan bool, 1)
			go func() { decision <- onSlow(promptCtx) }()

		case keep := <-decision:
			decision = nil
			if !keep {
				return apperr.ErrDrainCancelled
			}

		case <-ctx.Done():
			return fmt.Errorf("%w: %w", apperr.ErrDrainCancelled, ctx.Err())
		}
	}
}
