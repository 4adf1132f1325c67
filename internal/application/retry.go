package application

import (
	"context"
	"errors"
	"time"

	"github.com/bnema/redpost/internal/ports"
)

// Escalating delay ladder; the last rung repeats once exhausted.
var backoffLadder = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error so RetryWithBackoff stops immediately
// instead of burning the remaining budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithBackoff invokes fn up to budget times, sleeping along the
// backoff ladder between attempts. It returns the number of attempts
// made and, if the budget ran out, the last error.
func RetryWithBackoff(ctx context.Context, clock ports.Clock, budget int, fn func(ctx context.Context) error) (int, error) {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if budget < 1 {
		budget = 1
	}

	var last error
	for attempt := 1; attempt <= budget; attempt++ {
		last = fn(ctx)
		if last == nil {
			return attempt, nil
		}

		var perm *permanentError
		if errors.As(last, &perm) {
			return attempt, perm.err
		}

		if attempt < budget {
			delay := backoffLadder[len(backoffLadder)-1]
			if attempt-1 < len(backoffLadder) {
				delay = backoffLadder[attempt-1]
			}
			if err := clock.Sleep(ctx, delay); err != nil {
				return attempt, last
			}
		}
	}
	return budget, last
}
