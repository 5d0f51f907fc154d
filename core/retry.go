package core

import (
	"context"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
	"go.uber.org/multierr"
)

const (
	defaultRetryInitial = 100 * time.Millisecond
	defaultRetryMax     = 5 * time.Second
)

// RetryPolicy describes how often a failed asynchronous task is attempted.
// Zero Attempts means a single attempt. Main and Blocking tasks are never
// retried: their caller already gets the error synchronously.
type RetryPolicy struct {
	// Attempts is the maximum number of tries for a task.
	Attempts int `json:"attempts,omitempty"`

	// Initial is the first backoff duration.
	Initial time.Duration `json:"initial,omitempty"`

	// Max is the cap for backoff duration.
	Max time.Duration `json:"max,omitempty"`
}

// NoRetry returns a policy with a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{Attempts: 1}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Initial <= 0 {
		p.Initial = defaultRetryInitial
	}
	if p.Max <= 0 {
		p.Max = defaultRetryMax
	}
	return p
}

// run calls attempt until it succeeds, the attempts are exhausted or ctx is
// done. onRetry is invoked before each backoff sleep. When ctx ends during a
// sleep the returned error carries both the last failure and ctx.Err().
func (p RetryPolicy) run(ctx context.Context, attempt func() error, onRetry func(n int, delay time.Duration, err error)) error {
	pol := p.withDefaults()
	if pol.Attempts == 1 {
		return attempt()
	}

	bo := boff.New(pol.Initial, pol.Max, time.Now().UnixNano())

	var err error
	for n := 1; n <= pol.Attempts; n++ {
		if err = attempt(); err == nil {
			return nil
		}
		if n == pol.Attempts {
			break
		}

		delay := bo.Next()
		if onRetry != nil {
			onRetry(n, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return multierr.Append(err, ctx.Err())
		}
	}
	return err
}
