package workflow

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// RetryingTrigger повторяет временные ошибки запуска с экспоненциальной задержкой.
// PermanentError прекращает повторы сразу.
type RetryingTrigger struct {
	delegate     Trigger
	buildBackoff func() backoff.BackOff
}

// NewRetryingTrigger оборачивает delegate. factory == nil — задержки по умолчанию
// с общим лимитом maxElapsed.
func NewRetryingTrigger(delegate Trigger, maxElapsed time.Duration, factory func() backoff.BackOff) *RetryingTrigger {
	if factory == nil {
		factory = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = maxElapsed
			return b
		}
	}
	return &RetryingTrigger{delegate: delegate, buildBackoff: factory}
}

// Start реализует Trigger.
func (r *RetryingTrigger) Start(ctx context.Context, req Request) (Execution, error) {
	var exec Execution
	op := func() error {
		var err error
		exec, err = r.delegate.Start(ctx, req)
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(r.buildBackoff(), ctx)); err != nil {
		return Execution{}, err
	}
	return exec, nil
}

var _ Trigger = (*RetryingTrigger)(nil)
