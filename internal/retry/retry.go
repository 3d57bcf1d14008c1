package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/wallchat/internal/neterr"
	"go.uber.org/zap"
)

// Option customizes a single Do call.
type Option func(*options)

type options struct {
	logger *zap.Logger
	name   string
}

// WithLogger logs each scheduled retry.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithName labels log lines for the operation.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// policyBackOff feeds Policy.Delay into backoff's retry loop without jitter
// and stops after MaxAttempts retries.
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	d := b.policy.Delay(b.attempt)
	b.attempt++
	return d
}

func (b *policyBackOff) Reset() { b.attempt = 0 }

// Do runs op under policy p. Successful results are returned unchanged.
// Non-retriable errors are returned after one attempt; retriable errors are
// retried up to p.MaxAttempts times, waiting p.Delay(n) between attempts. If
// ctx is cancelled while waiting, no further attempt is made and a
// neterr.Cancelled error is returned.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	o := options{logger: zap.NewNop(), name: "operation"}
	for _, opt := range opts {
		opt(&o)
	}

	if err := ctx.Err(); err != nil {
		var zero T
		return zero, neterr.New(neterr.Cancelled, err)
	}

	attempts := 0
	wrapped := func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if !p.ShouldRetry(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, next time.Duration) {
		o.logger.Warn("retrying after transient failure",
			zap.String("op", o.name),
			zap.Int("attempt", attempts),
			zap.Duration("delay", next),
			zap.Error(err))
	}

	res, err := backoff.RetryNotifyWithData(wrapped, backoff.WithContext(&policyBackOff{policy: p}, ctx), notify)
	if err == nil {
		return res, nil
	}
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		var ne *neterr.Error
		if !errors.As(err, &ne) {
			err = neterr.New(neterr.Cancelled, err)
		}
	}
	o.logger.Debug("operation failed",
		zap.String("op", o.name),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return res, err
}
