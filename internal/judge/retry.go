package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type RetryPolicy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Retrying bounds every call to Next by AttemptTimeout and retries transient failures with
// exponential backoff. After MaxAttempts the error wraps ErrUnavailable.
type Retrying struct {
	Next   Gateway
	Policy RetryPolicy
	Logger *zap.Logger
}

func NewRetrying(next Gateway, p RetryPolicy, logger *zap.Logger) *Retrying {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &Retrying{Next: next, Policy: p, Logger: logger}
}

func (r *Retrying) Evaluate(ctx context.Context, req Request) (Verdict, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.Policy.InitialBackoff
	eb.MaxInterval = r.Policy.MaxBackoff
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.Policy.MaxAttempts-1)), ctx)

	var (
		v       Verdict
		attempt int
	)
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.Policy.AttemptTimeout)
		defer cancel()

		res, err := r.Next.Evaluate(callCtx, req)
		if err != nil {
			r.Logger.Warn("judge attempt failed",
				zap.String("problem", req.ProblemID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		v = res
		return nil
	}

	if err := backoff.Retry(op, b); err != nil {
		return Verdict{}, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, attempt, err)
	}
	return v, nil
}
