// Package retry runs an operation again after a transient failure.
package retry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/types"
)

var promRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "elector_retries_total",
	Help: "number of additional attempts per operation",
}, []string{"operation"})

func init() {
	elector.PromCollectors = append(elector.PromCollectors, promRetries)
}

// Policy is the retry policy of an operation: a number of attempts separated
// by a fixed delay.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Default is the policy applied to ledger operations.
var Default = Policy{
	Attempts: 3,
	Delay:    time.Second,
}

// Once is a policy without retry.
var Once = Policy{Attempts: 1}

// Do calls the function until it succeeds, returns a non-transient error or
// the attempts are exhausted. It returns the number of attempts made and the
// last error. The delay is interrupted when the context is done.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error

	for i := 1; i <= attempts; i++ {
		err = fn(i)
		if err == nil || !types.IsRetryable(err) {
			return i, err
		}

		if i == attempts {
			return i, err
		}

		timer := time.NewTimer(p.Delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return i, err
		case <-timer.C:
		}
	}

	return attempts, err
}

// Run is like Do but it logs and counts the additional attempts of the named
// operation.
func (p Policy) Run(ctx context.Context, op string, fn func() error) (int, error) {
	return p.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			promRetries.WithLabelValues(op).Inc()
		}

		err := fn()
		if err != nil && types.IsRetryable(err) {
			elector.Logger.Debug().
				Str("operation", op).
				Int("attempt", attempt).
				Err(err).
				Msg("transient failure")
		}

		return err
	})
}
