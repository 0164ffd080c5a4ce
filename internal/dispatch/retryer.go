package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/goorderr"
	"github.com/simplesurance/gatekeeper/internal/logfields"
)

const (
	DefRetryTimeout               = 2 * time.Hour
	defBackoffInitialInterval     = 5 * time.Second
	defBackoffRandomizationFactor = 0.5
	defBackoffMaxInterval         = 10 * time.Minute
	retryerLoggerName             = "retryer"
)

// Retryer executes a function repeatedly until it was successful or a cancel
// condition happened.
type Retryer struct {
	logger       *zap.Logger
	shutdownChan chan struct{}

	defTimeout                 time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64
}

func NewRetryer() *Retryer {
	return &Retryer{
		logger:                     zap.L().Named(retryerLoggerName),
		shutdownChan:               make(chan struct{}),
		defTimeout:                 DefRetryTimeout,
		backoffInitialInterval:     defBackoffInitialInterval,
		backoffRandomizationFactor: defBackoffRandomizationFactor,
	}
}

func logFieldResult(val string) zap.Field {
	return zap.String("event_result", val)
}

// Run executes fn until it was successful, it returned an error that does
// not wrap goorderr.RetryableError, the retry timeout expired or the execution
// was aborted via the context.
// When Stop() was called, Run returns nil without executing fn again.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint

	ctx, cancel := context.WithTimeout(ctx, r.defTimeout)
	defer cancel()

	deadline, _ := ctx.Deadline()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	bo.MaxInterval = defBackoffMaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	logger := r.logger.With(logF...)

	for {
		select {
		case <-ctx.Done():
			logger.Info(
				"event processing cancelled",
				logfields.Event("event_processing_cancelled"),
				logFieldResult("cancelled"),
				zap.Uint("try_count", tryCnt),
			)

			return ctx.Err()

		case <-r.shutdownChan:
			logger.Info(
				"event loop terminating, event not processed",
				logfields.Event("event_processing_cancelled_evloop_terminated"),
				logFieldResult("cancelled"),
			)

			return nil

		case <-retryTimer.C:
			tryCnt++
			logger := logger.With(zap.Uint("try_count", tryCnt))

			err := fn(ctx)
			if err == nil {
				logger.Debug(
					"event processed successfully",
					logfields.Event("event_processed_successfully"),
					logFieldResult("success"),
				)

				return nil
			}

			logger = logger.With(zap.Error(err))

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					logger.Info(
						"event processing cancelled",
						logfields.Event("event_processing_cancelled"),
						logFieldResult("cancelled"),
					)

					return fmt.Errorf("%w: %w", ctxErr, err)
				}
			}

			var retryError *goorderr.RetryableError
			if !errors.As(err, &retryError) {
				logger.Error(
					"processing event failed, not retryable",
					logfields.Event("event_processing_failed"),
					logFieldResult("failure"),
				)

				return err
			}

			if retryError.After.After(deadline) {
				logger.Error(
					"processing event failed, next possible retry time is after timeout expiration",
					logfields.Event("event_processing_failed"),
					logFieldResult("failure"),
					zap.Time("earliest_allowed_retry", retryError.After),
				)

				return err
			}

			retryIn := time.Until(retryError.After)
			if retryError.After.IsZero() || retryIn <= 0 {
				retryIn = bo.NextBackOff()
			}

			retryTimer.Reset(retryIn)

			logger.Warn(
				"processing event failed, retry scheduled",
				logfields.Event("event_retry_scheduled"),
				zap.Duration("retry_in", retryIn),
				zap.Duration("retry_timeout", r.defTimeout),
			)
		}
	}
}

// Stop notifies all Run() methods to terminate.
// It does not wait for their termination.
func (r *Retryer) Stop() {
	r.logger.Debug("retryer terminating", logfields.Event("retryer_terminating"))

	select {
	case <-r.shutdownChan:
		return // already closed
	default:
		close(r.shutdownChan)
	}
}
