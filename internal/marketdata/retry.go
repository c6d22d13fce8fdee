package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RetryOptions tune the classified retry policy.
type RetryOptions struct {
	// MaxAttempts caps retries for transient network and rate-limit failures.
	MaxAttempts int
	// ServerErrorAttempts is the smaller cap applied to 5xx failures.
	ServerErrorAttempts int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
}

// RetryManager wraps provider calls with exponential backoff driven by the
// error taxonomy.
type RetryManager struct {
	opts   RetryOptions
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryManager constructs a RetryManager with defaults applied.
func NewRetryManager(opts RetryOptions, logger zerolog.Logger) *RetryManager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.ServerErrorAttempts <= 0 {
		opts.ServerErrorAttempts = 2
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &RetryManager{
		opts:   opts,
		logger: logger.With().Str("component", "retry_manager").Logger(),
		sleep:  sleepCtx,
	}
}

// Do invokes op, retrying per classification: transient-network and
// rate-limited up to MaxAttempts, server errors up to ServerErrorAttempts,
// everything else aborts immediately. The last classified error is returned.
func (m *RetryManager) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		apiErr := Classify(label, err)

		if !apiErr.Kind.Retryable() {
			if apiErr.Kind == ErrorKindMalformedResponse {
				m.logger.Error().Err(apiErr).Str("op", label).Msg("malformed upstream response, not retrying")
			}
			return apiErr
		}

		cap := m.opts.MaxAttempts
		if apiErr.Kind == ErrorKindServerError {
			cap = m.opts.ServerErrorAttempts
		}
		if attempt+1 >= cap {
			return apiErr
		}

		delay := m.backoff(attempt)
		m.logger.Warn().Err(apiErr).
			Str("op", label).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("retrying after classified failure")

		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// backoff returns BaseDelay * 2^attempt capped at MaxDelay.
func (m *RetryManager) backoff(attempt int) time.Duration {
	if attempt < 0 {
		return m.opts.BaseDelay
	}
	// 2^30 seconds already dwarfs any sane MaxDelay.
	if attempt > 30 {
		return m.opts.MaxDelay
	}
	delay := m.opts.BaseDelay * time.Duration(1<<attempt)
	if delay > m.opts.MaxDelay || delay <= 0 {
		return m.opts.MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
