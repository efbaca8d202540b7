package ddc

import (
	"context"
	"errors"
	"time"
)

// Retry defaults
const (
	DefaultMaxRetries        = 3
	DefaultBaseDelay         = 50 * time.Millisecond
	DefaultMaxDelay          = time.Second
	DefaultBackoffMultiplier = 2.0
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int           // Maximum number of attempts
	BaseDelay  time.Duration // Initial delay between attempts
	MaxDelay   time.Duration // Maximum delay between attempts
	Multiplier float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns sensible defaults for a shared or networked cache
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Multiplier: DefaultBackoffMultiplier,
	}
}

// RetryingCache retries failed operations of an inner Cache. Misses are
// answers, not failures, and are returned immediately.
type RetryingCache struct {
	inner  Cache
	config RetryConfig
}

// WithRetry wraps inner so that transient failures are retried
func WithRetry(inner Cache, config RetryConfig) *RetryingCache {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &RetryingCache{inner: inner, config: config}
}

// Unwrap returns the wrapped cache
func (c *RetryingCache) Unwrap() Cache {
	return c.inner
}

func (c *RetryingCache) Get(ctx context.Context, key string) ([]byte, error) {
	return retryWithBackoff(ctx, c.config, func() ([]byte, error) {
		return c.inner.Get(ctx, key)
	})
}

func (c *RetryingCache) Put(ctx context.Context, key string, data []byte) error {
	_, err := retryWithBackoff(ctx, c.config, func() (struct{}, error) {
		return struct{}{}, c.inner.Put(ctx, key, data)
	})
	return err
}

func (c *RetryingCache) Delete(ctx context.Context, key string) error {
	_, err := retryWithBackoff(ctx, c.config, func() (struct{}, error) {
		return struct{}{}, c.inner.Delete(ctx, key)
	})
	return err
}

// retryWithBackoff executes fn with exponential backoff. ErrMiss and
// context cancellation end the loop immediately.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrMiss) || errors.Is(err, ErrCorrupt) {
			return zero, err
		}

		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if attempt < config.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if config.MaxDelay > 0 && backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}

	return zero, lastErr
}
