package config

import (
	"errors"
	"time"
)

// RetryPolicy defines how a failed connection attempt is retried
type RetryPolicy struct {
	MaxRetries    int           `json:"max_retries" toml:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay" toml:"initial_delay"`
	BackoffFactor float64       `json:"backoff_factor" toml:"backoff_factor"`
	MaxDelay      time.Duration `json:"max_delay" toml:"max_delay"`
}

// DefaultConnectRetry dials ConnectTries times with a fixed one second pause.
func DefaultConnectRetry() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:    ConnectTries - 1,
		InitialDelay:  time.Second,
		BackoffFactor: 1.0,
		MaxDelay:      time.Second,
	}
}

// Attempts returns the total number of tries, the first included.
func (rp *RetryPolicy) Attempts() int {
	return rp.MaxRetries + 1
}

// GetRetryDelay calculates the delay before the next retry attempt
func (rp *RetryPolicy) GetRetryDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return rp.InitialDelay
	}

	delay := rp.InitialDelay
	for i := 0; i < retryCount; i++ {
		delay = time.Duration(float64(delay) * rp.BackoffFactor)
		if delay > rp.MaxDelay {
			return rp.MaxDelay
		}
	}
	return delay
}

func (rp *RetryPolicy) Validate() error {
	if rp.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	if rp.InitialDelay < 0 {
		return errors.New("initial_delay cannot be negative")
	}
	if rp.BackoffFactor < 1 {
		return errors.New("backoff_factor must be at least 1")
	}
	if rp.MaxDelay < rp.InitialDelay {
		return errors.New("max_delay cannot be less than initial_delay")
	}
	return nil
}
