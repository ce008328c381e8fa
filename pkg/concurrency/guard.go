package concurrency

import (
	"context"
	"errors"
)

var ErrBusy = errors.New("operation is busy")

// ConcurrencyGuard runs at most one task at a time.
type ConcurrencyGuard struct {
	sem chan struct{}
}

func NewConcurrencyGuard() *ConcurrencyGuard {
	return &ConcurrencyGuard{sem: make(chan struct{}, 1)}
}

// Execute runs task unless another task is running, in which case it
// returns ErrBusy.
func (g *ConcurrencyGuard) Execute(task func() error) error {
	select {
	case g.sem <- struct{}{}:
	default:
		return ErrBusy
	}
	defer func() { <-g.sem }()
	return task()
}

// ExecuteWithContext waits for the running task to finish and then runs
// task. It gives up with ctx.Err() if ctx ends first.
func (g *ConcurrencyGuard) ExecuteWithContext(ctx context.Context, task func() error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()
	return task()
}
