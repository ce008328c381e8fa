package concurrency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyGuard_Execute(t *testing.T) {
	g := NewConcurrencyGuard()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- g.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := g.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)

	wantErr := errors.New("boom")
	assert.ErrorIs(t, g.Execute(func() error { return wantErr }), wantErr)
}

func TestConcurrencyGuard_ExecuteWithContext(t *testing.T) {
	g := NewConcurrencyGuard()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.ExecuteWithContext(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ran := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	err = g.ExecuteWithContext(context.Background(), func() error {
		close(ran)
		return nil
	})
	require.NoError(t, err)
	<-ran
}
