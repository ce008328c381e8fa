// Package operation implements the lifecycle of daemon operations: a
// primary Connection owning the transport, and subordinate Browse, Resolve,
// Register and Lookup operations multiplexed over it.
package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rescp17/dnssd-client/pkg/concurrency"
	"github.com/rescp17/dnssd-client/pkg/protocol"
)

var (
	ErrNotNew = errors.New("operation has already been executed")
	// ErrConnectionNotExecuting is returned when a subordinate is added to a
	// connection that is not executing.
	ErrConnectionNotExecuting = fmt.Errorf("connection is not executing: %w", protocol.ErrorBadState)
	ErrAlreadyAttached        = errors.New("operation already belongs to a connection")
	ErrNotAttached            = errors.New("operation does not belong to a connection")
	// ErrInterrupted is returned by Execute when the connection closed
	// before the operation could start executing.
	ErrInterrupted = errors.New("operation interrupted by connection close")
	// ErrRecordRegistrationUnsupported closes a connection that receives a
	// record registration reply.
	ErrRecordRegistrationUnsupported = errors.New("record registration replies are not supported")
)

// Option configures an operation.
type Option func(*options)

type options struct {
	context any
	logger  *slog.Logger
}

// WithContext attaches a caller value returned by Token.Context.
func WithContext(v any) Option {
	return func(o *options) {
		o.context = v
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// core is the state shared by primary and subordinate operations.
type core struct {
	msg    *protocol.Message
	token  *Token
	guard  *concurrency.ConcurrencyGuard
	logger *slog.Logger

	cancelMu       sync.Mutex
	cancelHandlers []func(tok *Token)
}

func (c *core) init(msg *protocol.Message, o options, cancel func(context.Context) error) {
	c.msg = msg
	c.token = newToken(o.context, cancel)
	c.guard = concurrency.NewConcurrencyGuard()
	c.logger = o.logger
}

// Token returns the operation's token.
func (c *core) Token() *Token {
	return c.token
}

func (c *core) State() State {
	return c.token.State()
}

// OnCanceled registers h to run whenever the operation is canceled by the
// caller or by its connection.
func (c *core) OnCanceled(h func(tok *Token)) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	c.cancelHandlers = append(c.cancelHandlers, h)
}

// onCanceled moves an executing operation to StateCanceled and runs the
// cancel handlers, whatever the current state.
func (c *core) onCanceled() {
	if c.token.State() == StateExecuting {
		c.token.transition(StateCanceled)
	}

	c.cancelMu.Lock()
	handlers := c.cancelHandlers
	c.cancelMu.Unlock()
	for _, h := range handlers {
		h(c.token)
	}
}
