package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/rescp17/dnssd-client/internal/config"
	"github.com/rescp17/dnssd-client/pkg/protocol"
)

// Provider hands out connected transports.
type Provider interface {
	Dial(ctx context.Context) (*Transport, error)
}

// TCPProvider dials the daemon's loopback TCP endpoint.
type TCPProvider struct {
	address string
	retry   *config.RetryPolicy
	logger  *slog.Logger
	opts    []Option
	dialer  net.Dialer
}

// NewTCPProvider returns a provider for cfg.Address. opts are applied to
// every transport it dials.
func NewTCPProvider(cfg *config.Config, opts ...Option) *TCPProvider {
	if cfg == nil {
		cfg = config.Default()
	}
	retry := cfg.ConnectRetry
	if retry == nil {
		retry = config.DefaultConnectRetry()
	}
	p := &TCPProvider{
		address: cfg.Address,
		retry:   retry,
		logger:  slog.Default(),
		dialer:  net.Dialer{Timeout: 5 * time.Second},
	}
	p.opts = append([]Option{WithClientTimeout(cfg.ClientTimeout), WithErrorReturn(ListenTCP)}, opts...)
	return p
}

// SetLogger sets the logger used for dial attempts.
func (p *TCPProvider) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Dial connects to the daemon, retrying refused and timed-out attempts per
// the retry policy. Exhausted or non-retryable failures report
// protocol.ErrorServiceNotRunning.
func (p *TCPProvider) Dial(ctx context.Context) (*Transport, error) {
	var lastErr error
	attempts := p.retry.Attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
		if err == nil {
			p.logger.Debug("Connected to daemon", "address", p.address, "attempt", attempt+1)
			return New(conn, p.opts...), nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !isRetryable(err) {
			break
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.retry.GetRetryDelay(attempt)
		p.logger.Debug("Daemon not reachable, retrying", "address", p.address, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, serviceNotRunning(fmt.Sprintf("dial %s", p.address), lastErr)
}

func isRetryable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// compile-time check
var _ Provider = (*TCPProvider)(nil)

// IsServiceNotRunning reports whether err means the daemon could not be reached.
func IsServiceNotRunning(err error) bool {
	return errors.Is(err, protocol.ErrorServiceNotRunning)
}
