package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrorReturnListener accepts the single connection the daemon opens to
// acknowledge a subordinate request.
type ErrorReturnListener interface {
	// Port is the port to embed in the request payload.
	Port() uint16
	// Accept waits for the daemon to connect. It returns
	// context.DeadlineExceeded when ctx expires first.
	Accept(ctx context.Context) (io.ReadCloser, error)
	Close() error
}

// ListenFunc opens a new ErrorReturnListener.
type ListenFunc func() (ErrorReturnListener, error)

type tcpErrorReturn struct {
	ln *net.TCPListener
}

// ListenTCP listens on an ephemeral loopback port.
func ListenTCP() (ErrorReturnListener, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("listen for error return: %w", err)
	}
	return &tcpErrorReturn{ln: ln}, nil
}

func (l *tcpErrorReturn) Port() uint16 {
	return uint16(l.ln.Addr().(*net.TCPAddr).Port)
}

func (l *tcpErrorReturn) Accept(ctx context.Context) (io.ReadCloser, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = l.ln.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	conn, err := l.ln.AcceptTCP()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return conn, nil
}

func (l *tcpErrorReturn) Close() error {
	return l.ln.Close()
}
