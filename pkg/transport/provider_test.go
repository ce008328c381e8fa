package transport_test

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/dnssd-client/internal/config"
	"github.com/rescp17/dnssd-client/pkg/protocol"
	"github.com/rescp17/dnssd-client/pkg/transport"
)

func fastRetryConfig(address string) *config.Config {
	cfg := config.Default()
	cfg.Address = address
	cfg.ClientTimeout = time.Second
	cfg.ConnectRetry = &config.RetryPolicy{
		MaxRetries:    2,
		InitialDelay:  10 * time.Millisecond,
		BackoffFactor: 1,
		MaxDelay:      10 * time.Millisecond,
	}
	return cfg
}

func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestTCPProvider_DialRefused(t *testing.T) {
	p := transport.NewTCPProvider(fastRetryConfig(closedPort(t)))

	start := time.Now()
	tr, err := p.Dial(context.Background())
	assert.Nil(t, tr)
	require.Error(t, err)
	assert.True(t, transport.IsServiceNotRunning(err))
	assert.Equal(t, protocol.ErrorServiceNotRunning, protocol.AsServiceError(err))
	// Three attempts separated by two delays.
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTCPProvider_DialCanceled(t *testing.T) {
	cfg := fastRetryConfig(closedPort(t))
	cfg.ConnectRetry.InitialDelay = time.Minute
	cfg.ConnectRetry.MaxDelay = time.Minute
	p := transport.NewTCPProvider(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Dial(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// serveOneClient plays a daemon over real TCP: it acknowledges the handshake
// on the main stream and the first subordinate request on the error return
// port named in its payload.
func serveOneClient(t *testing.T, ln net.Listener, done chan<- error) {
	conn, err := ln.Accept()
	if err != nil {
		done <- err
		return
	}
	defer conn.Close()

	readFrame := func() (*protocol.Message, error) {
		header := make([]byte, protocol.HeaderLength)
		if _, err := io.ReadFull(conn, header); err != nil {
			return nil, err
		}
		h, _, err := protocol.DecodeHeader(header, 0)
		if err != nil {
			return nil, err
		}
		payload := make([]byte, h.DataLength)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return nil, err
		}
		return protocol.DecodeRequest(h, payload)
	}

	if _, err := readFrame(); err != nil {
		done <- err
		return
	}
	if _, err := conn.Write(statusFrame(protocol.NoError)); err != nil {
		done <- err
		return
	}

	req, err := readFrame()
	if err != nil {
		done <- err
		return
	}
	port := req.Payload.(protocol.ErrorReturnCarrier).ErrorReturnPort()
	back, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	if err != nil {
		done <- err
		return
	}
	_, err = back.Write(statusFrame(protocol.ErrorNameConflict))
	back.Close()
	done <- err
}

func TestTCPProvider_EndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan error, 1)
	go serveOneClient(t, ln, done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := transport.NewTCPProvider(fastRetryConfig(ln.Addr().String()))
	tr, err := p.Dial(ctx)
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, tr.Start(ctx, rec.onReply, rec.onClosed))

	msg := subordinateBrowse(t, 1)
	err = tr.Send(ctx, msg, true)
	assert.Equal(t, protocol.ErrorNameConflict, protocol.AsServiceError(err))
	require.NoError(t, <-done)

	// The fake daemon hung up after answering.
	assert.Equal(t, transport.ReasonRemoteEndDisconnected, rec.waitClosed(t))
	tr.Stop()
}

func TestListenTCP_AcceptTimeout(t *testing.T) {
	l, err := transport.ListenTCP()
	require.NoError(t, err)
	defer l.Close()
	assert.NotZero(t, l.Port())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenTCP_AcceptCanceled(t *testing.T) {
	l, err := transport.ListenTCP()
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = l.Accept(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
