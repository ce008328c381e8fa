package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescp17/dnssd-client/pkg/protocol"
)

// MaxPayloadLength caps the payload size accepted from the daemon.
const MaxPayloadLength = 1 << 20

// ReplyHandler is called on the receive goroutine for every reply.
// moreComing is set when further reply bytes are already buffered.
// Returning an error closes the transport as incompatible.
type ReplyHandler func(msg *protocol.Message, moreComing bool) error

// CloseHandler is called exactly once when the transport closes.
type CloseHandler func(reason ClosedReason)

// Option configures a Transport.
type Option func(*Transport)

// WithErrorReturn sets how error return listeners are opened.
func WithErrorReturn(listen ListenFunc) Option {
	return func(t *Transport) {
		t.listen = listen
	}
}

// WithClientTimeout bounds waits for the daemon's acknowledgements.
func WithClientTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.clientTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(t *Transport) {
		if o != nil {
			t.observer = o
		}
	}
}

// Transport frames messages over one daemon connection. Writes are
// serialized; replies are read by a single receive goroutine.
type Transport struct {
	conn          io.ReadWriteCloser
	reader        *bufio.Reader
	listen        ListenFunc
	clientTimeout time.Duration
	logger        *slog.Logger
	observer      Observer

	writeMu sync.Mutex

	closed   atomic.Bool
	stopping atomic.Bool
	running  atomic.Bool
	loopID   atomic.Uint64

	closeOnce sync.Once
	onReply   ReplyHandler
	onClosed  CloseHandler
	done      chan struct{}
}

// New wraps an open connection to the daemon.
func New(conn io.ReadWriteCloser, opts ...Option) *Transport {
	t := &Transport{
		conn:          conn,
		reader:        bufio.NewReader(conn),
		listen:        ListenTCP,
		clientTimeout: 60 * time.Second,
		logger:        slog.Default(),
		observer:      nopObserver{},
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ClientTimeout returns the acknowledgement timeout.
func (t *Transport) ClientTimeout() time.Duration {
	return t.clientTimeout
}

// IsConnected reports whether the stream is still open.
func (t *Transport) IsConnected() bool {
	return !t.closed.Load()
}

// Start performs the connection handshake and launches the receive loop.
// On failure the transport is closed as faulted.
func (t *Transport) Start(ctx context.Context, onReply ReplyHandler, onClosed CloseHandler) error {
	if onReply == nil || onClosed == nil {
		return errors.New("transport: reply and close handlers are required")
	}
	if t.running.Load() {
		return errors.New("transport: already started")
	}
	t.onReply = onReply
	t.onClosed = onClosed

	if err := t.Send(ctx, protocol.NewConnectionRequest(), false); err != nil {
		t.close(ReasonFaulted)
		return fmt.Errorf("connection handshake: %w", err)
	}

	t.running.Store(true)
	go t.receiveLoop()
	return nil
}

// Stop closes the stream and waits for the receive loop to exit, so the
// close handler has run when it returns. It is safe to call more than once
// and from within a reply or close handler, where it does not wait.
func (t *Transport) Stop() {
	t.stopping.Store(true)
	if !t.running.Load() {
		t.close(ReasonCanceled)
		return
	}
	_ = t.conn.Close()
	if t.onReceiveLoop() {
		return
	}
	<-t.done
}

// onReceiveLoop reports whether the caller is running on the receive
// goroutine, i.e. inside a reply or close handler.
func (t *Transport) onReceiveLoop() bool {
	id := t.loopID.Load()
	return id != 0 && id == goroutineID()
}

// goroutineID parses the current goroutine's ID from its stack header,
// "goroutine <id> [...]".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Post writes msg without waiting for any acknowledgement.
func (t *Transport) Post(msg *protocol.Message) error {
	frame, err := msg.MarshalBinary()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed.Load() {
		return ErrNotConnected
	}
	return t.write(msg.OpCode(), frame)
}

// Send writes msg and waits for the daemon's 4-byte status. With
// separateErrorConnection the status arrives on a new connection the daemon
// opens to a listener whose port is embedded in the request; otherwise it is
// read from the main stream, which is only possible before Start launches
// the receive loop. A non-zero status is returned as a protocol.ServiceError.
func (t *Transport) Send(ctx context.Context, msg *protocol.Message, separateErrorConnection bool) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed.Load() {
		return ErrNotConnected
	}

	op := msg.OpCode()
	start := time.Now()

	var listener ErrorReturnListener
	if separateErrorConnection {
		carrier, ok := msg.Payload.(protocol.ErrorReturnCarrier)
		if !ok {
			return fmt.Errorf("%s: %w", op, protocol.ErrNoErrorReturnPort)
		}
		if t.listen == nil {
			return ErrNoErrorReturn
		}
		l, err := t.listen()
		if err != nil {
			return err
		}
		defer l.Close()
		listener = l
		carrier.SetErrorReturnPort(l.Port())
	} else if t.running.Load() {
		return ErrMainStreamBusy
	}

	frame, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if err := t.write(op, frame); err != nil {
		return err
	}

	if separateErrorConnection {
		err = t.awaitErrorReturn(ctx, listener)
	} else {
		err = t.readStatus(ctx, t.reader, t.conn)
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
	}
	t.observer.Acknowledged(op, err, time.Since(start))
	return err
}

func (t *Transport) awaitErrorReturn(ctx context.Context, l ErrorReturnListener) error {
	acceptCtx, cancel := context.WithTimeout(ctx, t.clientTimeout)
	defer cancel()

	rc, err := l.Accept(acceptCtx)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("waiting for error return: %w", protocol.ErrorTimeout)
		case errors.Is(err, context.Canceled):
			return err
		default:
			return serviceNotRunning("accept error return", err)
		}
	}
	defer rc.Close()

	return t.readStatus(ctx, rc, rc)
}

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

// readStatus reads the 4-byte big-endian status from r. When conn supports
// read deadlines the read is bounded by the client timeout and ctx.
func (t *Transport) readStatus(ctx context.Context, r io.Reader, conn any) error {
	if d, ok := conn.(readDeadliner); ok {
		deadline := time.Now().Add(t.clientTimeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		_ = d.SetReadDeadline(deadline)
		stop := context.AfterFunc(ctx, func() {
			_ = d.SetReadDeadline(time.Unix(1, 0))
		})
		defer func() {
			stop()
			_ = d.SetReadDeadline(time.Time{})
		}()
	}

	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return serviceNotRunning("read status", err)
	}
	if code := protocol.ServiceError(int32(binary.BigEndian.Uint32(b[:]))); code != protocol.NoError {
		return code
	}
	return nil
}

func (t *Transport) write(op protocol.OpCode, frame []byte) error {
	if _, err := t.conn.Write(frame); err != nil {
		return serviceNotRunning("write "+op.String(), err)
	}
	t.observer.FrameSent(op, len(frame))
	return nil
}

func (t *Transport) receiveLoop() {
	defer close(t.done)
	t.loopID.Store(goroutineID())
	reason := t.receive()
	t.close(reason)
}

func (t *Transport) receive() ClosedReason {
	header := make([]byte, protocol.HeaderLength)
	for {
		if t.stopping.Load() {
			return ReasonCanceled
		}
		if _, err := io.ReadFull(t.reader, header); err != nil {
			return t.readFailure(err)
		}
		h, _, err := protocol.DecodeHeader(header, 0)
		if err != nil {
			t.logger.Error("Failed to decode reply header", "error", err)
			return ReasonFaulted
		}
		if h.Version != protocol.CurrentVersion {
			t.logger.Warn("Daemon speaks an incompatible protocol version", "version", h.Version, "want", protocol.CurrentVersion)
			return ReasonIncompatible
		}
		if h.DataLength > MaxPayloadLength {
			t.logger.Error("Reply payload too large", "op", h.OpCode, "length", h.DataLength)
			return ReasonFaulted
		}

		payload := make([]byte, h.DataLength)
		if _, err := io.ReadFull(t.reader, payload); err != nil {
			return t.readFailure(err)
		}
		t.observer.FrameReceived(h.OpCode, protocol.HeaderLength+len(payload))

		msg, err := protocol.DecodeReply(h, payload)
		if err != nil {
			t.logger.Error("Failed to decode reply", "op", h.OpCode, "error", err)
			return ReasonFaulted
		}
		if t.stopping.Load() {
			return ReasonCanceled
		}
		if err := t.dispatch(msg, t.reader.Buffered() > 0); err != nil {
			t.logger.Warn("Reply handler rejected message", "op", h.OpCode, "subordinate", h.SubordinateID, "error", err)
			return ReasonIncompatible
		}
	}
}

func (t *Transport) readFailure(err error) ClosedReason {
	if t.stopping.Load() {
		return ReasonCanceled
	}
	if !errors.Is(err, io.EOF) {
		t.logger.Debug("Daemon connection read failed", "error", err)
	}
	return ReasonRemoteEndDisconnected
}

func (t *Transport) dispatch(msg *protocol.Message, moreComing bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reply handler panic: %v", r)
		}
	}()
	return t.onReply(msg, moreComing)
}

func (t *Transport) close(reason ClosedReason) {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		_ = t.conn.Close()
		t.logger.Debug("Daemon connection closed", "reason", reason)
		t.observer.Closed(reason)
		if t.onClosed != nil {
			t.onClosed(reason)
		}
	})
}
