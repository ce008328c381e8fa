package transport_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/dnssd-client/internal/daemontest"
	"github.com/rescp17/dnssd-client/pkg/protocol"
	"github.com/rescp17/dnssd-client/pkg/transport"
)

type recorder struct {
	mu       sync.Mutex
	replies  []*protocol.Message
	more     []bool
	received chan struct{}
	closed   chan transport.ClosedReason
	handle   func(*protocol.Message) error
}

func newRecorder() *recorder {
	return &recorder{
		received: make(chan struct{}, 64),
		closed:   make(chan transport.ClosedReason, 4),
	}
}

func (r *recorder) onReply(msg *protocol.Message, moreComing bool) error {
	r.mu.Lock()
	r.replies = append(r.replies, msg)
	r.more = append(r.more, moreComing)
	handle := r.handle
	r.mu.Unlock()
	r.received <- struct{}{}
	if handle != nil {
		return handle(msg)
	}
	return nil
}

func (r *recorder) onClosed(reason transport.ClosedReason) {
	r.closed <- reason
}

func (r *recorder) waitReplies(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.received:
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d replies", i, n)
		}
	}
}

func (r *recorder) waitClosed(t *testing.T) transport.ClosedReason {
	t.Helper()
	select {
	case reason := <-r.closed:
		return reason
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not close")
		return transport.ReasonNone
	}
}

func startTransport(t *testing.T, d *daemontest.Daemon) (*transport.Transport, *recorder, *daemontest.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := d.Dial(ctx)
	require.NoError(t, err)
	rec := newRecorder()
	require.NoError(t, tr.Start(ctx, rec.onReply, rec.onClosed))

	session, err := d.NextSession(ctx)
	require.NoError(t, err)
	return tr, rec, session
}

func subordinateBrowse(t *testing.T, id uint64) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewBrowseRequest("_http._tcp", "", 0)
	require.NoError(t, err)
	msg.SetSubordinateID(id)
	return msg
}

func TestTransport_StartHandshake(t *testing.T) {
	d := daemontest.New()
	defer d.Close()

	tr, rec, _ := startTransport(t, d)
	assert.True(t, tr.IsConnected())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, err := d.NextRequest(ctx, protocol.OpConnectionRequest)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), req.Header.SubordinateID)
	assert.Equal(t, uint32(0), req.Header.DataLength)

	tr.Stop()
	assert.Equal(t, transport.ReasonCanceled, rec.waitClosed(t))
	assert.False(t, tr.IsConnected())

	// Stop is idempotent and the close handler fires once.
	tr.Stop()
	select {
	case reason := <-rec.closed:
		t.Fatalf("close handler fired twice, second reason %s", reason)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransport_StartRejected(t *testing.T) {
	d := daemontest.New(daemontest.WithConnectStatus(protocol.ErrorRefused))
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := d.Dial(ctx)
	require.NoError(t, err)

	rec := newRecorder()
	err = tr.Start(ctx, rec.onReply, rec.onClosed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrorRefused))
	assert.Equal(t, transport.ReasonFaulted, rec.waitClosed(t))
	assert.False(t, tr.IsConnected())
}

func TestTransport_StartRequiresHandlers(t *testing.T) {
	d := daemontest.New()
	defer d.Close()

	tr, err := d.Dial(context.Background())
	require.NoError(t, err)
	assert.Error(t, tr.Start(context.Background(), nil, nil))
	tr.Stop()
}

func TestTransport_SendAcknowledged(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	tr, _, _ := startTransport(t, d)
	defer tr.Stop()

	msg := subordinateBrowse(t, 1)
	require.NoError(t, tr.Send(context.Background(), msg, true))

	port := msg.Payload.(protocol.ErrorReturnCarrier).ErrorReturnPort()
	assert.NotZero(t, port)
	assert.Equal(t, 0, d.OpenListeners())
}

func TestTransport_SendRejected(t *testing.T) {
	d := daemontest.New(daemontest.WithAckStatus(protocol.OpBrowseRequest, protocol.ErrorBadParam))
	defer d.Close()
	tr, _, _ := startTransport(t, d)
	defer tr.Stop()

	err := tr.Send(context.Background(), subordinateBrowse(t, 1), true)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorBadParam, protocol.AsServiceError(err))
	assert.Equal(t, 0, d.OpenListeners())
}

func TestTransport_SendTimeout(t *testing.T) {
	d := daemontest.New(
		daemontest.WithoutAck(protocol.OpBrowseRequest),
		daemontest.WithClientTimeout(50*time.Millisecond),
	)
	defer d.Close()
	tr, _, _ := startTransport(t, d)
	defer tr.Stop()

	start := time.Now()
	err := tr.Send(context.Background(), subordinateBrowse(t, 1), true)
	assert.ErrorIs(t, err, protocol.ErrorTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, d.OpenListeners(), "listener must be closed after a timeout")
}

func TestTransport_SendOnMainStreamAfterStart(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	tr, _, _ := startTransport(t, d)
	defer tr.Stop()

	err := tr.Send(context.Background(), protocol.NewConnectionRequest(), false)
	assert.ErrorIs(t, err, transport.ErrMainStreamBusy)
}

func TestTransport_SendWithoutCarrier(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	tr, _, _ := startTransport(t, d)
	defer tr.Stop()

	err := tr.Send(context.Background(), protocol.NewCancelRequest(1), true)
	assert.ErrorIs(t, err, protocol.ErrNoErrorReturnPort)
}

func TestTransport_ReceiveReplies(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	tr, rec, session := startTransport(t, d)
	defer tr.Stop()

	first := protocol.NewBrowseReply(1, protocol.BrowseReply{
		ReplyBase:    protocol.ReplyBase{Flags: protocol.FlagAdd, InterfaceIndex: 12},
		InstanceName: "RPI",
		ServiceType:  "_http._tcp.",
		Domain:       "local.",
	})
	second := protocol.NewBrowseReply(1, protocol.BrowseReply{InstanceName: "RPI", ServiceType: "_http._tcp.", Domain: "local."})
	require.NoError(t, session.Send(first, second))
	rec.waitReplies(t, 2)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.replies, 2)
	assert.Equal(t, []bool{true, false}, rec.more)

	got := rec.replies[0].Payload.(*protocol.BrowseReply)
	assert.Equal(t, "RPI", got.InstanceName)
	assert.Equal(t, uint32(12), got.InterfaceIndex)
	assert.True(t, got.Flags.Has(protocol.FlagAdd))
}

func TestTransport_HandlerFailureClosesIncompatible(t *testing.T) {
	tests := []struct {
		name   string
		handle func(*protocol.Message) error
	}{
		{"error", func(*protocol.Message) error { return errors.New("unroutable") }},
		{"panic", func(*protocol.Message) error { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := daemontest.New()
			defer d.Close()
			tr, rec, session := startTransport(t, d)
			defer tr.Stop()

			rec.mu.Lock()
			rec.handle = tt.handle
			rec.mu.Unlock()

			require.NoError(t, session.Send(protocol.NewBrowseReply(1, protocol.BrowseReply{})))
			assert.Equal(t, transport.ReasonIncompatible, rec.waitClosed(t))
			assert.False(t, tr.IsConnected())
		})
	}
}

func TestTransport_RemoteDisconnect(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	tr, rec, session := startTransport(t, d)
	defer tr.Stop()

	session.Disconnect()
	assert.Equal(t, transport.ReasonRemoteEndDisconnected, rec.waitClosed(t))
}

func TestTransport_UndecodableReplyFaults(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	tr, rec, session := startTransport(t, d)
	defer tr.Stop()

	// A browse reply whose strings are not NUL terminated.
	h := protocol.Header{Version: protocol.CurrentVersion, OpCode: protocol.OpBrowseReply, SubordinateID: 1, DataLength: 14}
	frame := h.AppendBinary(nil)
	frame = append(frame, make([]byte, 12)...)
	frame = append(frame, 'a', 'b')
	require.NoError(t, session.SendRaw(frame))

	assert.Equal(t, transport.ReasonFaulted, rec.waitClosed(t))
}

func TestTransport_VersionMismatchSkipsPayload(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		// Handshake request, then status.
		buf := make([]byte, protocol.HeaderLength)
		if _, err := io.ReadFull(server, buf); err != nil {
			return
		}
		_, _ = server.Write([]byte{0, 0, 0, 0})

		// A header announcing a payload that never arrives.
		h := protocol.Header{Version: 2, OpCode: protocol.OpBrowseReply, DataLength: 64}
		_, _ = server.Write(h.AppendBinary(nil))
	}()

	tr := transport.New(client, transport.WithClientTimeout(time.Second))
	rec := newRecorder()
	require.NoError(t, tr.Start(context.Background(), rec.onReply, rec.onClosed))

	assert.Equal(t, transport.ReasonIncompatible, rec.waitClosed(t))
	rec.mu.Lock()
	assert.Empty(t, rec.replies)
	rec.mu.Unlock()
}

func TestTransport_PostAfterStop(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	tr, rec, _ := startTransport(t, d)

	tr.Stop()
	rec.waitClosed(t)

	err := tr.Post(protocol.NewCancelRequest(1))
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Equal(t, protocol.ErrorBadState, protocol.AsServiceError(err))

	err = tr.Send(context.Background(), subordinateBrowse(t, 1), true)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestTransport_StopFromReplyHandler(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	tr, rec, session := startTransport(t, d)

	rec.mu.Lock()
	rec.handle = func(*protocol.Message) error {
		tr.Stop()
		return nil
	}
	rec.mu.Unlock()

	require.NoError(t, session.Send(protocol.NewBrowseReply(1, protocol.BrowseReply{})))
	assert.Equal(t, transport.ReasonCanceled, rec.waitClosed(t))
}

func TestTransport_StopWaitsForRunningHandler(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	tr, rec, session := startTransport(t, d)

	entered := make(chan struct{})
	release := make(chan struct{})
	rec.mu.Lock()
	rec.handle = func(*protocol.Message) error {
		close(entered)
		<-release
		return nil
	}
	rec.mu.Unlock()

	// Both replies arrive in one write; the second is buffered while the
	// first is being handled.
	require.NoError(t, session.Send(
		protocol.NewBrowseReply(1, protocol.BrowseReply{InstanceName: "first"}),
		protocol.NewBrowseReply(1, protocol.BrowseReply{InstanceName: "second"}),
	))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("reply handler did not run")
	}

	stopped := make(chan struct{})
	go func() {
		tr.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a reply handler was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	select {
	case reason := <-rec.closed:
		assert.Equal(t, transport.ReasonCanceled, reason)
	default:
		t.Fatal("close handler had not run when Stop returned")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.replies, 1)
	assert.Equal(t, "first", rec.replies[0].Payload.(*protocol.BrowseReply).InstanceName)
}

func TestTransport_ConcurrentWritesDoNotInterleave(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	tr, _, _ := startTransport(t, d)
	defer tr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := d.NextRequest(ctx, protocol.OpConnectionRequest)
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := 1; i <= writers; i++ {
		msg := subordinateBrowse(t, uint64(i))
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- tr.Send(ctx, msg, true)
		}()
		go func(id uint64) {
			defer wg.Done()
			errs <- tr.Post(protocol.NewCancelRequest(id + writers))
		}(uint64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[uint64]protocol.OpCode)
	for len(seen) < writers*2 {
		select {
		case req := <-d.Requests():
			seen[req.Header.SubordinateID] = req.OpCode()
		case <-ctx.Done():
			t.Fatalf("saw %d of %d requests", len(seen), writers*2)
		}
	}
	for i := uint64(1); i <= writers; i++ {
		assert.Equal(t, protocol.OpBrowseRequest, seen[i], fmt.Sprintf("subordinate %d", i))
		assert.Equal(t, protocol.OpCancelRequest, seen[i+writers], fmt.Sprintf("subordinate %d", i+writers))
	}
}

func TestClosedReason_String(t *testing.T) {
	assert.Equal(t, "canceled", transport.ReasonCanceled.String())
	assert.Equal(t, "remote_end_disconnected", transport.ReasonRemoteEndDisconnected.String())
	assert.Equal(t, "unknown", transport.ClosedReason(42).String())
}

// statusFrame is used by TCP tests that play the daemon by hand.
func statusFrame(code protocol.ServiceError) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(code))
	return b[:]
}
