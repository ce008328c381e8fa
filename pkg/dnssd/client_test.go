package dnssd_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/dnssd-client/internal/daemontest"
	"github.com/rescp17/dnssd-client/pkg/dnssd"
	"github.com/rescp17/dnssd-client/pkg/operation"
	"github.com/rescp17/dnssd-client/pkg/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newClient(t *testing.T, d *daemontest.Daemon, opts ...dnssd.Option) *dnssd.Client {
	t.Helper()
	opts = append([]dnssd.Option{dnssd.WithProvider(d), dnssd.WithLogger(quietLogger())}, opts...)
	c := dnssd.New(opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func browseReplies(s *daemontest.Session, req *protocol.Message) {
	id := req.Header.SubordinateID
	_ = s.Send(
		protocol.NewBrowseReply(id, protocol.BrowseReply{
			ReplyBase:    protocol.ReplyBase{Flags: protocol.FlagAdd, InterfaceIndex: 12},
			InstanceName: "RPI",
			ServiceType:  "_http._tcp.",
			Domain:       "local.",
		}),
	)
}

func TestClient_Probe(t *testing.T) {
	t.Run("daemon running", func(t *testing.T) {
		d := daemontest.New()
		defer d.Close()
		c := newClient(t, d)

		ok, err := c.Probe(testContext(t), true)
		require.NoError(t, err)
		assert.True(t, ok)

		// The probe connection is reused.
		_, err = c.Browse(testContext(t), "_http._tcp", "", 0)
		require.NoError(t, err)
		assert.Equal(t, 1, d.Dials())
	})

	t.Run("leave disconnected", func(t *testing.T) {
		d := daemontest.New()
		defer d.Close()
		c := newClient(t, d)

		ok, err := c.Probe(testContext(t), false)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = c.Browse(testContext(t), "_http._tcp", "", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, d.Dials())
	})

	t.Run("daemon not running", func(t *testing.T) {
		c := dnssd.New(dnssd.WithProvider(daemontest.Unreachable{}), dnssd.WithLogger(quietLogger()))
		defer c.Close()

		ok, err := c.Probe(testContext(t), true)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("other errors surface", func(t *testing.T) {
		d := daemontest.New(daemontest.WithConnectStatus(protocol.ErrorIncompatible))
		defer d.Close()
		c := newClient(t, d)

		ok, err := c.Probe(testContext(t), true)
		assert.False(t, ok)
		assert.Equal(t, protocol.ErrorIncompatible, protocol.AsServiceError(err))
	})
}

func TestClient_BrowseEvents(t *testing.T) {
	d := daemontest.New(daemontest.WithHandler(browseReplies))
	defer d.Close()
	c := newClient(t, d)

	var callback []operation.BrowseEvent
	done := make(chan struct{})
	c.OnBrowse(func(_ *operation.Token, ev operation.BrowseEvent) {
		callback = append(callback, ev)
		close(done)
	})

	tok, err := c.Browse(testContext(t), "_http._tcp", "local.", operation.InterfaceAny, operation.WithContext("browser"))
	require.NoError(t, err)
	assert.Equal(t, operation.StateExecuting, tok.State())
	assert.Equal(t, "browser", tok.Context())

	select {
	case n := <-c.BrowseEvents():
		assert.Same(t, tok, n.Token)
		assert.Equal(t, operation.EventAdded, n.Event.Type)
		assert.Equal(t, "Name=[RPI], Type=[_http._tcp.], Domain=[local.], Interface=[12]", n.Event.Descriptor.String())
	case <-time.After(2 * time.Second):
		t.Fatal("no browse event")
	}

	<-done
	require.Len(t, callback, 1)
	assert.Equal(t, "RPI", callback[0].Descriptor.InstanceName)
}

func TestClient_FullChannelDropsEvents(t *testing.T) {
	d := daemontest.New(daemontest.WithHandler(func(s *daemontest.Session, req *protocol.Message) {
		for i := 0; i < 3; i++ {
			browseReplies(s, req)
		}
	}))
	defer d.Close()
	c := newClient(t, d, dnssd.WithEventBuffer(1))

	seen := make(chan struct{}, 3)
	c.OnBrowse(func(*operation.Token, operation.BrowseEvent) { seen <- struct{}{} })

	_, err := c.Browse(testContext(t), "_http._tcp", "", 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		select {
		case <-seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("callback saw %d of 3 events", i)
		}
	}

	// Callbacks see everything; the channel keeps only what fits.
	assert.Len(t, c.BrowseEvents(), 1)
}

func TestClient_ConcurrentOperationsShareConnection(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	c := newClient(t, d)

	ctx := testContext(t)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := c.Lookup(ctx, "rpi.local.", protocol.ProtocolIPv4, false, 0)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, d.Dials())
}

func TestClient_ReconnectsAfterFault(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	c := newClient(t, d)

	tok, err := c.Register(testContext(t), protocol.RegisterParams{ServiceType: "_http._tcp", Port: 80})
	require.NoError(t, err)

	session, err := d.NextSession(testContext(t))
	require.NoError(t, err)

	faulted := make(chan struct{})
	tok.Subscribe(func(_ *operation.Token, s operation.State) {
		if s == operation.StateFaulted {
			close(faulted)
		}
	})
	session.Disconnect()
	select {
	case <-faulted:
	case <-time.After(2 * time.Second):
		t.Fatal("registration did not fault")
	}

	require.Eventually(t, func() bool {
		_, err := c.Resolve(testContext(t), "RPI", "_http._tcp", "local.", 0)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, d.Dials())
}

func TestClient_CancelAll(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	c := newClient(t, d)

	ctx := testContext(t)
	b, err := c.Browse(ctx, "_http._tcp", "", 0)
	require.NoError(t, err)
	l, err := c.Lookup(ctx, "rpi.local.", protocol.ProtocolIPv4v6, true, 0)
	require.NoError(t, err)

	require.NoError(t, c.CancelAll(ctx))
	assert.Equal(t, operation.StateCanceled, b.State())
	assert.Equal(t, operation.StateCanceled, l.State())

	// Nothing left to cancel.
	require.NoError(t, c.CancelAll(ctx))
}

func TestClient_CancelOne(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	c := newClient(t, d)

	ctx := testContext(t)
	b, err := c.Browse(ctx, "_http._tcp", "", 0)
	require.NoError(t, err)
	r, err := c.ResolveDescriptor(ctx, operation.ServiceDescriptor{InstanceName: "RPI", ServiceType: "_http._tcp.", Domain: "local."})
	require.NoError(t, err)

	require.NoError(t, b.Cancel(ctx))
	assert.Equal(t, operation.StateCanceled, b.State())
	assert.Equal(t, operation.StateExecuting, r.State())

	req, err := d.NextRequest(ctx, protocol.OpCancelRequest)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), req.Header.SubordinateID)
}

func TestClient_ValidationBeforeDial(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	c := newClient(t, d)

	_, err := c.Browse(testContext(t), "", "", 0)
	assert.ErrorIs(t, err, protocol.ErrValidation)
	_, err = c.Lookup(testContext(t), "host", protocol.ProtocolUDP, false, 0)
	assert.ErrorIs(t, err, protocol.ErrValidation)
	assert.Equal(t, 0, d.Dials())
}

func TestClient_Close(t *testing.T) {
	d := daemontest.New()
	defer d.Close()
	c := dnssd.New(dnssd.WithProvider(d), dnssd.WithLogger(quietLogger()))

	tok, err := c.Browse(testContext(t), "_http._tcp", "", 0)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, operation.StateCanceled, tok.State())

	_, open := <-c.BrowseEvents()
	assert.False(t, open)

	_, err = c.Browse(testContext(t), "_http._tcp", "", 0)
	assert.True(t, errors.Is(err, dnssd.ErrClosed))
}
