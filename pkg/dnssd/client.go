// Package dnssd is the entry point for talking to the service discovery
// daemon. A Client shares one daemon connection between all of its
// operations and delivers their events on channels and callbacks.
package dnssd

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rescp17/dnssd-client/internal/config"
	"github.com/rescp17/dnssd-client/pkg/operation"
	"github.com/rescp17/dnssd-client/pkg/protocol"
	"github.com/rescp17/dnssd-client/pkg/transport"
)

var ErrClosed = errors.New("dnssd client is closed")

type Option func(*Client)

// WithProvider sets how the daemon is reached. The default dials the
// daemon's loopback TCP port.
func WithProvider(p transport.Provider) Option {
	return func(c *Client) {
		if p != nil {
			c.provider = p
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConfig takes the daemon address, timeouts, retry policy and event
// buffer size from cfg. It has no effect on a client given WithProvider.
func WithConfig(cfg *config.Config) Option {
	return func(c *Client) {
		if cfg != nil {
			c.cfg = cfg
			c.bufferSize = cfg.EventBufferSize
		}
	}
}

// WithEventBuffer sets the capacity of each event channel.
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.bufferSize = n
		}
	}
}

// Client runs browse, resolve, register and lookup operations over a
// lazily opened daemon connection. A connection that faults or is canceled
// is discarded and the next operation dials again.
type Client struct {
	cfg        *config.Config
	provider   transport.Provider
	logger     *slog.Logger
	bufferSize int

	dialMu sync.Mutex
	mu     sync.Mutex
	conn   *operation.Connection
	closed bool

	browse   *stream[operation.BrowseEvent]
	resolve  *stream[operation.ResolveEvent]
	register *stream[operation.RegisterEvent]
	lookup   *stream[operation.LookupEvent]
}

func New(opts ...Option) *Client {
	cfg := config.Default()
	c := &Client{
		cfg:        cfg,
		logger:     slog.Default(),
		bufferSize: cfg.EventBufferSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.provider == nil {
		p := transport.NewTCPProvider(c.cfg, transport.WithLogger(c.logger))
		p.SetLogger(c.logger)
		c.provider = p
	}
	c.browse = newStream[operation.BrowseEvent]("browse", c.bufferSize, c.logger)
	c.resolve = newStream[operation.ResolveEvent]("resolve", c.bufferSize, c.logger)
	c.register = newStream[operation.RegisterEvent]("register", c.bufferSize, c.logger)
	c.lookup = newStream[operation.LookupEvent]("lookup", c.bufferSize, c.logger)
	return c
}

func (c *Client) BrowseEvents() <-chan Notification[operation.BrowseEvent] {
	return c.browse.ch
}

func (c *Client) ResolveEvents() <-chan Notification[operation.ResolveEvent] {
	return c.resolve.ch
}

func (c *Client) RegisterEvents() <-chan Notification[operation.RegisterEvent] {
	return c.register.ch
}

func (c *Client) LookupEvents() <-chan Notification[operation.LookupEvent] {
	return c.lookup.ch
}

// OnBrowse registers h for the events of every browse this client runs.
// Handlers run on the connection's receive goroutine.
func (c *Client) OnBrowse(h operation.EventHandler[operation.BrowseEvent]) {
	c.browse.subscribe(h)
}

func (c *Client) OnResolve(h operation.EventHandler[operation.ResolveEvent]) {
	c.resolve.subscribe(h)
}

func (c *Client) OnRegister(h operation.EventHandler[operation.RegisterEvent]) {
	c.register.subscribe(h)
}

func (c *Client) OnLookup(h operation.EventHandler[operation.LookupEvent]) {
	c.lookup.subscribe(h)
}

// Probe reports whether the daemon is reachable. A daemon that is not
// running is not an error. Unless leaveConnected is set, the connection
// opened by the probe is canceled again.
func (c *Client) Probe(ctx context.Context, leaveConnected bool) (bool, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		if protocol.AsServiceError(err) == protocol.ErrorServiceNotRunning {
			c.logger.Debug("Daemon is not running", "error", err)
			return false, nil
		}
		return false, err
	}
	if !leaveConnected {
		if err := c.cancelConnection(ctx, conn); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Browse starts looking for instances of serviceType. An empty domain
// browses the default domains.
func (c *Client) Browse(ctx context.Context, serviceType, domain string, interfaceIndex uint32, opts ...operation.Option) (*operation.Token, error) {
	op, err := operation.NewBrowse(serviceType, domain, interfaceIndex, c.withLogger(opts)...)
	if err != nil {
		return nil, err
	}
	op.OnEvent(c.browse.publish)
	return c.run(ctx, op)
}

func (c *Client) Resolve(ctx context.Context, instanceName, serviceType, domain string, interfaceIndex uint32, opts ...operation.Option) (*operation.Token, error) {
	op, err := operation.NewResolve(instanceName, serviceType, domain, interfaceIndex, c.withLogger(opts)...)
	if err != nil {
		return nil, err
	}
	op.OnEvent(c.resolve.publish)
	return c.run(ctx, op)
}

// ResolveDescriptor resolves an instance reported by a browse.
func (c *Client) ResolveDescriptor(ctx context.Context, d operation.ServiceDescriptor, opts ...operation.Option) (*operation.Token, error) {
	return c.Resolve(ctx, d.InstanceName, d.ServiceType, d.Domain, d.InterfaceIndex, opts...)
}

// Register advertises a service until its token is canceled.
func (c *Client) Register(ctx context.Context, params protocol.RegisterParams, opts ...operation.Option) (*operation.Token, error) {
	op, err := operation.NewRegister(params, c.withLogger(opts)...)
	if err != nil {
		return nil, err
	}
	op.OnEvent(c.register.publish)
	return c.run(ctx, op)
}

// Lookup resolves hostName to addresses of the families in proto.
func (c *Client) Lookup(ctx context.Context, hostName string, proto protocol.ProtocolFlags, withTimeout bool, interfaceIndex uint32, opts ...operation.Option) (*operation.Token, error) {
	op, err := operation.NewLookup(hostName, proto, withTimeout, interfaceIndex, c.withLogger(opts)...)
	if err != nil {
		return nil, err
	}
	op.OnEvent(c.lookup.publish)
	return c.run(ctx, op)
}

// CancelAll cancels the shared connection and with it every operation.
func (c *Client) CancelAll(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Cancel(ctx)
}

// Close cancels every operation and closes the event channels.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.CancelAll(context.Background())
	c.browse.close()
	c.resolve.close()
	c.register.close()
	c.lookup.close()
	return err
}

func (c *Client) withLogger(opts []operation.Option) []operation.Option {
	return append([]operation.Option{operation.WithLogger(c.logger)}, opts...)
}

func (c *Client) run(ctx context.Context, op operation.Subordinate) (*operation.Token, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.AddAndExecute(ctx, op); err != nil {
		return nil, err
	}
	return op.Token(), nil
}

// connection returns the shared connection, dialing a new one if needed.
func (c *Client) connection(ctx context.Context) (*operation.Connection, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	closed, conn := c.closed, c.conn
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if conn != nil {
		return conn, nil
	}

	conn = operation.NewConnection(c.provider, operation.WithLogger(c.logger))
	conn.Token().Subscribe(func(_ *operation.Token, s operation.State) {
		if s.IsTerminal() {
			c.discard(conn)
		}
	})
	if err := conn.Execute(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	// The connection may have closed before it was published.
	if conn.State().IsTerminal() {
		c.discard(conn)
	}
	return conn, nil
}

func (c *Client) discard(conn *operation.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.logger.Debug("Discarding daemon connection", "state", conn.State())
	}
}

func (c *Client) cancelConnection(ctx context.Context, conn *operation.Connection) error {
	c.discard(conn)
	return conn.Cancel(ctx)
}
