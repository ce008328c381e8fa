// Package daemontest provides an in-memory service daemon for tests. It
// speaks the client protocol over net.Pipe, acknowledges requests on
// in-memory error return listeners and lets tests script replies.
package daemontest

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rescp17/dnssd-client/pkg/protocol"
	"github.com/rescp17/dnssd-client/pkg/transport"
)

// RequestHandler runs after a subordinate request has been acknowledged.
type RequestHandler func(s *Session, req *protocol.Message)

// Option configures a Daemon.
type Option func(*Daemon)

// WithConnectStatus sets the status returned for the connection handshake.
func WithConnectStatus(code protocol.ServiceError) Option {
	return func(d *Daemon) { d.connectStatus = code }
}

// WithAckStatus sets the status returned for every request with op.
func WithAckStatus(op protocol.OpCode, code protocol.ServiceError) Option {
	return func(d *Daemon) { d.ackStatus[op] = code }
}

// WithoutAck makes the daemon never connect back for requests with op.
func WithoutAck(op protocol.OpCode) Option {
	return func(d *Daemon) { d.silent[op] = true }
}

// WithClientTimeout sets the acknowledgement timeout of dialed transports.
func WithClientTimeout(timeout time.Duration) Option {
	return func(d *Daemon) { d.clientTimeout = timeout }
}

// WithHandler installs a handler for acknowledged requests.
func WithHandler(h RequestHandler) Option {
	return func(d *Daemon) { d.handler = h }
}

// WithTransportOptions adds options to every dialed transport.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(d *Daemon) { d.transportOpts = append(d.transportOpts, opts...) }
}

// Daemon is an in-memory daemon. It is also a transport.Provider.
type Daemon struct {
	connectStatus protocol.ServiceError
	ackStatus     map[protocol.OpCode]protocol.ServiceError
	silent        map[protocol.OpCode]bool
	clientTimeout time.Duration
	handler       RequestHandler
	transportOpts []transport.Option

	mu        sync.Mutex
	listeners map[uint16]*pipeListener
	nextPort  uint16
	sessions  []*Session
	dials     int
	openLsn   int
	closed    bool

	requests    chan *protocol.Message
	newSessions chan *Session
}

// New returns a running daemon.
func New(opts ...Option) *Daemon {
	d := &Daemon{
		ackStatus:     make(map[protocol.OpCode]protocol.ServiceError),
		silent:        make(map[protocol.OpCode]bool),
		clientTimeout: 2 * time.Second,
		listeners:     make(map[uint16]*pipeListener),
		nextPort:      49152,
		requests:      make(chan *protocol.Message, 256),
		newSessions:   make(chan *Session, 16),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial implements transport.Provider.
func (d *Daemon) Dial(ctx context.Context) (*transport.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("dial daemontest: %w", protocol.ErrorServiceNotRunning)
	}
	d.dials++
	d.mu.Unlock()

	client, server := net.Pipe()
	s := &Session{daemon: d, conn: server, reader: bufio.NewReader(server)}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	go s.serve()

	opts := append([]transport.Option{
		transport.WithErrorReturn(d.listen),
		transport.WithClientTimeout(d.clientTimeout),
	}, d.transportOpts...)
	return transport.New(client, opts...), nil
}

// Dials returns how many transports have been dialed.
func (d *Daemon) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// OpenListeners returns how many error return listeners are still open.
func (d *Daemon) OpenListeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openLsn
}

// Requests delivers every decoded request, handshakes and cancels included.
func (d *Daemon) Requests() <-chan *protocol.Message {
	return d.requests
}

// NextRequest waits for the next request with op, skipping others.
func (d *Daemon) NextRequest(ctx context.Context, op protocol.OpCode) (*protocol.Message, error) {
	for {
		select {
		case req := <-d.requests:
			if req.OpCode() == op {
				return req, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", op, ctx.Err())
		}
	}
}

// NextSession waits for the next dialed session.
func (d *Daemon) NextSession(ctx context.Context) (*Session, error) {
	select {
	case s := <-d.newSessions:
		return s, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for session: %w", ctx.Err())
	}
}

// Close drops every session and refuses further dials.
func (d *Daemon) Close() {
	d.mu.Lock()
	d.closed = true
	sessions := d.sessions
	d.sessions = nil
	d.mu.Unlock()
	for _, s := range sessions {
		_ = s.conn.Close()
	}
}

func (d *Daemon) listen() (transport.ErrorReturnListener, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("daemontest: closed")
	}
	port := d.nextPort
	d.nextPort++
	l := &pipeListener{daemon: d, port: port, conns: make(chan net.Conn, 1)}
	d.listeners[port] = l
	d.openLsn++
	return l, nil
}

// connectBack opens a connection to the client's error return listener.
func (d *Daemon) connectBack(port uint16) (net.Conn, error) {
	d.mu.Lock()
	l, ok := d.listeners[port]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("daemontest: no listener on port %d", port)
	}
	client, server := net.Pipe()
	select {
	case l.conns <- client:
		return server, nil
	default:
		_ = client.Close()
		_ = server.Close()
		return nil, fmt.Errorf("daemontest: listener on port %d already used", port)
	}
}

func (d *Daemon) publish(req *protocol.Message) {
	select {
	case d.requests <- req:
	default:
	}
}

type pipeListener struct {
	daemon *Daemon
	port   uint16
	conns  chan net.Conn
	once   sync.Once
}

func (l *pipeListener) Port() uint16 {
	return l.port
}

func (l *pipeListener) Accept(ctx context.Context) (io.ReadCloser, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *pipeListener) Close() error {
	l.once.Do(func() {
		l.daemon.mu.Lock()
		delete(l.daemon.listeners, l.port)
		l.daemon.openLsn--
		l.daemon.mu.Unlock()
	})
	return nil
}

// Session is the daemon side of one client connection.
type Session struct {
	daemon  *Daemon
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

func (s *Session) serve() {
	defer s.conn.Close()
	for {
		req, err := s.readRequest()
		if err != nil {
			return
		}
		s.daemon.publish(req)

		switch {
		case req.OpCode() == protocol.OpConnectionRequest && !req.IsSubordinate():
			s.writeMu.Lock()
			err := s.writeStatus(s.conn, s.daemon.connectStatus)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
			if s.daemon.connectStatus == protocol.NoError {
				s.daemon.newSessions <- s
			}
		case req.OpCode() == protocol.OpCancelRequest:
		default:
			carrier, ok := req.Payload.(protocol.ErrorReturnCarrier)
			if !ok || !req.IsSubordinate() || s.daemon.silent[req.OpCode()] {
				continue
			}
			go s.acknowledge(req, carrier.ErrorReturnPort())
		}
	}
}

func (s *Session) acknowledge(req *protocol.Message, port uint16) {
	conn, err := s.daemon.connectBack(port)
	if err != nil {
		return
	}
	status := s.daemon.ackStatus[req.OpCode()]
	err = s.writeStatus(conn, status)
	_ = conn.Close()
	if err == nil && status == protocol.NoError && s.daemon.handler != nil {
		s.daemon.handler(s, req)
	}
}

func (s *Session) readRequest() (*protocol.Message, error) {
	header := make([]byte, protocol.HeaderLength)
	if _, err := io.ReadFull(s.reader, header); err != nil {
		return nil, err
	}
	h, _, err := protocol.DecodeHeader(header, 0)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, h.DataLength)
	if _, err := io.ReadFull(s.reader, payload); err != nil {
		return nil, err
	}
	return protocol.DecodeRequest(h, payload)
}

func (s *Session) writeStatus(w net.Conn, code protocol.ServiceError) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(code))
	_ = w.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := w.Write(b[:])
	return err
}

// Send writes replies in a single write, so every reply but the last is
// already buffered when the client reads it.
func (s *Session) Send(msgs ...*protocol.Message) error {
	var buf []byte
	for _, m := range msgs {
		frame, err := m.MarshalBinary()
		if err != nil {
			return err
		}
		buf = append(buf, frame...)
	}
	return s.SendRaw(buf)
}

// SendRaw writes b to the client unchanged.
func (s *Session) SendRaw(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := s.conn.Write(b)
	return err
}

// Disconnect closes the daemon end of the connection.
func (s *Session) Disconnect() {
	_ = s.conn.Close()
}

// Unreachable is a provider whose daemon is never running.
type Unreachable struct{}

func (Unreachable) Dial(context.Context) (*transport.Transport, error) {
	return nil, fmt.Errorf("dial: %w", protocol.ErrorServiceNotRunning)
}
