package operation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rescp17/dnssd-client/pkg/protocol"
	"github.com/rescp17/dnssd-client/pkg/transport"
)

// Connection is the primary operation. It owns the daemon transport and
// routes replies to its subordinates by subordinate ID.
type Connection struct {
	core
	provider transport.Provider

	mu           sync.Mutex
	transport    *transport.Transport
	subordinates map[uint64]Subordinate
}

// NewConnection returns a connection that dials through provider when
// executed.
func NewConnection(provider transport.Provider, opts ...Option) *Connection {
	c := &Connection{
		provider:     provider,
		subordinates: make(map[uint64]Subordinate),
	}
	c.init(protocol.NewConnectionRequest(), buildOptions(opts), c.Cancel)
	return c
}

// Execute dials the daemon, performs the handshake and starts receiving
// replies. It fails with ErrNotNew unless the connection is new.
func (c *Connection) Execute(ctx context.Context) error {
	return c.guard.ExecuteWithContext(ctx, func() error {
		if c.token.State() != StateNew {
			return ErrNotNew
		}

		tr, err := c.provider.Dial(ctx)
		if err != nil {
			c.token.transition(StateFaulted)
			return fmt.Errorf("connect to daemon: %w", err)
		}

		c.mu.Lock()
		c.transport = tr
		c.mu.Unlock()

		if err := tr.Start(ctx, c.onReply, c.connectionClosed); err != nil {
			c.token.transition(StateFaulted)
			return err
		}
		if !c.token.transition(StateExecuting) {
			return fmt.Errorf("%w: connection is %s", ErrInterrupted, c.token.State())
		}
		c.logger.Debug("Daemon connection established", "token", c.token.ID())
		return nil
	})
}

// Cancel stops the transport and cancels every subordinate. It does
// nothing unless the connection is executing.
func (c *Connection) Cancel(ctx context.Context) error {
	return c.guard.ExecuteWithContext(ctx, func() error {
		if c.token.State() != StateExecuting {
			return nil
		}
		if tr := c.currentTransport(); tr != nil {
			tr.Stop()
		}
		c.onPrimaryCanceled()
		c.onCanceled()
		return nil
	})
}

// AddAndExecute attaches sub under the smallest unused subordinate ID and
// executes it. A subordinate that fails to execute detaches itself.
func (c *Connection) AddAndExecute(ctx context.Context, sub Subordinate) error {
	if state := c.token.State(); state != StateExecuting {
		return fmt.Errorf("%w: connection is %s", ErrConnectionNotExecuting, state)
	}
	if err := c.add(sub); err != nil {
		return err
	}
	return sub.base().execute(ctx)
}

// Subordinates returns the IDs of the attached subordinates in ascending order.
func (c *Connection) Subordinates() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.subordinates))
	for id := range c.subordinates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Connection) add(sub Subordinate) error {
	s := sub.base()
	if s.State() != StateNew {
		return ErrNotNew
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !s.attach(c) {
		return ErrAlreadyAttached
	}
	id := uint64(1)
	for {
		if _, taken := c.subordinates[id]; !taken {
			break
		}
		id++
	}
	c.subordinates[id] = sub
	s.msg.SetSubordinateID(id)
	return nil
}

func (c *Connection) remove(s *subordinate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := s.msg.Header.SubordinateID
	if cur, ok := c.subordinates[id]; ok && cur.base() == s {
		delete(c.subordinates, id)
	}
	s.detach()
}

func (c *Connection) lookup(id uint64) Subordinate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subordinates[id]
}

func (c *Connection) currentTransport() *transport.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func (c *Connection) post(msg *protocol.Message) error {
	tr := c.currentTransport()
	if tr == nil {
		return transport.ErrNotConnected
	}
	return tr.Post(msg)
}

func (c *Connection) send(ctx context.Context, msg *protocol.Message) error {
	tr := c.currentTransport()
	if tr == nil {
		return transport.ErrNotConnected
	}
	return tr.Send(ctx, msg, true)
}

// onReply runs on the transport's receive goroutine.
func (c *Connection) onReply(msg *protocol.Message, moreComing bool) error {
	if msg.OpCode() == protocol.OpRegisterRecordReply {
		return ErrRecordRegistrationUnsupported
	}
	sub := c.lookup(msg.Header.SubordinateID)
	if sub == nil {
		c.logger.Debug("Dropping reply for unknown subordinate", "op", msg.OpCode(), "subordinate", msg.Header.SubordinateID)
		return nil
	}
	sub.processReply(msg, moreComing)
	return nil
}

// connectionClosed moves the connection to StateCanceled when the transport
// was stopped and to StateFaulted otherwise, then empties the subordinate
// table. Executing subordinates follow the connection; one still waiting for
// its acknowledgement is faulted.
func (c *Connection) connectionClosed(reason transport.ClosedReason) {
	if reason == transport.ReasonCanceled {
		c.token.transition(StateCanceled)
	} else {
		c.token.transition(StateFaulted)
	}
	state := c.token.State()
	c.logger.Info("Daemon connection closed", "reason", reason, "state", state, "token", c.token.ID())

	for _, sub := range c.detachAll() {
		s := sub.base()
		if state == StateCanceled && s.State() == StateExecuting {
			s.onCanceled()
			continue
		}
		s.token.transition(StateFaulted)
	}
}

// onPrimaryCanceled cancels the subordinates still attached after the
// transport stopped. It only finds any when Cancel runs inside a reply
// handler, before the receive loop has closed.
func (c *Connection) onPrimaryCanceled() {
	for _, sub := range c.detachAll() {
		sub.base().onCanceled()
	}
}

// detachAll empties the subordinate table and returns what it held.
func (c *Connection) detachAll() []Subordinate {
	c.mu.Lock()
	subs := make([]Subordinate, 0, len(c.subordinates))
	for id, sub := range c.subordinates {
		subs = append(subs, sub)
		delete(c.subordinates, id)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.base().detach()
	}
	return subs
}
