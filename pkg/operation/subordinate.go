package operation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rescp17/dnssd-client/pkg/protocol"
)

// Subordinate is an operation multiplexed over a Connection.
type Subordinate interface {
	Token() *Token
	State() State
	base() *subordinate
	processReply(msg *protocol.Message, moreComing bool)
}

type subordinate struct {
	core

	mu   sync.Mutex
	conn *Connection
}

func (s *subordinate) base() *subordinate {
	return s
}

// ID returns the subordinate ID assigned by the connection, or 0 before
// the operation has been added to one.
func (s *subordinate) ID() uint64 {
	return s.msg.Header.SubordinateID
}

func (s *subordinate) attach(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return false
	}
	s.conn = c
	return true
}

func (s *subordinate) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = nil
}

func (s *subordinate) connection() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// execute sends the request and waits for the daemon's acknowledgement on
// a separate error connection.
func (s *subordinate) execute(ctx context.Context) error {
	return s.guard.ExecuteWithContext(ctx, func() error {
		if s.token.State() != StateNew {
			return ErrNotNew
		}
		conn := s.connection()
		if conn == nil {
			return ErrNotAttached
		}

		if err := conn.send(ctx, s.msg); err != nil {
			s.token.transition(StateFaulted)
			conn.remove(s)
			return err
		}
		if !s.token.transition(StateExecuting) {
			return fmt.Errorf("%w: operation is %s", ErrInterrupted, s.token.State())
		}
		s.logger.Debug("Operation executing", "op", s.msg.OpCode(), "subordinate", s.ID(), "token", s.token.ID())
		return nil
	})
}

// Cancel asks the daemon to stop the operation and detaches it from its
// connection. It does nothing unless the operation is executing.
func (s *subordinate) Cancel(ctx context.Context) error {
	return s.guard.ExecuteWithContext(ctx, func() error {
		if s.token.State() != StateExecuting {
			return nil
		}
		conn := s.connection()
		if conn == nil {
			return ErrNotAttached
		}
		if err := conn.post(protocol.NewCancelRequest(s.ID())); err != nil {
			return fmt.Errorf("cancel %s: %w", s.msg.OpCode(), err)
		}
		conn.remove(s)
		s.onCanceled()
		return nil
	})
}
