package dnssd

import (
	"log/slog"
	"sync"

	"github.com/rescp17/dnssd-client/pkg/operation"
)

// Notification pairs an event with the token of the operation that
// produced it.
type Notification[E any] struct {
	Token *operation.Token
	Event E
}

// stream fans events out to callbacks and a buffered channel. A full
// channel drops the event rather than stall the receive loop.
type stream[E any] struct {
	kind   string
	logger *slog.Logger

	mu       sync.RWMutex
	ch       chan Notification[E]
	handlers []operation.EventHandler[E]
	closed   bool
}

func newStream[E any](kind string, size int, logger *slog.Logger) *stream[E] {
	return &stream[E]{
		kind:   kind,
		logger: logger,
		ch:     make(chan Notification[E], size),
	}
}

func (s *stream[E]) subscribe(h operation.EventHandler[E]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *stream[E]) publish(tok *operation.Token, ev E) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	handlers := s.handlers
	select {
	case s.ch <- Notification[E]{Token: tok, Event: ev}:
	default:
		s.logger.Warn("Dropping event, channel full", "kind", s.kind, "token", tok.ID())
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(tok, ev)
	}
}

func (s *stream[E]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
