package operation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StateHandler observes the state changes of an operation.
type StateHandler func(tok *Token, state State)

// Token is the caller's handle on a running operation.
type Token struct {
	id      uuid.UUID
	context any
	cancel  func(ctx context.Context) error

	mu       sync.Mutex
	state    State
	handlers []subscription
	nextID   int
}

type subscription struct {
	id int
	h  StateHandler
}

func newToken(userContext any, cancel func(ctx context.Context) error) *Token {
	return &Token{
		id:      uuid.New(),
		context: userContext,
		cancel:  cancel,
	}
}

// ID returns the token's unique identifier.
func (t *Token) ID() uuid.UUID {
	return t.id
}

// Context returns the value the operation was created with.
func (t *Token) Context() any {
	return t.context
}

func (t *Token) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe registers h for state changes and returns a function that
// removes it. If the operation has already left StateNew, h is called
// immediately with the current state.
func (t *Token) Subscribe(h StateHandler) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers = append(t.handlers, subscription{id: id, h: h})
	current := t.state
	t.mu.Unlock()

	if current != StateNew {
		h(t, current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.handlers {
				if s.id == id {
					t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Cancel stops the operation. Canceling an operation that is not
// executing does nothing.
func (t *Token) Cancel(ctx context.Context) error {
	return t.cancel(ctx)
}

// transition moves the token to next and notifies subscribers. It reports
// false, without notifying, when the move is not a change or not allowed.
func (t *Token) transition(next State) bool {
	t.mu.Lock()
	if t.state == next || !t.state.CanTransitionTo(next) {
		t.mu.Unlock()
		return false
	}
	t.state = next
	handlers := make([]StateHandler, 0, len(t.handlers))
	for _, s := range t.handlers {
		handlers = append(handlers, s.h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(t, next)
	}
	return true
}
