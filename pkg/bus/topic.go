// Package bus provides the typed in-process publish/subscribe layer that
// couples the pipeline stages.
//
// Each signal is a named topic with a fixed payload type. Dispatch is
// synchronous on the publisher's goroutine, in subscriber registration
// order; handlers that may block are expected to hand the work off to a
// worker pool themselves.
package bus

import (
	"context"
	"sync"
)

// Handler consumes one published payload.
type Handler[T any] func(ctx context.Context, payload T)

// Topic is one named signal. Subscribing the same handler twice invokes it
// twice per publish. The subscriber list may be mutated during dispatch;
// the mutation is only visible to subsequent publishes.
type Topic[T any] struct {
	name string

	mu       sync.RWMutex
	handlers []Handler[T]
}

// NewTopic creates a topic with the given signal name.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name}
}

// Name returns the signal name, used for logging and metrics labels.
func (t *Topic[T]) Name() string {
	return t.name
}

// Subscribe appends a handler to the topic's dispatch list.
func (t *Topic[T]) Subscribe(h Handler[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// SubscriberCount returns the number of registered handlers.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

// Publish invokes every handler registered at the time of the call, in
// registration order, inline on the caller's goroutine.
func (t *Topic[T]) Publish(ctx context.Context, payload T) {
	t.mu.RLock()
	handlers := make([]Handler[T], len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, payload)
	}
}
