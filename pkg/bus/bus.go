// Package bus carries messages between the engine and whatever
// front-end is attached: user requests inbound, progress/choice/result
// events outbound. The engine never touches the terminal directly.
package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

var ErrBusClosed = errors.New("message bus closed")

type MessageBus struct {
	requests chan Request
	events   chan Event
	done     chan struct{}
	closed   atomic.Bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		requests: make(chan Request, 16),
		events:   make(chan Event, 100),
		done:     make(chan struct{}),
	}
}

// PublishRequest submits a user request for processing.
func (mb *MessageBus) PublishRequest(ctx context.Context, req Request) error {
	if err := mb.publishStateErr(ctx); err != nil {
		return err
	}
	select {
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	case mb.requests <- req:
		return nil
	}
}

// ConsumeRequest blocks until a request arrives; ok is false when the
// bus is closed or ctx is cancelled.
func (mb *MessageBus) ConsumeRequest(ctx context.Context) (Request, bool) {
	select {
	case req, ok := <-mb.requests:
		return req, ok
	case <-mb.done:
		return Request{}, false
	case <-ctx.Done():
		return Request{}, false
	}
}

// PublishEvent emits an engine event. Events never block the engine:
// when the buffer is full the oldest pending event is dropped so a
// slow renderer cannot stall execution.
func (mb *MessageBus) PublishEvent(ctx context.Context, ev Event) error {
	if err := mb.publishStateErr(ctx); err != nil {
		return err
	}
	select {
	case <-mb.done:
		return ErrBusClosed
	case mb.events <- ev:
		return nil
	default:
	}

	// Buffer full: drop the oldest pending event so this one lands.
	select {
	case <-mb.events:
	default:
	}
	select {
	case <-mb.done:
		return ErrBusClosed
	case mb.events <- ev:
		return nil
	default:
		return nil
	}
}

// ConsumeEvent blocks until an event arrives; ok is false when the bus
// is closed or ctx is cancelled.
func (mb *MessageBus) ConsumeEvent(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-mb.events:
		return ev, ok
	case <-mb.done:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

func (mb *MessageBus) publishStateErr(ctx context.Context) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Close shuts the bus down; pending consumers unblock with ok=false.
func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
