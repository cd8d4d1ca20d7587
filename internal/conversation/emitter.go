// ABOUTME: Buffered channel Emitter consumed by SSE handlers, plus a discarding Emitter
// ABOUTME: Close marks the consumer gone and unblocks any pending Emit

package conversation

import (
	"context"
	"errors"
	"sync"
)

// ErrEmitterClosed is returned by Emit after Close.
var ErrEmitterClosed = errors.New("emitter closed")

// emitterBufferSize is how many events may queue before Emit blocks.
const emitterBufferSize = 64

// ChannelEmitter delivers events over a buffered channel.
type ChannelEmitter struct {
	ch   chan Event
	done chan struct{}

	mu     sync.RWMutex // held for reading while sending on ch
	once   sync.Once
	closed bool
}

// NewChannelEmitter creates an open emitter.
func NewChannelEmitter() *ChannelEmitter {
	return &ChannelEmitter{
		ch:   make(chan Event, emitterBufferSize),
		done: make(chan struct{}),
	}
}

// Events returns the channel to consume. It is closed after Close.
func (e *ChannelEmitter) Events() <-chan Event {
	return e.ch
}

// Emit implements Emitter.
func (e *ChannelEmitter) Emit(ctx context.Context, ev Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrEmitterClosed
	}
	select {
	case e.ch <- ev:
		return nil
	case <-e.done:
		return ErrEmitterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done implements Emitter.
func (e *ChannelEmitter) Done() <-chan struct{} {
	return e.done
}

// Close marks the consumer gone and closes the event channel. It is safe to
// call more than once.
func (e *ChannelEmitter) Close() {
	e.once.Do(func() {
		// Wake blocked senders first so the write lock can be taken.
		close(e.done)
		e.mu.Lock()
		e.closed = true
		close(e.ch)
		e.mu.Unlock()
	})
}

// Discard is an Emitter that drops every event and never closes.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) error { return nil }
func (discard) Done() <-chan struct{}             { return nil }
