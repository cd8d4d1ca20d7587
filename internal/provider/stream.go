// ABOUTME: Channel-backed Stream implementation shared by all backends
// ABOUTME: A producer goroutine pushes chunks; cancellation stops it and surfaces ctx errors

package provider

import (
	"context"
	"io"
	"sync"

	"github.com/2389/workflow-gateway/internal/llm"
)

// streamBufferSize bounds how far a producer may run ahead of the consumer.
const streamBufferSize = 32

// Emit hands one chunk to the consumer. It fails once the stream is cancelled.
type Emit func(llm.Chunk) error

// channelStream adapts a producer goroutine to the Stream interface.
type channelStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	chunks chan llm.Chunk

	mu  sync.Mutex
	err error
}

// NewChannelStream runs produce in a goroutine and returns a Stream over the
// chunks it emits. A non-nil error from produce is returned by Recv after all
// buffered chunks have been read; a nil error ends the stream with io.EOF.
func NewChannelStream(ctx context.Context, produce func(ctx context.Context, emit Emit) error) Stream {
	cctx, cancel := context.WithCancel(ctx)
	s := &channelStream{
		ctx:    cctx,
		cancel: cancel,
		chunks: make(chan llm.Chunk, streamBufferSize),
	}
	go func() {
		defer close(s.chunks)
		if err := produce(cctx, s.emit); err != nil {
			s.setErr(err)
		}
	}()
	return s
}

func (s *channelStream) emit(c llm.Chunk) error {
	select {
	case s.chunks <- c:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Recv returns the next chunk, io.EOF at the end, or the producer/context error.
func (s *channelStream) Recv() (llm.Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if ok {
			return c, nil
		}
		if err := s.getErr(); err != nil {
			return llm.Chunk{}, err
		}
		return llm.Chunk{}, io.EOF
	case <-s.ctx.Done():
		return llm.Chunk{}, s.ctx.Err()
	}
}

// Close cancels the producer. Safe to call more than once.
func (s *channelStream) Close() error {
	s.cancel()
	return nil
}

func (s *channelStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *channelStream) getErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
