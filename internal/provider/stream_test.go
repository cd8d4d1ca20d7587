// ABOUTME: Tests for the channel-backed Stream adapter
// ABOUTME: Covers ordering, producer errors, and cancellation via Close

package provider_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/provider"
)

func TestChannelStream_DeliversInOrder(t *testing.T) {
	s := provider.NewChannelStream(context.Background(), func(_ context.Context, emit provider.Emit) error {
		for _, w := range []string{"a", "b", "c"} {
			if err := emit(llm.TextChunk(w)); err != nil {
				return err
			}
		}
		return nil
	})

	var got string
	for {
		c, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got += c.Text
	}
	assert.Equal(t, "abc", got)
}

func TestChannelStream_ProducerErrorAfterChunks(t *testing.T) {
	boom := errors.New("boom")
	s := provider.NewChannelStream(context.Background(), func(_ context.Context, emit provider.Emit) error {
		if err := emit(llm.TextChunk("partial")); err != nil {
			return err
		}
		return boom
	})
	defer s.Close()

	c, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", c.Text)

	_, err = s.Recv()
	assert.ErrorIs(t, err, boom)
}

func TestChannelStream_CloseStopsProducer(t *testing.T) {
	stopped := make(chan error, 1)
	s := provider.NewChannelStream(context.Background(), func(ctx context.Context, emit provider.Emit) error {
		for {
			if err := emit(llm.TextChunk(".")); err != nil {
				stopped <- err
				return err
			}
		}
	})

	_, err := s.Recv()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after Close")
	}
}

func TestChannelStream_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := provider.NewChannelStream(ctx, func(ctx context.Context, _ provider.Emit) error {
		<-ctx.Done()
		return ctx.Err()
	})
	defer s.Close()

	cancel()
	_, err := s.Recv()
	assert.ErrorIs(t, err, context.Canceled)
}
