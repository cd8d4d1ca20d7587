// ABOUTME: Integration tests for the Redis vector index
// ABOUTME: Skipped unless WORKFLOW_GATEWAY_TEST_REDIS points at a Redis Stack server

package vector

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workflow-gateway/internal/provider"
)

func testRedis(t *testing.T) *Redis {
	t.Helper()
	url := os.Getenv("WORKFLOW_GATEWAY_TEST_REDIS")
	if url == "" {
		t.Skip("WORKFLOW_GATEWAY_TEST_REDIS not set, skipping redis integration test")
	}
	index := fmt.Sprintf("wgtest%d", time.Now().UnixNano())
	r, err := NewRedis(RedisConfig{ID: "redis", URL: url, Index: index})
	require.NoError(t, err)
	require.NoError(t, r.Ping(context.Background()))
	t.Cleanup(func() {
		ctx := context.Background()
		_ = r.rdb.FTDropIndexWithArgs(ctx, index, &redis.FTDropIndexOptions{DeleteDocs: true}).Err()
		_ = r.Close()
	})
	return r
}

func TestRedis_UpsertAndSearch(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, []provider.Document{
		{ID: "north", Text: "points north", Vector: []float64{0, 1, 0}},
		{ID: "east", Text: "points east", Vector: []float64{1, 0, 0}},
	}))

	var matches []provider.Match
	require.Eventually(t, func() bool {
		var err error
		matches, err = r.Search(ctx, []float64{0, 1, 0}, 1)
		return err == nil && len(matches) == 1
	}, 2*time.Second, 50*time.Millisecond)

	assert.Equal(t, "north", matches[0].ID)
	assert.Equal(t, "points north", matches[0].Text)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-4)
}

func TestRedis_DimensionMismatch(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, []provider.Document{{ID: "a", Vector: []float64{1, 0}}}))

	_, err := r.Search(ctx, []float64{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNewRedis_RequiresURL(t *testing.T) {
	_, err := NewRedis(RedisConfig{ID: "redis"})
	assert.Error(t, err)

	_, err = NewRedis(RedisConfig{ID: "redis", URL: "::not a url"})
	assert.Error(t, err)
}

func TestRedis_MatchesConvertsDistance(t *testing.T) {
	r := NewRedisWithClient(RedisConfig{ID: "redis", Index: "kb"}, redis.NewClient(&redis.Options{Addr: "localhost:0"}))
	defer r.Close()

	got := r.matches([]redis.Document{
		{ID: "kb:doc-1", Fields: map[string]string{"text": "hello", "score": "0.25"}},
		{ID: "kb:doc-2", Fields: map[string]string{"text": "broken", "score": "n/a"}},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "doc-1", got[0].ID)
	assert.Equal(t, "hello", got[0].Text)
	assert.InDelta(t, 0.75, got[0].Score, 1e-9)
}
