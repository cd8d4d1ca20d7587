// ABOUTME: Redis vector index over RediSearch HNSW fields
// ABOUTME: Documents are hashes under "<index>:<id>"; queries use KNN with cosine distance

package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/2389/workflow-gateway/internal/provider"
)

const (
	fieldText      = "text"
	fieldEmbedding = "embedding"
	fieldScore     = "score"
)

// RedisConfig configures a Redis index.
type RedisConfig struct {
	ID    string
	URL   string // redis://[:password@]host:port/db
	Index string
	// Dimensions of stored vectors. Zero means take it from the first Upsert.
	Dimensions int
	Logger     *slog.Logger
}

// Redis is a vector index stored in Redis.
type Redis struct {
	id     string
	index  string
	rdb    *redis.Client
	logger *slog.Logger

	mu    sync.Mutex
	dim   int
	ready bool
}

// NewRedis connects to Redis. The index is created on first use.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis vector: url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis vector: parsing url: %w", err)
	}
	// Search replies are only stable over RESP2.
	opts.Protocol = 2
	return NewRedisWithClient(cfg, redis.NewClient(opts)), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(cfg RedisConfig, rdb *redis.Client) *Redis {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	index := cfg.Index
	if index == "" {
		index = "knowledge"
	}
	return &Redis{
		id:     cfg.ID,
		index:  index,
		rdb:    rdb,
		dim:    cfg.Dimensions,
		logger: logger.With("component", "redis-vector", "index", index),
	}
}

// ID implements provider.Provider.
func (r *Redis) ID() string { return r.id }

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) key(id string) string {
	return r.index + ":" + id
}

// ensureIndex creates the index for dim-sized vectors if it does not exist.
func (r *Redis) ensureIndex(ctx context.Context, dim int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dim == 0 {
		r.dim = dim
	}
	if dim != r.dim {
		return fmt.Errorf("%w: index %s has %d dimensions, got %d", ErrDimensionMismatch, r.index, r.dim, dim)
	}
	if r.ready {
		return nil
	}

	err := r.rdb.FTCreate(ctx, r.index,
		&redis.FTCreateOptions{OnHash: true, Prefix: []interface{}{r.index + ":"}},
		&redis.FieldSchema{FieldName: fieldText, FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{
			FieldName: fieldEmbedding,
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{HNSWOptions: &redis.FTHNSWOptions{
				Type:           "FLOAT32",
				Dim:            r.dim,
				DistanceMetric: "COSINE",
			}},
		},
	).Err()
	if err != nil && !strings.Contains(err.Error(), "Index already exists") {
		return fmt.Errorf("creating index %s: %w", r.index, err)
	}
	if err == nil {
		r.logger.Info("vector index created", "dimensions", r.dim)
	}
	r.ready = true
	return nil
}

// Upsert implements provider.VectorSearcher.
func (r *Redis) Upsert(ctx context.Context, docs []provider.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := r.ensureIndex(ctx, len(docs[0].Vector)); err != nil {
		return err
	}

	pipe := r.rdb.Pipeline()
	for _, d := range docs {
		if len(d.Vector) != r.dim {
			return ErrDimensionMismatch
		}
		pipe.HSet(ctx, r.key(d.ID), fieldText, d.Text, fieldEmbedding, EncodeFloat32(d.Vector))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing vectors: %w", err)
	}
	return nil
}

// Search implements provider.VectorSearcher. Scores are cosine similarity
// (one minus the cosine distance Redis reports).
func (r *Redis) Search(ctx context.Context, vector []float64, k int) ([]provider.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := r.ensureIndex(ctx, len(vector)); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("*=>[KNN %d @%s $vec AS %s]", k, fieldEmbedding, fieldScore)
	res, err := r.rdb.FTSearchWithArgs(ctx, r.index, query, &redis.FTSearchOptions{
		Return:         []redis.FTSearchReturn{{FieldName: fieldText}, {FieldName: fieldScore}},
		SortBy:         []redis.FTSearchSortBy{{FieldName: fieldScore, Asc: true}},
		DialectVersion: 2,
		LimitOffset:    0,
		Limit:          k,
		Params:         map[string]interface{}{"vec": EncodeFloat32(vector)},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", r.index, err)
	}
	return r.matches(res.Docs), nil
}

func (r *Redis) matches(docs []redis.Document) []provider.Match {
	out := make([]provider.Match, 0, len(docs))
	prefix := r.index + ":"
	for _, d := range docs {
		dist, err := strconv.ParseFloat(d.Fields[fieldScore], 64)
		if err != nil {
			r.logger.Warn("unparseable vector distance", "doc", d.ID, "value", d.Fields[fieldScore])
			continue
		}
		out = append(out, provider.Match{
			ID:    strings.TrimPrefix(d.ID, prefix),
			Text:  d.Fields[fieldText],
			Score: 1 - dist,
		})
	}
	return out
}

// EncodeFloat32 packs v as little-endian float32 values, the layout
// RediSearch expects for FLOAT32 vectors.
func EncodeFloat32(v []float64) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(f)))
	}
	return buf
}

// DecodeFloat32 reverses EncodeFloat32.
func DecodeFloat32(b []byte) ([]float64, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float64, len(b)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return out, nil
}

var _ provider.VectorSearcher = (*Redis)(nil)
