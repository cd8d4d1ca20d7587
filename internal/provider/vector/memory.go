// ABOUTME: In-process vector index using brute-force cosine similarity
// ABOUTME: Suitable for development and tests; contents are lost on restart

package vector

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/2389/workflow-gateway/internal/provider"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Memory is an in-process vector index.
type Memory struct {
	id string

	mu   sync.RWMutex
	dim  int
	docs map[string]provider.Document
}

// NewMemory creates an empty index.
func NewMemory(id string) *Memory {
	return &Memory{id: id, docs: make(map[string]provider.Document)}
}

// ID implements provider.Provider.
func (m *Memory) ID() string { return m.id }

// Upsert implements provider.VectorSearcher.
func (m *Memory) Upsert(_ context.Context, docs []provider.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range docs {
		if len(d.Vector) == 0 {
			return ErrDimensionMismatch
		}
		if m.dim == 0 {
			m.dim = len(d.Vector)
		}
		if len(d.Vector) != m.dim {
			return ErrDimensionMismatch
		}
	}
	for _, d := range docs {
		v := make([]float64, len(d.Vector))
		copy(v, d.Vector)
		m.docs[d.ID] = provider.Document{ID: d.ID, Text: d.Text, Vector: v}
	}
	return nil
}

// Search implements provider.VectorSearcher. Scores are cosine similarity.
func (m *Memory) Search(_ context.Context, vector []float64, k int) ([]provider.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.docs) == 0 || k <= 0 {
		return nil, nil
	}
	if len(vector) != m.dim {
		return nil, ErrDimensionMismatch
	}

	matches := make([]provider.Match, 0, len(m.docs))
	for _, d := range m.docs {
		matches = append(matches, provider.Match{ID: d.ID, Text: d.Text, Score: Cosine(vector, d.Vector)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero.
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ provider.VectorSearcher = (*Memory)(nil)
