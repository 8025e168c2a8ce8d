// Package memory is an in-process semantic index used for tests and local
// runs without a Milvus deployment.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/billing-agent/backend/internal/vector"
)

var (
	_ vector.Index     = (*Store)(nil)
	_ vector.Lifecycle = (*Store)(nil)
)

type Store struct {
	mu         sync.RWMutex
	dim        int
	namespaces map[string]map[string]vector.Record
}

// NewStore returns an empty index. A dim of 0 accepts any vector length but
// requires all vectors in a namespace to agree.
func NewStore(dim int) *Store {
	return &Store{
		dim:        dim,
		namespaces: make(map[string]map[string]vector.Record),
	}
}

func (s *Store) EnsureIndex(context.Context) error { return nil }

func (s *Store) Describe(context.Context) (*vector.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &vector.Stats{Name: "memory", Dimension: s.dim, Namespaces: make(map[string]int64, len(s.namespaces))}
	for ns, recs := range s.namespaces {
		stats.Namespaces[ns] = int64(len(recs))
	}
	return stats, nil
}

func (s *Store) Upsert(_ context.Context, namespace string, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]vector.Record)
		s.namespaces[namespace] = ns
	}
	for _, r := range records {
		if s.dim > 0 && len(r.Vector) != s.dim {
			return fmt.Errorf("record %s: vector dimension %d, want %d", r.ID, len(r.Vector), s.dim)
		}
		v := make([]float32, len(r.Vector))
		copy(v, r.Vector)
		r.Vector = v
		ns[r.ID] = r
	}
	return nil
}

func (s *Store) Query(_ context.Context, namespace string, query []float32, topK int) ([]vector.Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaces[namespace]
	matches := make([]vector.Match, 0, len(ns))
	for _, r := range ns {
		matches = append(matches, vector.Match{
			ID:       r.ID,
			Score:    vector.ClampScore(cosine(query, r.Vector)),
			Metadata: r.Metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Store) DeleteAll(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, namespace)
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
