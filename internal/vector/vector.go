// Package vector defines the semantic index contract shared by the Milvus
// and in-process backends.
package vector

import "context"

type Metadata struct {
	DocID   string `json:"doc_id"`
	ChunkID int    `json:"chunk_id"`
	Text    string `json:"text"`
	Source  string `json:"source,omitempty"`
}

type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is one ranked search hit. Score is a similarity in [0,1].
type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

type Stats struct {
	Name       string
	Dimension  int
	Namespaces map[string]int64
}

// Index is a namespaced vector similarity store. Query returns matches in
// descending score order.
type Index interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	DeleteAll(ctx context.Context, namespace string) error
}

// Lifecycle covers index creation and inspection for tooling.
type Lifecycle interface {
	EnsureIndex(ctx context.Context) error
	Describe(ctx context.Context) (*Stats, error)
}

func ClampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
