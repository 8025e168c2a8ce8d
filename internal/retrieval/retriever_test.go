package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billing-agent/backend/internal/vector"
	"github.com/billing-agent/backend/internal/vector/memory"
)

type staticEmbedder struct {
	vec   []float32
	err   error
	texts []string
}

func (s *staticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.texts = append(s.texts, text)
	return s.vec, s.err
}

func (s *staticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func seededIndex(t *testing.T) *memory.Store {
	t.Helper()
	idx := memory.NewStore(2)
	require.NoError(t, idx.Upsert(context.Background(), "telecom_docs", []vector.Record{
		{ID: "inv_chunk_0", Vector: []float32{1, 0}, Metadata: vector.Metadata{DocID: "DOC_4_INVOICE", ChunkID: 0, Text: "Total amount due: $89.99 for January 2026."}},
		{ID: "inv_chunk_1", Vector: []float32{0.6, 0.8}, Metadata: vector.Metadata{DocID: "DOC_4_INVOICE", ChunkID: 1, Text: "Payment due by February 15."}},
	}))
	return idx
}

func TestRetrieve_OrderedWithTopScore(t *testing.T) {
	emb := &staticEmbedder{vec: []float32{1, 0}}
	r := NewRetriever(emb, seededIndex(t), "telecom_docs")

	chunks, top, err := r.Retrieve(context.Background(), "January bill", 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "DOC_4_INVOICE", chunks[0].DocID)
	assert.Equal(t, 0, chunks[0].ChunkID)
	assert.InDelta(t, 1.0, top, 1e-9)
	assert.Equal(t, top, chunks[0].Score)
	assert.GreaterOrEqual(t, chunks[0].Score, chunks[1].Score)
	assert.Equal(t, []string{"January bill"}, emb.texts)
}

func TestRetrieve_EmptyNamespace(t *testing.T) {
	r := NewRetriever(&staticEmbedder{vec: []float32{1, 0}}, memory.NewStore(2), "telecom_docs")

	chunks, top, err := r.Retrieve(context.Background(), "How much do I owe?", 4)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Zero(t, top)
}

func TestRetrieve_EmbedFailurePropagates(t *testing.T) {
	boom := errors.New("embedding service unavailable")
	r := NewRetriever(&staticEmbedder{err: boom}, seededIndex(t), "telecom_docs")

	_, _, err := r.Retrieve(context.Background(), "bill", 4)
	assert.ErrorIs(t, err, boom)
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "No relevant documents found.", FormatContext(nil))

	out := FormatContext([]Chunk{
		{DocID: "DOC_4_INVOICE", ChunkID: 2, Text: "Late fee: $5.00", Score: 0.8123},
		{DocID: "DOC_1_FAQ", ChunkID: 0, Text: "Bills are issued monthly.", Score: 0.5},
	})
	assert.True(t, strings.HasPrefix(out, "## Retrieved Documents\n"))
	assert.Contains(t, out, "### Source 1\n- **Document ID**: DOC_4_INVOICE\n- **Chunk ID**: 2\n- **Relevance Score**: 0.812\n\n**Content**:\nLate fee: $5.00\n\n---\n")
	assert.Less(t, strings.Index(out, "DOC_4_INVOICE"), strings.Index(out, "DOC_1_FAQ"))
	assert.Equal(t, out, FormatContext([]Chunk{
		{DocID: "DOC_4_INVOICE", ChunkID: 2, Text: "Late fee: $5.00", Score: 0.8123},
		{DocID: "DOC_1_FAQ", ChunkID: 0, Text: "Bills are issued monthly.", Score: 0.5},
	}))
}

func TestCitationsFrom_QuotesFirstWords(t *testing.T) {
	long := strings.Repeat("word ", 25)
	cites := CitationsFrom([]Chunk{
		{DocID: "a", ChunkID: 1, Text: long},
		{DocID: "b", ChunkID: 0, Text: "short   text"},
	}, 20)

	require.Len(t, cites, 2)
	assert.Len(t, strings.Fields(strings.TrimSuffix(cites[0].Quote, "...")), 20)
	assert.True(t, strings.HasSuffix(cites[0].Quote, "..."))
	assert.Equal(t, "short text", cites[1].Quote)
	assert.Equal(t, Key{DocID: "a", ChunkID: 1}, cites[0].Key())
}

func TestGroundQuote(t *testing.T) {
	text := "Invoice for ACC-DEMO-001, January 2026. Total due: $137.14 by February 15, 2026."

	assert.Equal(t, "Total due: $137.14", GroundQuote(text, "Total due: $137.14", DefaultQuoteSize))
	assert.Equal(t, "total due: $137.14", GroundQuote(text, `"total   due: $137.14..."`, DefaultQuoteSize),
		"case and spacing differences still count as quoted")
	assert.Equal(t, text, GroundQuote(text, "Total due: $999.00", DefaultQuoteSize))
	assert.Equal(t, text, GroundQuote(text, "   ", DefaultQuoteSize))
	assert.Equal(t, "Invoice for ACC-DEMO-001,...", GroundQuote(text, "made up", 3))

	long := strings.Repeat("word ", 30)
	got := GroundQuote(long, long, 0)
	assert.Len(t, strings.Fields(got), DefaultQuoteSize)
	assert.True(t, strings.HasSuffix(got, "..."))
}
