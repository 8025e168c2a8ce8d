package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/llm"
	"github.com/billing-agent/backend/internal/metrics"
	"github.com/billing-agent/backend/internal/vector"
	"github.com/billing-agent/backend/pkg/logger"
)

const (
	DefaultTopK      = 4
	DefaultQuoteSize = 20

	noDocuments = "No relevant documents found."
)

// Chunk is a retrieved slice of a source document. It lives only for the
// duration of one query.
type Chunk struct {
	DocID   string  `json:"doc_id"`
	ChunkID int     `json:"chunk_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

type Citation struct {
	DocID   string `json:"doc_id"`
	ChunkID int    `json:"chunk_id"`
	Quote   string `json:"quote"`
}

// Key identifies the chunk a citation or chunk refers to.
type Key struct {
	DocID   string
	ChunkID int
}

func (c Chunk) Key() Key    { return Key{DocID: c.DocID, ChunkID: c.ChunkID} }
func (c Citation) Key() Key { return Key{DocID: c.DocID, ChunkID: c.ChunkID} }

type Retriever struct {
	embedder  llm.Embedder
	index     vector.Index
	namespace string
	topK      int
	quoteSize int
}

type Option func(*Retriever)

func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

func WithQuoteWords(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.quoteSize = n
		}
	}
}

func NewRetriever(embedder llm.Embedder, index vector.Index, namespace string, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:  embedder,
		index:     index,
		namespace: namespace,
		topK:      DefaultTopK,
		quoteSize: DefaultQuoteSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retriever) QuoteWords() int { return r.quoteSize }

// Retrieve embeds query and returns the matching chunks in index order with
// the first match's score. topK <= 0 uses the configured default.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Chunk, float64, error) {
	if topK <= 0 {
		topK = r.topK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := r.index.Query(ctx, r.namespace, vec, topK)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query index: %w", err)
	}

	if len(matches) == 0 {
		logger.Warn("No matches found in vector store", zap.String("namespace", r.namespace))
		return nil, 0, nil
	}

	chunks := make([]Chunk, 0, len(matches))
	for _, m := range matches {
		docID := m.Metadata.DocID
		if docID == "" {
			docID = "unknown"
		}
		chunks = append(chunks, Chunk{
			DocID:   docID,
			ChunkID: m.Metadata.ChunkID,
			Text:    m.Metadata.Text,
			Score:   m.Score,
		})
	}
	top := chunks[0].Score

	metrics.RetrievalTopScore.Observe(top)
	logger.Info("Chunks retrieved",
		zap.Int("count", len(chunks)),
		zap.Float64("top_score", top),
	)
	return chunks, top, nil
}

// FormatContext renders chunks, in order, as the context block handed to the
// completion model.
func FormatContext(chunks []Chunk) string {
	if len(chunks) == 0 {
		return noDocuments
	}

	var b strings.Builder
	b.WriteString("## Retrieved Documents\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "\n\n### Source %d\n", i+1)
		fmt.Fprintf(&b, "- **Document ID**: %s\n", c.DocID)
		fmt.Fprintf(&b, "- **Chunk ID**: %d\n", c.ChunkID)
		fmt.Fprintf(&b, "- **Relevance Score**: %.3f\n\n", c.Score)
		b.WriteString("**Content**:\n")
		b.WriteString(c.Text)
		b.WriteString("\n\n---\n")
	}
	return b.String()
}

func (r *Retriever) CitationsFrom(chunks []Chunk) []Citation {
	return CitationsFrom(chunks, r.quoteSize)
}

// CitationsFrom derives one citation per chunk, quoting the first maxWords
// words of its text.
func CitationsFrom(chunks []Chunk, maxWords int) []Citation {
	if maxWords <= 0 {
		maxWords = DefaultQuoteSize
	}
	out := make([]Citation, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Citation{
			DocID:   c.DocID,
			ChunkID: c.ChunkID,
			Quote:   Quote(c.Text, maxWords),
		})
	}
	return out
}

func Quote(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

// GroundQuote returns quote when it occurs in text, ignoring case and
// whitespace, and a quote of text itself otherwise. Either way the result has
// at most maxWords words.
func GroundQuote(text, quote string, maxWords int) string {
	if maxWords <= 0 {
		maxWords = DefaultQuoteSize
	}
	q := strings.Trim(quote, "\"' \t\n")
	q = strings.TrimSuffix(q, "...")
	if nq := normalize(q); nq != "" && strings.Contains(normalize(text), nq) {
		return Quote(q, maxWords)
	}
	return Quote(text, maxWords)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Keys indexes chunks by their document and chunk ids. The first chunk wins
// when a key repeats.
func Keys(chunks []Chunk) map[Key]Chunk {
	out := make(map[Key]Chunk, len(chunks))
	for _, c := range chunks {
		if _, ok := out[c.Key()]; !ok {
			out[c.Key()] = c
		}
	}
	return out
}
