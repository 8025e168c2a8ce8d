package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/guardrails"
	"github.com/billing-agent/backend/internal/llm"
	"github.com/billing-agent/backend/internal/retrieval"
	"github.com/billing-agent/backend/pkg/logger"
)

const (
	billingTemperature = 0.3
	billingMaxTokens   = 1000

	maxFallbackCitations = 3
)

// Variant says how a BillingAnswer was produced.
type Variant string

const (
	// VariantStructured is a model answer that parsed and passed the
	// structure checks, with citations limited to retrieved chunks.
	VariantStructured Variant = "structured"
	// VariantFallback wraps raw model text with citations derived from the
	// retrieved chunks.
	VariantFallback Variant = "fallback"
	// VariantNotFound is the fixed answer for an empty retrieval.
	VariantNotFound Variant = "not_found"
)

type BillingAnswer struct {
	Answer              string               `json:"answer"`
	Citations           []retrieval.Citation `json:"citations"`
	TopScore            float64              `json:"top_score"`
	ConfidenceNote      string               `json:"confidence_note,omitempty"`
	ClarifyingQuestions []string             `json:"clarifying_questions,omitempty"`
	Variant             Variant              `json:"variant"`
	// FallbackReason is set for VariantFallback.
	FallbackReason string `json:"fallback_reason,omitempty"`
}

type chunkRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Chunk, float64, error)
	CitationsFrom(chunks []retrieval.Chunk) []retrieval.Citation
	QuoteWords() int
}

type BillingResponder struct {
	llm       llm.Completer
	retriever chunkRetriever
}

func NewBillingResponder(completer llm.Completer, retriever chunkRetriever) *BillingResponder {
	return &BillingResponder{llm: completer, retriever: retriever}
}

// SearchQuery is the text sent to retrieval: the session context, when
// known, followed by the raw question.
func SearchQuery(query, sessionContext string) string {
	if sessionContext == "" {
		return query
	}
	return sessionContext + " " + query
}

// Answer retrieves evidence for query and asks the model for a cited answer.
// Malformed model output never surfaces as an error; only retrieval and
// completion failures do.
func (b *BillingResponder) Answer(ctx context.Context, query, sessionContext string) (*BillingAnswer, error) {
	chunks, topScore, err := b.retriever.Retrieve(ctx, SearchQuery(query, sessionContext), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve billing documents: %w", err)
	}
	if len(chunks) == 0 {
		return notFound(), nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: billingSystemPrompt},
		{Role: llm.RoleSystem, Content: "## Retrieved Documents:\n" + retrieval.FormatContext(chunks)},
	}
	if sessionContext != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: "## Customer Context:\n" + sessionContext + "\nUse this context to understand which customer/account this query is about.",
		})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	text, err := b.llm.Complete(ctx, messages, billingTemperature, billingMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to generate billing response: %w", err)
	}

	answer, reason := parseStructured(text, chunks, b.retriever.QuoteWords())
	if answer == nil {
		logger.Warn("Billing response reformatted", zap.String("reason", reason))
		answer = b.fallback(text, chunks, reason)
	}
	answer.TopScore = topScore

	logger.Info("Billing answer generated",
		zap.String("variant", string(answer.Variant)),
		zap.Int("citations", len(answer.Citations)),
		zap.Float64("top_score", topScore),
	)
	return answer, nil
}

func notFound() *BillingAnswer {
	return &BillingAnswer{
		Answer:              notFoundAnswer,
		Citations:           []retrieval.Citation{},
		ConfidenceNote:      noDocumentsNote,
		ClarifyingQuestions: append([]string(nil), notFoundQuestions...),
		Variant:             VariantNotFound,
	}
}

func (b *BillingResponder) fallback(text string, chunks []retrieval.Chunk, reason string) *BillingAnswer {
	citations := b.retriever.CitationsFrom(chunks)
	if len(citations) > maxFallbackCitations {
		citations = citations[:maxFallbackCitations]
	}
	return &BillingAnswer{
		Answer:         text,
		Citations:      citations,
		ConfidenceNote: reformattedNote,
		Variant:        VariantFallback,
		FallbackReason: reason,
	}
}

// StripFence removes a surrounding markdown code fence, with or without a
// json language tag.
func StripFence(text string) string {
	t := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(t, "```json"):
		t = t[len("```json"):]
	case strings.HasPrefix(t, "```"):
		t = t[len("```"):]
	}
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// parseStructured returns nil and a reason when text cannot be trusted as a
// structured answer grounded in chunks. Quotes the model did not take from
// its chunk are replaced by the start of that chunk.
func parseStructured(text string, chunks []retrieval.Chunk, quoteWords int) (*BillingAnswer, string) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(StripFence(text)), &raw); err != nil {
		return nil, "invalid JSON: " + err.Error()
	}

	if check := guardrails.ValidateBillingStructure(raw); !check.Approved {
		return nil, check.Reason
	}

	retrieved := retrieval.Keys(chunks)
	var citations []retrieval.Citation
	for _, entry := range raw["citations"].([]any) {
		c, ok := toCitation(entry.(map[string]any))
		if !ok {
			return nil, "malformed citation entry"
		}
		chunk, ok := retrieved[c.Key()]
		if !ok {
			logger.Debug("Dropping citation for chunk that was not retrieved",
				zap.String("doc_id", c.DocID),
				zap.Int("chunk_id", c.ChunkID),
			)
			continue
		}
		c.Quote = retrieval.GroundQuote(chunk.Text, c.Quote, quoteWords)
		citations = append(citations, c)
	}
	if len(citations) == 0 {
		return nil, "no citations refer to retrieved chunks"
	}

	note, _ := raw["confidence_note"].(string)
	return &BillingAnswer{
		Answer:         raw["answer"].(string),
		Citations:      citations,
		ConfidenceNote: note,
		Variant:        VariantStructured,
	}, ""
}

func toCitation(entry map[string]any) (retrieval.Citation, bool) {
	docID, ok := entry["doc_id"].(string)
	if !ok || docID == "" {
		return retrieval.Citation{}, false
	}
	chunkID, ok := parseChunkID(entry["chunk_id"])
	if !ok {
		return retrieval.Citation{}, false
	}
	quote, ok := entry["quote"].(string)
	if !ok {
		return retrieval.Citation{}, false
	}
	return retrieval.Citation{DocID: docID, ChunkID: chunkID, Quote: quote}, true
}

// parseChunkID accepts 3, 3.0, "3" and "chunk 3".
func parseChunkID(v any) (int, bool) {
	switch id := v.(type) {
	case float64:
		if id < 0 || id != math.Trunc(id) {
			return 0, false
		}
		return int(id), true
	case string:
		s := strings.TrimSpace(strings.ToLower(id))
		s = strings.TrimSpace(strings.TrimPrefix(s, "chunk"))
		s = strings.TrimLeft(s, "_#: ")
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
