package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billing-agent/backend/internal/agents"
	"github.com/billing-agent/backend/internal/guardrails"
	"github.com/billing-agent/backend/internal/llm"
	"github.com/billing-agent/backend/internal/memory"
	"github.com/billing-agent/backend/internal/retrieval"
	"github.com/billing-agent/backend/internal/storage/models"
	"github.com/billing-agent/backend/internal/storage/sqlite"
	"github.com/billing-agent/backend/internal/vector"
	memvector "github.com/billing-agent/backend/internal/vector/memory"
)

const namespace = "telecom_docs"

var vocabulary = []string{"acc-demo-001", "january", "bill", "plan", "late", "owe", "due", "offer"}

// keywordEmbedder maps text to a presence vector over a small vocabulary.
type keywordEmbedder struct {
	mu     sync.Mutex
	inputs []string
	err    error
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, text)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return keywordVector(text), nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(vocabulary))
	for i, w := range vocabulary {
		if strings.Contains(lower, w) {
			v[i] = 1
		}
	}
	return v
}

// routingCompleter answers each agent by recognizing its system prompt.
type routingCompleter struct {
	mu      sync.Mutex
	label   string
	sales   string
	billing string
	fail    map[string]error
	calls   []string
}

func (c *routingCompleter) Complete(_ context.Context, messages []llm.Message, _ float32, _ int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent := "billing"
	switch system := messages[0].Content; {
	case strings.Contains(system, "query classifier"):
		agent = "router"
	case strings.Contains(system, "customer service representative"):
		agent = "sales"
	}
	c.calls = append(c.calls, agent)
	if err := c.fail[agent]; err != nil {
		return "", err
	}
	switch agent {
	case "router":
		return c.label, nil
	case "sales":
		return c.sales, nil
	default:
		return c.billing, nil
	}
}

type harness struct {
	orch     *Orchestrator
	store    *sqlite.Client
	index    *memvector.Store
	embedder *keywordEmbedder
	llm      *routingCompleter
}

func newHarness(t *testing.T, completer *routingCompleter) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "sessions.db"), models.DefaultMaxHistory)
	require.NoError(t, err)
	require.NoError(t, store.InitSchema(ctx))
	t.Cleanup(func() { _ = store.Close() })

	index := memvector.NewStore(len(vocabulary))
	embedder := &keywordEmbedder{}
	retriever := retrieval.NewRetriever(embedder, index, namespace)

	orch, err := New(ctx, Deps{
		Memory:  memory.NewManager(store, memory.NewExtractor()),
		Router:  agents.NewRouter(completer),
		Sales:   agents.NewSalesResponder(completer),
		Billing: agents.NewBillingResponder(completer, retriever),
		Manager: agents.NewManager(guardrails.NewValidator(guardrails.Config{ConfidenceThreshold: 0.40})),
		Audit:   store,
	})
	require.NoError(t, err)

	return &harness{orch: orch, store: store, index: index, embedder: embedder, llm: completer}
}

func (h *harness) seedInvoice(t *testing.T) {
	t.Helper()
	text := "Invoice ACC-DEMO-001 January 2026. Total bill due: $137.14 by February 15, 2026."
	require.NoError(t, h.index.Upsert(context.Background(), namespace, []vector.Record{{
		ID:       "DOC_1_INVOICE_chunk_0",
		Vector:   keywordVector(text),
		Metadata: vector.Metadata{DocID: "DOC_1_INVOICE", ChunkID: 0, Text: text},
	}}))
}

func TestRunQuery_SalesAnswersDirectly(t *testing.T) {
	h := newHarness(t, &routingCompleter{
		label: "sales_general",
		sales: "We offer Basic, Plus and Unlimited Pro plans. Would you like details on any of them?",
	})

	res, err := h.orch.RunQuery(context.Background(), "What plans do you offer?", "")
	require.NoError(t, err)

	assert.Equal(t, agents.IntentSalesGeneral, res.Intent)
	assert.Nil(t, res.Approved, "manager never ran")
	assert.Contains(t, res.FinalResponse, "Unlimited Pro")
	assert.Empty(t, res.Citations)
	assert.Equal(t, []string{"Router: classified as sales_general", "SalesAgent: provided response"}, res.Trace)
	assert.Equal(t, []string{"router", "sales"}, h.llm.calls)
}

func TestRunQuery_UnknownAccountIsRejectedWithQuestions(t *testing.T) {
	h := newHarness(t, &routingCompleter{label: "billing_account_specific"})

	res, err := h.orch.RunQuery(context.Background(), "How much do I owe?", "s-b")
	require.NoError(t, err)

	require.NotNil(t, res.Approved)
	assert.False(t, *res.Approved)
	assert.Equal(t, agents.IntentBillingAccountSpecific, res.Intent)
	assert.True(t, strings.HasPrefix(res.FinalResponse, "I need a bit more information to answer your question accurately:\n• "))
	assert.Contains(t, res.FinalResponse, "account number or customer ID")
	assert.Empty(t, res.Citations)
	assert.Equal(t, []string{"router"}, h.llm.calls, "empty retrieval must not call the model")

	require.Len(t, res.Trace, 4)
	assert.Equal(t, "BillingAgent: retrieved docs, score=0.000", res.Trace[1])
	assert.True(t, strings.HasPrefix(res.Trace[2], "ManagerAgent: REJECTED - No citations provided."))
	assert.Equal(t, "Formatted final response", res.Trace[3])

	s, err := h.store.GetSession(context.Background(), "s-b")
	require.NoError(t, err)
	require.Len(t, s.History, 2)
	assert.Equal(t, models.RoleUser, s.History[0].Role)
	assert.Equal(t, res.FinalResponse, s.History[1].Content)
	assert.Equal(t, "How much do I owe?", s.LastQuery)

	history, err := h.store.GetQueryHistory(context.Background(), "s-b", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].Approved)
	assert.False(t, *history[0].Approved)
}

func TestRunQuery_SessionAccountGroundsBillingAnswer(t *testing.T) {
	h := newHarness(t, &routingCompleter{
		label:   "billing_account_specific",
		billing: `{"answer":"Your January 2026 bill is $137.14, due February 15, 2026.","citations":[{"doc_id":"DOC_1_INVOICE","chunk_id":0,"quote":"Total bill due: $137.14 by February 15, 2026."}],"confidence_note":"Exact match"}`,
	})
	h.seedInvoice(t)
	ctx := context.Background()

	_, err := h.store.GetOrCreateSession(ctx, "s-c")
	require.NoError(t, err)
	_, err = h.store.UpdateSession(ctx, "s-c", models.SessionUpdate{AccountID: "ACC-DEMO-001"})
	require.NoError(t, err)

	res, err := h.orch.RunQuery(ctx, "What's my January bill?", "s-c")
	require.NoError(t, err)

	require.Len(t, h.embedder.inputs, 1)
	search := h.embedder.inputs[0]
	assert.True(t, strings.HasPrefix(search, "Session Context: Account: ACC-DEMO-001"))
	assert.True(t, strings.HasSuffix(search, " What's my January bill?"))

	require.NotNil(t, res.Approved)
	assert.True(t, *res.Approved)
	assert.GreaterOrEqual(t, res.TopScore, 0.40)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "DOC_1_INVOICE", res.Citations[0].DocID)
	assert.Contains(t, res.FinalResponse, "Your January 2026 bill is $137.14")
	assert.Contains(t, res.FinalResponse, "\n\n\nSources:\n  [1] DOC_1_INVOICE: \"Total bill due: $137.14")

	s, err := h.store.GetSession(ctx, "s-c")
	require.NoError(t, err)
	assert.Equal(t, "ACC-DEMO-001", s.AccountID)
	assert.Equal(t, "January bill", s.BillingPeriod)
	assert.Equal(t, "billing", s.CurrentTopic)
}

func TestRunQuery_SalesLeakReroutesToBilling(t *testing.T) {
	h := newHarness(t, &routingCompleter{
		label: "sales_general",
		sales: "Your balance is $137.14.",
	})

	res, err := h.orch.RunQuery(context.Background(), "Can you check my balance?", "")
	require.NoError(t, err)

	assert.Contains(t, res.Trace, "SalesAgent: routing to BillingAgent")
	assert.Equal(t, agents.HandoffMessage, res.Handoff)
	assert.NotContains(t, res.FinalResponse, "$137.14")
	require.NotNil(t, res.Approved)
	assert.False(t, *res.Approved)
}

func TestRunQuery_ExternalFailureIsNotARejection(t *testing.T) {
	h := newHarness(t, &routingCompleter{fail: map[string]error{"router": errors.New("429 too many requests")}})

	res, err := h.orch.RunQuery(context.Background(), "What's my bill?", "s-e")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalService)

	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, NodeRouter, qerr.Stage)
}

func TestRunQuery_IndexFailureReportsBillingStage(t *testing.T) {
	h := newHarness(t, &routingCompleter{label: "billing_general"})
	h.embedder.err = errors.New("embedding quota exceeded")

	_, err := h.orch.RunQuery(context.Background(), "How does proration work?", "")
	require.Error(t, err)
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, NodeBilling, qerr.Stage)
	assert.ErrorContains(t, err, "embedding quota exceeded")
}

func TestRunQuery_EmptyQuery(t *testing.T) {
	h := newHarness(t, &routingCompleter{})
	_, err := h.orch.RunQuery(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestRunQuery_ConcurrentSameSessionKeepsHistoryBound(t *testing.T) {
	h := newHarness(t, &routingCompleter{label: "sales_general", sales: "Happy to help."})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.RunQuery(ctx, "What plans do you offer?", "shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := h.store.GetSession(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, s.History, models.DefaultMaxHistory)
}

func TestFormatResponse(t *testing.T) {
	msg, cits := FormatResponse(nil)
	assert.Equal(t, "I need more information to answer your question.", msg)
	assert.Nil(t, cits)

	long := strings.Repeat("a", 80)
	msg, cits = FormatResponse(&agents.Review{
		Approved:  true,
		Answer:    "Answer.",
		Citations: []retrieval.Citation{{DocID: "D1", ChunkID: 0, Quote: long}, {DocID: "D2", ChunkID: 3, Quote: "short"}},
	})
	assert.Len(t, cits, 2)
	assert.Equal(t, "Answer.\n\n\nSources:\n  [1] D1: \""+strings.Repeat("a", 60)+"...\"\n  [2] D2: \"short...\"", msg)
}
