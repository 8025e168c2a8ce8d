// Package workflow runs one customer query through the agent graph and keeps
// the session and audit bookkeeping around it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/agents"
	"github.com/billing-agent/backend/internal/memory"
	"github.com/billing-agent/backend/internal/metrics"
	"github.com/billing-agent/backend/internal/retrieval"
	"github.com/billing-agent/backend/internal/storage/models"
	"github.com/billing-agent/backend/pkg/logger"
	"github.com/billing-agent/backend/pkg/utils"
)

const lastResponseRunes = 500

// AuditLog receives one record per completed run.
type AuditLog interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
}

type Deps struct {
	Memory  *memory.Manager
	Router  *agents.Router
	Sales   *agents.SalesResponder
	Billing *agents.BillingResponder
	Manager *agents.Manager
	// Audit is optional.
	Audit AuditLog
}

type Orchestrator struct {
	memory  *memory.Manager
	router  *agents.Router
	sales   *agents.SalesResponder
	billing *agents.BillingResponder
	manager *agents.Manager
	audit   AuditLog

	runnable compose.Runnable[*State, *State]
}

// Result is what a caller sees for one query. Approved is nil when the
// manager never ran.
type Result struct {
	ID            string               `json:"id"`
	SessionID     string               `json:"session_id,omitempty"`
	FinalResponse string               `json:"final_response"`
	Citations     []retrieval.Citation `json:"citations"`
	Trace         []string             `json:"trace"`
	Approved      *bool                `json:"approved"`
	Intent        agents.Intent        `json:"intent"`
	TopScore      float64              `json:"top_score"`
	Handoff       string               `json:"handoff,omitempty"`
	LatencyMS     int64                `json:"latency_ms"`
}

func New(ctx context.Context, deps Deps) (*Orchestrator, error) {
	if deps.Memory == nil || deps.Router == nil || deps.Sales == nil || deps.Billing == nil || deps.Manager == nil {
		return nil, errors.New("workflow dependencies are not fully initialized")
	}
	o := &Orchestrator{
		memory:  deps.Memory,
		router:  deps.Router,
		sales:   deps.Sales,
		billing: deps.Billing,
		manager: deps.Manager,
		audit:   deps.Audit,
	}

	runnable, err := o.buildGraph(ctx)
	if err != nil {
		return nil, err
	}
	o.runnable = runnable
	return o, nil
}

func (o *Orchestrator) Sessions() memory.Store { return o.memory.Store() }

// RunQuery answers query, remembering the exchange under sessionID when one
// is given. External service failures come back as a *QueryError wrapping
// ErrExternalService; a rejected billing answer is a normal Result.
func (o *Orchestrator) RunQuery(ctx context.Context, query, sessionID string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	queryID := uuid.New().String()
	logger.Info("Processing query",
		zap.String("query_id", queryID),
		zap.String("session_id", sessionID),
		zap.String("query", utils.TruncateRunes(query, 100, "...")),
	)

	st := &State{Query: query, SessionID: sessionID}
	if sessionID != "" {
		sessionCtx, err := o.openSession(ctx, sessionID, query)
		if err != nil {
			return nil, err
		}
		st.SessionContext = sessionCtx
	}

	out, err := o.runnable.Invoke(ctx, st, compose.WithCallbacks(nodeCallbacks()))
	if err != nil {
		metrics.QueryTotal.WithLabelValues(string(st.Intent), "error").Inc()
		var qerr *QueryError
		if errors.As(err, &qerr) {
			return nil, qerr
		}
		if st.failure != nil {
			return nil, st.failure
		}
		return nil, fmt.Errorf("failed to run workflow: %w", err)
	}
	if out == nil {
		out = st
	}
	if out.FinalResponse == "" {
		metrics.QueryTotal.WithLabelValues(string(out.Intent), "error").Inc()
		return nil, errors.New("workflow finished without a response")
	}

	result := &Result{
		ID:            queryID,
		SessionID:     sessionID,
		FinalResponse: out.FinalResponse,
		Citations:     out.Citations,
		Trace:         out.Trace,
		Intent:        out.Intent,
		Handoff:       out.Handoff,
	}
	if result.Citations == nil {
		result.Citations = []retrieval.Citation{}
	}
	if out.Billing != nil {
		result.TopScore = out.Billing.TopScore
	}
	if out.Review != nil {
		approved := out.Review.Approved
		result.Approved = &approved
	}
	result.LatencyMS = time.Since(start).Milliseconds()

	if sessionID != "" {
		o.closeSession(ctx, sessionID, query, result.FinalResponse)
	}
	o.record(ctx, query, result)

	metrics.QueryTotal.WithLabelValues(string(result.Intent), outcome(result)).Inc()
	metrics.QueryDuration.WithLabelValues(string(result.Intent)).Observe(time.Since(start).Seconds())
	logger.Info("Query processed",
		zap.String("query_id", queryID),
		zap.String("intent", string(result.Intent)),
		zap.String("outcome", outcome(result)),
		zap.Int64("latency_ms", result.LatencyMS),
	)
	return result, nil
}

func (o *Orchestrator) openSession(ctx context.Context, sessionID, query string) (string, error) {
	store := o.memory.Store()
	if _, err := store.GetOrCreateSession(ctx, sessionID); err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	s, err := store.AppendTurn(ctx, sessionID, models.RoleUser, query)
	if err != nil {
		return "", fmt.Errorf("failed to record user turn: %w", err)
	}
	return s.ContextSummary(), nil
}

// closeSession writes the assistant turn. A failure here is logged and does
// not undo an answer the customer is about to receive.
func (o *Orchestrator) closeSession(ctx context.Context, sessionID, query, response string) {
	store := o.memory.Store()
	s, err := store.AppendTurn(ctx, sessionID, models.RoleAssistant, response)
	if err != nil {
		logger.Warn("Failed to record assistant turn", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if s == nil {
		logger.Warn("Session vanished during query", zap.String("session_id", sessionID))
		return
	}
	if _, err := store.UpdateSession(ctx, sessionID, models.SessionUpdate{
		LastQuery:    query,
		LastResponse: utils.TruncateRunes(response, lastResponseRunes, ""),
	}); err != nil {
		logger.Warn("Failed to update last exchange", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, query string, r *Result) {
	if o.audit == nil {
		return
	}
	sources := make([]models.QuerySource, 0, len(r.Citations))
	for _, c := range r.Citations {
		sources = append(sources, models.QuerySource{QueryID: r.ID, DocID: c.DocID, ChunkID: c.ChunkID, Quote: c.Quote})
	}
	err := o.audit.InsertQueryRecord(ctx, &models.QueryRecord{
		ID:        r.ID,
		SessionID: r.SessionID,
		QueryText: query,
		Intent:    string(r.Intent),
		Response:  r.FinalResponse,
		Approved:  r.Approved,
		TopScore:  r.TopScore,
		LatencyMS: r.LatencyMS,
		CreatedAt: time.Now(),
		Sources:   sources,
	})
	if err != nil {
		logger.Warn("Failed to record query", zap.String("query_id", r.ID), zap.Error(err))
	}
}

func outcome(r *Result) string {
	switch {
	case r.Approved == nil:
		return "answered"
	case *r.Approved:
		return "approved"
	default:
		return "rejected"
	}
}
