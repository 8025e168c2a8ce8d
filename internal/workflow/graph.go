package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/agents"
	"github.com/billing-agent/backend/internal/retrieval"
	"github.com/billing-agent/backend/pkg/logger"
	"github.com/billing-agent/backend/pkg/utils"
)

const (
	maxRunSteps = 10

	defaultRejection = "I need more information to answer your question."
	sourceQuoteRunes = 60
	traceReasonRunes = 50
)

func (o *Orchestrator) buildGraph(ctx context.Context) (compose.Runnable[*State, *State], error) {
	g := compose.NewGraph[*State, *State]()

	nodes := []struct {
		key string
		fn  func(context.Context, *State) (*State, error)
	}{
		{NodeRouter, o.routerNode},
		{NodeSales, o.salesNode},
		{NodeBilling, o.billingNode},
		{NodeManager, o.managerNode},
		{NodeFormatter, o.formatNode},
	}
	for _, n := range nodes {
		if err := g.AddLambdaNode(n.key, compose.InvokableLambda(n.fn), compose.WithNodeName(n.key)); err != nil {
			return nil, fmt.Errorf("error adding node %s: %w", n.key, err)
		}
	}

	edges := [][2]string{
		{compose.START, NodeRouter},
		{NodeBilling, NodeManager},
		{NodeManager, NodeFormatter},
		{NodeFormatter, compose.END},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("error adding edge %s -> %s: %w", e[0], e[1], err)
		}
	}

	routerBranch := compose.NewGraphBranch(routeAfterRouter, map[string]bool{
		NodeSales:   true,
		NodeBilling: true,
	})
	if err := g.AddBranch(NodeRouter, routerBranch); err != nil {
		return nil, fmt.Errorf("error adding router branch: %w", err)
	}

	salesBranch := compose.NewGraphBranch(routeAfterSales, map[string]bool{
		NodeBilling: true,
		compose.END: true,
	})
	if err := g.AddBranch(NodeSales, salesBranch); err != nil {
		return nil, fmt.Errorf("error adding sales branch: %w", err)
	}

	runnable, err := g.Compile(ctx, compose.WithMaxRunSteps(maxRunSteps))
	if err != nil {
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}
	logger.Debug("Workflow graph compiled")
	return runnable, nil
}

func routeAfterRouter(_ context.Context, st *State) (string, error) {
	if st.Intent.IsBilling() {
		return NodeBilling, nil
	}
	return NodeSales, nil
}

func routeAfterSales(_ context.Context, st *State) (string, error) {
	if st.Rerouted {
		return NodeBilling, nil
	}
	return compose.END, nil
}

func (o *Orchestrator) routerNode(ctx context.Context, st *State) (*State, error) {
	if st.SessionID != "" {
		entities, session, err := o.memory.ExtractAndUpdate(ctx, st.SessionID, st.Query)
		switch {
		case err != nil:
			logger.Warn("Session update failed, continuing without new context",
				zap.String("session_id", st.SessionID),
				zap.Error(err),
			)
		case session != nil:
			if summary := session.ContextSummary(); summary != "" {
				st.SessionContext = summary
			}
		}
		if entities.HasAny() {
			logger.Debug("Entities extracted", zap.Any("entities", entities))
		}
	}

	intent, err := o.router.Classify(ctx, st.Query)
	if err != nil {
		return st, st.fail(NodeRouter, err)
	}
	st.Intent = intent
	st.trace("Router: classified as " + intent.String())
	return st, nil
}

func (o *Orchestrator) salesNode(ctx context.Context, st *State) (*State, error) {
	reply, err := o.sales.Respond(ctx, st.Query, st.Intent)
	if err != nil {
		return st, st.fail(NodeSales, err)
	}
	st.SalesDraft = reply.Text

	if reply.Reroute {
		st.Rerouted = true
		st.Handoff = agents.HandoffMessage
		st.trace("SalesAgent: routing to BillingAgent")
		return st, nil
	}

	st.FinalResponse = reply.Text
	st.trace("SalesAgent: provided response")
	return st, nil
}

func (o *Orchestrator) billingNode(ctx context.Context, st *State) (*State, error) {
	answer, err := o.billing.Answer(ctx, st.Query, st.SessionContext)
	if err != nil {
		return st, st.fail(NodeBilling, err)
	}
	st.Billing = answer
	st.trace(fmt.Sprintf("BillingAgent: retrieved docs, score=%.3f", answer.TopScore))
	return st, nil
}

func (o *Orchestrator) managerNode(_ context.Context, st *State) (*State, error) {
	review := o.manager.Review(st.Billing)
	st.Review = review

	verdict := "REJECTED"
	if review.Approved {
		verdict = "APPROVED"
	}
	st.trace(fmt.Sprintf("ManagerAgent: %s - %s", verdict, utils.TruncateRunes(review.Reason, traceReasonRunes, "")))
	return st, nil
}

func (o *Orchestrator) formatNode(_ context.Context, st *State) (*State, error) {
	st.FinalResponse, st.Citations = FormatResponse(st.Review)
	st.trace("Formatted final response")
	return st, nil
}

// FormatResponse renders the customer-facing text for a manager review: the
// answer with a numbered source list when approved, otherwise the clarifying
// message.
func FormatResponse(review *agents.Review) (string, []retrieval.Citation) {
	if review == nil || !review.Approved {
		if review != nil && review.ClarifyingMessage != "" {
			return review.ClarifyingMessage, nil
		}
		return defaultRejection, nil
	}

	parts := []string{review.Answer}
	if len(review.Citations) > 0 {
		parts = append(parts, "\n\nSources:")
		for i, c := range review.Citations {
			parts = append(parts, fmt.Sprintf("  [%d] %s: \"%s...\"", i+1, c.DocID, utils.TruncateRunes(c.Quote, sourceQuoteRunes, "")))
		}
	}
	return strings.Join(parts, "\n"), review.Citations
}

func nodeCallbacks() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			if info != nil {
				logger.Debug("Node started", zap.String("node", info.Name), zap.String("component", string(info.Component)))
			}
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			if info != nil {
				logger.Debug("Node finished", zap.String("node", info.Name))
			}
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			name := ""
			if info != nil {
				name = info.Name
			}
			logger.Error("Node failed", zap.String("node", name), zap.Error(err))
			return ctx
		}).
		Build()
}
