package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/guardrails"
	"github.com/billing-agent/backend/internal/llm"
	"github.com/billing-agent/backend/pkg/logger"
)

const (
	salesTemperature = 0.7
	salesMaxTokens   = 500
)

// ownAccountMarkers flag a query as being about the caller's own account even
// when the router filed it as general sales.
var ownAccountMarkers = []string{"my bill", "my account", "i owe", "my balance", "my charges"}

type SalesReply struct {
	Text    string
	Reroute bool
	Guard   guardrails.Result
}

type SalesResponder struct {
	llm llm.Completer
}

func NewSalesResponder(completer llm.Completer) *SalesResponder {
	return &SalesResponder{llm: completer}
}

// Respond drafts a general answer and decides whether the query must go to
// billing instead. A rerouted reply must not be shown to the customer.
func (s *SalesResponder) Respond(ctx context.Context, query string, intent Intent) (*SalesReply, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: salesSystemPrompt},
		{Role: llm.RoleUser, Content: query},
	}

	text, err := s.llm.Complete(ctx, messages, salesTemperature, salesMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to generate sales response: %w", err)
	}

	reply := &SalesReply{Text: text}
	if intent == IntentBillingAccountSpecific {
		reply.Reroute = true
		return reply, nil
	}

	reply.Guard = guardrails.CheckSalesResponse(text, isGuarded(query, intent))
	if !reply.Guard.Approved {
		logger.Warn("Sales guardrail triggered",
			zap.String("reason", reply.Guard.Reason),
			zap.Strings("blocked_amounts", reply.Guard.Details.BlockedAmounts),
		)
		reply.Reroute = true
	}
	return reply, nil
}

func isGuarded(query string, intent Intent) bool {
	if intent == IntentBillingAccountSpecific {
		return true
	}
	q := strings.ToLower(query)
	for _, m := range ownAccountMarkers {
		if strings.Contains(q, m) {
			return true
		}
	}
	return false
}
