// Package agents holds the model-backed responders (router, sales, billing)
// and the rule-based manager that gates billing answers.
package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/llm"
	"github.com/billing-agent/backend/pkg/logger"
	"github.com/billing-agent/backend/pkg/utils"
)

type Intent string

const (
	IntentBillingAccountSpecific Intent = "billing_account_specific"
	IntentBillingGeneral         Intent = "billing_general"
	IntentSalesGeneral           Intent = "sales_general"
)

func (i Intent) IsBilling() bool {
	return i == IntentBillingAccountSpecific || i == IntentBillingGeneral
}

func (i Intent) String() string { return string(i) }

// ParseIntent maps a free-form model label onto an Intent. Anything it does
// not recognize becomes IntentSalesGeneral.
func ParseIntent(label string) Intent {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.Contains(l, string(IntentBillingAccountSpecific)):
		return IntentBillingAccountSpecific
	case strings.Contains(l, string(IntentBillingGeneral)):
		return IntentBillingGeneral
	default:
		return IntentSalesGeneral
	}
}

const (
	classifyTemperature = 0
	classifyMaxTokens   = 50
)

type Router struct {
	llm llm.Completer
}

func NewRouter(completer llm.Completer) *Router {
	return &Router{llm: completer}
}

func (r *Router) Classify(ctx context.Context, query string) (Intent, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: classifierSystemPrompt},
		{Role: llm.RoleUser, Content: classificationPrompt(query)},
	}

	label, err := r.llm.Complete(ctx, messages, classifyTemperature, classifyMaxTokens)
	if err != nil {
		return "", fmt.Errorf("failed to classify query: %w", err)
	}

	intent := ParseIntent(label)
	logger.Debug("Query classified",
		zap.String("query", utils.TruncateRunes(query, 50, "...")),
		zap.String("label", label),
		zap.String("intent", intent.String()),
	)
	return intent, nil
}
