package agents

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/guardrails"
	"github.com/billing-agent/backend/internal/metrics"
	"github.com/billing-agent/backend/internal/retrieval"
	"github.com/billing-agent/backend/pkg/logger"
)

const clarifyingHeader = "I need a bit more information to answer your question accurately:\n"

// Review is the manager's verdict on one billing answer.
type Review struct {
	Approved            bool                 `json:"approved"`
	Reason              string               `json:"reason"`
	Details             guardrails.Details   `json:"details"`
	Answer              string               `json:"answer,omitempty"`
	Citations           []retrieval.Citation `json:"citations,omitempty"`
	Confidence          float64              `json:"confidence"`
	ClarifyingQuestions []string             `json:"clarifying_questions,omitempty"`
	ClarifyingMessage   string               `json:"clarifying_message,omitempty"`
}

// Manager applies the deterministic guardrail checks to billing answers. It
// never calls a model.
type Manager struct {
	validator *guardrails.Validator
}

func NewManager(validator *guardrails.Validator) *Manager {
	return &Manager{validator: validator}
}

func (m *Manager) Review(answer *BillingAnswer) *Review {
	if answer == nil {
		answer = &BillingAnswer{}
	}
	result := m.validator.Validate(answer.Answer, answer.Citations, answer.TopScore)

	if result.Approved {
		logger.Info("Billing answer approved",
			zap.Int("citations", len(answer.Citations)),
			zap.Float64("top_score", answer.TopScore),
		)
		return &Review{
			Approved:   true,
			Reason:     result.Reason,
			Details:    result.Details,
			Answer:     answer.Answer,
			Citations:  answer.Citations,
			Confidence: answer.TopScore,
		}
	}

	metrics.ValidationRejections.WithLabelValues(result.Details.Check).Inc()
	questions := ClarifyingQuestions(result.Details)
	logger.Info("Billing answer rejected",
		zap.String("check", result.Details.Check),
		zap.String("reason", result.Reason),
	)
	return &Review{
		Reason:              result.Reason,
		Details:             result.Details,
		Confidence:          answer.TopScore,
		ClarifyingQuestions: questions,
		ClarifyingMessage:   ClarifyingMessage(questions),
	}
}

// ClarifyingQuestions maps a failed check to the questions put back to the
// customer.
func ClarifyingQuestions(d guardrails.Details) []string {
	switch d.Check {
	case guardrails.CheckCitationsPresent:
		return []string{
			"Can you provide your account number or customer ID?",
			"What specific billing period are you asking about?",
			"Can you provide more details about your question?",
		}
	case guardrails.CheckConfidence:
		if len(d.ClarifyingQuestions) > 0 {
			return append([]string(nil), d.ClarifyingQuestions...)
		}
		return []string{
			"Can you be more specific about what you're looking for?",
			"Which billing period or invoice are you asking about?",
			"Can you provide your account details?",
		}
	case guardrails.CheckAmountsVerified:
		return []string{
			fmt.Sprintf("I found amounts %v in the answer but couldn't verify them.", d.UnverifiedAmounts),
			"Can you confirm which charges you're asking about?",
			"Which specific invoice or bill are you referring to?",
		}
	default:
		return []string{
			"Can you provide more details about your question?",
			"What specific information are you looking for?",
		}
	}
}

func ClarifyingMessage(questions []string) string {
	lines := make([]string, len(questions))
	for i, q := range questions {
		lines[i] = "• " + q
	}
	return clarifyingHeader + strings.Join(lines, "\n")
}
