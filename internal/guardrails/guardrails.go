// Package guardrails holds the deterministic rules that gate agent output
// before it reaches a customer. Nothing here calls an external service.
package guardrails

import (
	"fmt"
	"regexp"

	"github.com/billing-agent/backend/internal/retrieval"
)

const (
	CheckCitationsPresent  = "citations_present"
	CheckConfidence        = "confidence_threshold"
	CheckAmountsVerified   = "amounts_verified"
	CheckSalesAmounts      = "sales_amounts"
	CheckResponseStructure = "response_structure"

	DefaultConfidenceThreshold = 0.40
)

var dollarPattern = regexp.MustCompile(`\$[\d,]+(?:\.\d{2})?`)

// ExtractDollarAmounts returns currency literals in order of appearance.
func ExtractDollarAmounts(text string) []string {
	return dollarPattern.FindAllString(text, -1)
}

// Details records which check ran and the evidence it looked at. Only the
// fields relevant to Check are populated.
type Details struct {
	Check               string   `json:"check,omitempty"`
	Score               float64  `json:"score,omitempty"`
	Threshold           float64  `json:"threshold,omitempty"`
	ClarifyingQuestions []string `json:"clarifying_questions,omitempty"`
	UnverifiedAmounts   []string `json:"unverified_amounts,omitempty"`
	VerifiedAmounts     []string `json:"verified_amounts,omitempty"`
	BlockedAmounts      []string `json:"blocked_amounts,omitempty"`
	MissingFields       []string `json:"missing_fields,omitempty"`
	CitationIndex       *int     `json:"citation_index,omitempty"`
	CitationsCount      int      `json:"citations_count,omitempty"`
	ConfidenceScore     float64  `json:"confidence_score,omitempty"`
	AmountsInAnswer     []string `json:"amounts_in_answer,omitempty"`
}

type Result struct {
	Approved bool    `json:"approved"`
	Reason   string  `json:"reason"`
	Details  Details `json:"details"`
}

type Config struct {
	ConfidenceThreshold      float64
	StrictAmountVerification bool
}

type Validator struct {
	threshold float64
	strict    bool
}

func NewValidator(cfg Config) *Validator {
	return &Validator{
		threshold: cfg.ConfidenceThreshold,
		strict:    cfg.StrictAmountVerification,
	}
}

func (v *Validator) Threshold() float64 { return v.threshold }
func (v *Validator) Strict() bool       { return v.strict }

// Validate runs the manager checks in order and stops at the first failure:
// citations present, confidence at or above threshold, then (strict mode
// only) every amount in the answer quoted by some citation.
func (v *Validator) Validate(answer string, citations []retrieval.Citation, topScore float64) Result {
	if len(citations) == 0 {
		return Result{
			Reason:  "No citations provided. Cannot verify answer without evidence.",
			Details: Details{Check: CheckCitationsPresent},
		}
	}

	if topScore < v.threshold {
		return Result{
			Reason: fmt.Sprintf("Confidence too low (%.2f < %.2f). Please provide more specific information.", topScore, v.threshold),
			Details: Details{
				Check:     CheckConfidence,
				Score:     topScore,
				Threshold: v.threshold,
				ClarifyingQuestions: []string{
					"Can you provide your account number?",
					"Which billing period are you asking about?",
					"Can you provide more details about your question?",
				},
			},
		}
	}

	inAnswer := unique(ExtractDollarAmounts(answer))

	if v.strict && len(inAnswer) > 0 {
		quoted := make(map[string]struct{})
		var verified []string
		for _, c := range citations {
			for _, amt := range ExtractDollarAmounts(c.Quote) {
				if _, seen := quoted[amt]; !seen {
					quoted[amt] = struct{}{}
					verified = append(verified, amt)
				}
			}
		}

		var unverified []string
		for _, amt := range inAnswer {
			if _, ok := quoted[amt]; !ok {
				unverified = append(unverified, amt)
			}
		}
		if len(unverified) > 0 {
			return Result{
				Reason: fmt.Sprintf("Dollar amounts %v in answer not found in source documents.", unverified),
				Details: Details{
					Check:             CheckAmountsVerified,
					UnverifiedAmounts: unverified,
					VerifiedAmounts:   verified,
				},
			}
		}
	}

	return Result{
		Approved: true,
		Reason:   "Response approved. Citations present, confidence sufficient.",
		Details: Details{
			CitationsCount:  len(citations),
			ConfidenceScore: topScore,
			AmountsInAnswer: inAnswer,
		},
	}
}

// CheckSalesResponse blocks a general-purpose reply that quotes currency
// amounts when the query is about the customer's own account.
func CheckSalesResponse(response string, guarded bool) Result {
	amounts := ExtractDollarAmounts(response)
	if guarded && len(amounts) > 0 {
		return Result{
			Reason:  "SalesAgent cannot provide specific billing amounts. Routing to BillingAgent.",
			Details: Details{Check: CheckSalesAmounts, BlockedAmounts: amounts},
		}
	}
	return Result{Approved: true, Reason: "Response is appropriate for SalesAgent."}
}

func unique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
