package guardrails

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billing-agent/backend/internal/retrieval"
)

func cite(doc string, chunk int, quote string) retrieval.Citation {
	return retrieval.Citation{DocID: doc, ChunkID: chunk, Quote: quote}
}

func TestExtractDollarAmounts(t *testing.T) {
	assert.Equal(t, []string{"$137.14", "$5", "$1,200.00"},
		ExtractDollarAmounts("Your bill is $137.14 plus a $5 fee; annual total $1,200.00."))
	assert.Empty(t, ExtractDollarAmounts("no money here"))
}

func TestValidate_CitationsCheckedBeforeConfidence(t *testing.T) {
	v := NewValidator(Config{ConfidenceThreshold: 0.40})

	res := v.Validate("You owe $50.", nil, 0.1)
	assert.False(t, res.Approved)
	assert.Equal(t, CheckCitationsPresent, res.Details.Check)
}

func TestValidate_ConfidenceBelowThreshold(t *testing.T) {
	v := NewValidator(Config{ConfidenceThreshold: 0.40})

	res := v.Validate("answer", []retrieval.Citation{cite("DOC_1", 0, "q")}, 0.25)
	assert.False(t, res.Approved)
	assert.Equal(t, CheckConfidence, res.Details.Check)
	assert.Contains(t, res.Reason, "0.25")
	assert.Contains(t, res.Reason, "0.40")
	assert.Len(t, res.Details.ClarifyingQuestions, 3)
}

func TestValidate_ThresholdIsInclusive(t *testing.T) {
	v := NewValidator(Config{ConfidenceThreshold: 0.40})
	res := v.Validate("answer", []retrieval.Citation{cite("DOC_1", 0, "q")}, 0.40)
	assert.True(t, res.Approved)
}

func TestValidate_StrictModeOffIgnoresAmounts(t *testing.T) {
	v := NewValidator(Config{ConfidenceThreshold: 0.40})

	res := v.Validate("Your bill is $99.99 and $99.99.", []retrieval.Citation{cite("DOC_4", 1, "Total due")}, 0.8)
	require.True(t, res.Approved)
	assert.Equal(t, 1, res.Details.CitationsCount)
	assert.Equal(t, 0.8, res.Details.ConfidenceScore)
	assert.Equal(t, []string{"$99.99"}, res.Details.AmountsInAnswer)
}

func TestValidate_StrictModeRejectsUnquotedAmounts(t *testing.T) {
	v := NewValidator(Config{ConfidenceThreshold: 0.40, StrictAmountVerification: true})

	res := v.Validate("Your bill is $89.99 with a $5.00 late fee.",
		[]retrieval.Citation{cite("DOC_4", 1, "Total amount due: $89.99")}, 0.9)
	assert.False(t, res.Approved)
	assert.Equal(t, CheckAmountsVerified, res.Details.Check)
	assert.Equal(t, []string{"$5.00"}, res.Details.UnverifiedAmounts)
	assert.Equal(t, []string{"$89.99"}, res.Details.VerifiedAmounts)
}

func TestValidate_StrictModeApprovesQuotedAmounts(t *testing.T) {
	v := NewValidator(Config{ConfidenceThreshold: 0.40, StrictAmountVerification: true})

	res := v.Validate("Your bill is $89.99.",
		[]retrieval.Citation{cite("DOC_4", 1, "Total amount due: $89.99")}, 0.9)
	assert.True(t, res.Approved)
}

func TestCheckSalesResponse(t *testing.T) {
	blocked := CheckSalesResponse("Your bill is $137.14.", true)
	assert.False(t, blocked.Approved)
	assert.Equal(t, []string{"$137.14"}, blocked.Details.BlockedAmounts)

	assert.True(t, CheckSalesResponse("The Pro plan is $49.99/month.", false).Approved)
	assert.True(t, CheckSalesResponse("Let me connect you with billing.", true).Approved)
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestValidateBillingStructure(t *testing.T) {
	ok := ValidateBillingStructure(decode(t, `{"answer":"a","citations":[{"doc_id":"D","chunk_id":"1","quote":"q"}]}`))
	assert.True(t, ok.Approved)

	missing := ValidateBillingStructure(decode(t, `{"answer":"a"}`))
	assert.False(t, missing.Approved)
	assert.Equal(t, []string{"citations"}, missing.Details.MissingFields)

	notList := ValidateBillingStructure(decode(t, `{"answer":"a","citations":"DOC_1"}`))
	assert.False(t, notList.Approved)

	badCite := ValidateBillingStructure(decode(t, `{"answer":"a","citations":[{"doc_id":"D","quote":"q"}]}`))
	assert.False(t, badCite.Approved)
	require.NotNil(t, badCite.Details.CitationIndex)
	assert.Equal(t, 0, *badCite.Details.CitationIndex)
	assert.Equal(t, []string{"chunk_id"}, badCite.Details.MissingFields)
}
