package guardrails

import (
	"fmt"
	"strings"
)

var requiredCitationFields = []string{"doc_id", "chunk_id", "quote"}

// ValidateBillingStructure checks a decoded model response for the fields a
// billing answer needs before it is trusted.
func ValidateBillingStructure(raw map[string]any) Result {
	var missing []string
	for _, f := range []string{"answer", "citations"} {
		if _, ok := raw[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Result{
			Reason:  "Missing required fields: " + strings.Join(missing, ", "),
			Details: Details{Check: CheckResponseStructure, MissingFields: missing},
		}
	}

	if _, ok := raw["answer"].(string); !ok {
		return Result{
			Reason:  fmt.Sprintf("Answer must be a string, got %T", raw["answer"]),
			Details: Details{Check: CheckResponseStructure, MissingFields: []string{"answer"}},
		}
	}

	citations, ok := raw["citations"].([]any)
	if !ok {
		return Result{
			Reason:  fmt.Sprintf("Citations must be a list, got %T", raw["citations"]),
			Details: Details{Check: CheckResponseStructure},
		}
	}

	for i, c := range citations {
		idx := i
		entry, ok := c.(map[string]any)
		if !ok {
			return Result{
				Reason:  fmt.Sprintf("Citation %d is not an object", i),
				Details: Details{Check: CheckResponseStructure, CitationIndex: &idx},
			}
		}
		var absent []string
		for _, f := range requiredCitationFields {
			if _, ok := entry[f]; !ok {
				absent = append(absent, f)
			}
		}
		if len(absent) > 0 {
			return Result{
				Reason:  fmt.Sprintf("Citation %d missing fields: %s", i, strings.Join(absent, ", ")),
				Details: Details{Check: CheckResponseStructure, CitationIndex: &idx, MissingFields: absent},
			}
		}
	}

	return Result{Approved: true, Reason: "Response structure is valid."}
}
