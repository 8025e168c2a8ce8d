package workflow

import (
	"github.com/billing-agent/backend/internal/agents"
	"github.com/billing-agent/backend/internal/retrieval"
)

const (
	NodeRouter    = "router"
	NodeSales     = "sales"
	NodeBilling   = "billing"
	NodeManager   = "manager"
	NodeFormatter = "format_response"
)

// State flows through every node of one run. Each node writes only its own
// fields: the router owns SessionContext and Intent, sales owns the Sales*
// fields, billing owns Billing, the manager owns Review, and the formatter
// owns FinalResponse and Citations. Sales also writes FinalResponse when it
// answers directly, since the run ends there.
type State struct {
	Query     string
	SessionID string

	SessionContext string
	Intent         agents.Intent

	SalesDraft string
	Rerouted   bool
	Handoff    string

	Billing *agents.BillingAnswer
	Review  *agents.Review

	FinalResponse string
	Citations     []retrieval.Citation

	Trace []string

	// failure holds the external error that stopped the run, so it survives
	// whatever wrapping the graph runtime applies.
	failure error
}

func (s *State) trace(line string) {
	s.Trace = append(s.Trace, line)
}

func (s *State) fail(stage string, err error) error {
	s.failure = external(stage, err)
	return s.failure
}
