package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/billing-agent/backend/internal/workflow"
)

type queryRunner interface {
	RunQuery(ctx context.Context, query, sessionID string) (*workflow.Result, error)
}

const rule = "------------------------------------------------------------"

// status renders the approval flag: [OK] approved, [X] rejected and [?] when
// the manager never reviewed the answer.
func status(approved *bool) string {
	switch {
	case approved == nil:
		return "[?]"
	case *approved:
		return "[OK]"
	default:
		return "[X]"
	}
}

func printResult(w io.Writer, r *workflow.Result) {
	fmt.Fprintf(w, "\nAgent path: %s\n", strings.Join(r.Trace, " -> "))
	if r.Handoff != "" {
		fmt.Fprintf(w, "\n%s\n", r.Handoff)
	}
	fmt.Fprintf(w, "\nAnswer:\n%s\n", r.FinalResponse)
	fmt.Fprintf(w, "\nStatus: %s | Intent: %s | Citations: %d | %dms\n",
		status(r.Approved), r.Intent, len(r.Citations), r.LatencyMS)
}

func ask(ctx context.Context, w io.Writer, runner queryRunner, query, sessionID string) (*workflow.Result, error) {
	fmt.Fprintf(w, "\nYour Question:\n   %q\n", query)
	r, err := runner.RunQuery(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	printResult(w, r)
	return r, nil
}
