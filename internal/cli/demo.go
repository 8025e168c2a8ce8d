package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/billing-agent/backend/internal/workflow"
	"github.com/billing-agent/backend/pkg/utils"
)

var demoQueries = []string{
	"How much is my bill for January 2026?",
	"Why is my bill higher this month?",
	"What is the due date and what happens if I pay late?",
}

var demoPause bool

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the three demo queries and print a summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := buildAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer agent.Close()

		var pause io.Reader
		if demoPause {
			pause = cmd.InOrStdin()
		}
		return runDemo(cmd.Context(), cmd.OutOrStdout(), pause, agent.Orchestrator)
	},
}

func init() {
	demoCmd.Flags().BoolVar(&demoPause, "pause", false, "wait for Enter between queries")
	rootCmd.AddCommand(demoCmd)
}

// runDemo keeps going when one query fails so the summary covers all three.
// A nil pause reader runs without stopping.
func runDemo(ctx context.Context, w io.Writer, pause io.Reader, runner queryRunner) error {
	fmt.Fprintf(w, "\nDEMO MODE - Running %d Demo Queries\n%s\n", len(demoQueries), strings.Repeat("=", 60))

	var in *bufio.Reader
	if pause != nil {
		in = bufio.NewReader(pause)
	}

	results := make([]*workflow.Result, len(demoQueries))
	failed := 0
	for i, q := range demoQueries {
		fmt.Fprintf(w, "\n%s\nDemo Query %d/%d:\n%s\n", rule, i+1, len(demoQueries), rule)

		r, err := ask(ctx, w, runner, q, "")
		if err != nil {
			fmt.Fprintf(w, "\n[ERROR] %v\n", err)
			failed++
		}
		results[i] = r

		if in != nil && i < len(demoQueries)-1 {
			fmt.Fprint(w, "\n[Press Enter for next query...]")
			_, _ = in.ReadString('\n')
		}
	}

	writeDemoSummary(w, demoQueries, results)
	if failed == len(demoQueries) {
		return fmt.Errorf("all %d demo queries failed", failed)
	}
	return nil
}

func writeDemoSummary(w io.Writer, queries []string, results []*workflow.Result) {
	fmt.Fprintf(w, "\n%s\nDEMO SUMMARY\n%s\n", strings.Repeat("=", 60), strings.Repeat("=", 60))
	for i, q := range queries {
		fmt.Fprintf(w, "\n%d. %q\n", i+1, utils.TruncateRunes(q, 40, "..."))
		r := results[i]
		if r == nil {
			fmt.Fprintln(w, "   Status: [ERROR]")
			continue
		}
		trace := r.Trace
		if len(trace) > 3 {
			trace = trace[:3]
		}
		fmt.Fprintf(w, "   Status: %s | Citations: %d\n", status(r.Approved), len(r.Citations))
		fmt.Fprintf(w, "   Trace: %s\n", strings.Join(trace, " -> "))
	}
}
