package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/billing-agent/backend/internal/ingestion"
)

var (
	ingestNamespace string
	ingestReset     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Chunk, embed and index every .txt, .md and .html file in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := ingestion.LoadDirectory(args[0])
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("no documents found in %s", args[0])
		}

		agent, err := buildAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer agent.Close()

		ns := ingestNamespace
		if ns == "" {
			ns = cfg.Zilliz.CustomerNamespace
		}

		report, err := agent.Processor.Ingest(cmd.Context(), ns, docs, ingestReset)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Ingested %d documents (%d chunks) into %q\n", report.Documents, report.Chunks, report.Namespace)
		for _, d := range docs {
			fmt.Fprintf(w, "  %-30s %d chunks\n", d.DocID, report.PerDoc[d.DocID])
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestNamespace, "namespace", "", "target namespace (default: customer document namespace)")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "delete existing vectors in the namespace first")
	rootCmd.AddCommand(ingestCmd)
}
