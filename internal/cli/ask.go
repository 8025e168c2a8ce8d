package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the billing assistant one question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := buildAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer agent.Close()

		_, err = ask(cmd.Context(), cmd.OutOrStdout(), agent.Orchestrator, strings.Join(args, " "), askSession)
		return err
	},
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "session id to remember context across calls")
	rootCmd.AddCommand(askCmd)
}
