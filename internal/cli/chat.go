package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/billing-agent/backend/internal/memory"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive session that remembers context between questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := buildAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer agent.Close()

		id := chatSession
		if id == "" {
			id = newChatSessionID()
		}
		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), agent.Orchestrator, agent.Orchestrator.Sessions(), id)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "resume an existing session id")
	rootCmd.AddCommand(chatCmd)
}

func newChatSessionID() string {
	return "interactive_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// runChat reads one question per line until exit, quit, q or EOF. "session"
// prints the remembered context instead of asking.
func runChat(ctx context.Context, in io.Reader, w io.Writer, runner queryRunner, sessions memory.Store, sessionID string) error {
	fmt.Fprintf(w, "\nINTERACTIVE MODE\nSession ID: %s\n", sessionID)
	fmt.Fprintln(w, "\nThis session will remember context between queries!")
	fmt.Fprintln(w, "Tip: Start with 'My account is ACC-789456123' or just ask about your bill.")
	fmt.Fprintln(w, "Type 'exit' or 'quit' to stop.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(w, "\nYou: ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "exit", "quit", "q":
			writeSessionSummary(ctx, w, sessions, sessionID)
			fmt.Fprintln(w, "\nGoodbye!")
			return nil
		case "session":
			writeSessionContext(ctx, w, sessions, sessionID)
			continue
		}

		if _, err := ask(ctx, w, runner, line, sessionID); err != nil {
			fmt.Fprintf(w, "\n[ERROR] %v\n", err)
		}
	}
	return scanner.Err()
}

func writeSessionContext(ctx context.Context, w io.Writer, sessions memory.Store, id string) {
	s, err := sessions.GetSession(ctx, id)
	if err != nil {
		fmt.Fprintf(w, "\n[ERROR] %v\n", err)
		return
	}
	summary := s.ContextSummary()
	if summary == "" {
		summary = "No context yet"
	}
	fmt.Fprintf(w, "\nCurrent Session:\n  %s\n", summary)
}

func writeSessionSummary(ctx context.Context, w io.Writer, sessions memory.Store, id string) {
	s, err := sessions.GetSession(ctx, id)
	if err != nil || s == nil || (s.AccountID == "" && s.CustomerName == "") {
		return
	}
	fmt.Fprintln(w, "\nSession Summary:")
	if s.AccountID != "" {
		fmt.Fprintf(w, "  Account: %s\n", s.AccountID)
	}
	if s.CustomerName != "" {
		fmt.Fprintf(w, "  Name: %s\n", s.CustomerName)
	}
	// History is bounded, so this undercounts long sessions.
	fmt.Fprintf(w, "  Queries: %d\n", len(s.History)/2)
}
