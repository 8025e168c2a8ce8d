package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/billing-agent/backend/internal/memory"
	"github.com/billing-agent/backend/internal/storage/sqlite"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and delete stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List session ids",
	RunE: withSessionStore(func(ctx context.Context, w io.Writer, store memory.Store, _ []string) error {
		return listSessions(ctx, w, store)
	}),
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's context and recent conversation",
	Args:  cobra.ExactArgs(1),
	RunE: withSessionStore(func(ctx context.Context, w io.Writer, store memory.Store, args []string) error {
		return showSession(ctx, w, store, args[0])
	}),
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: withSessionStore(func(ctx context.Context, w io.Writer, store memory.Store, args []string) error {
		deleted, err := store.DeleteSession(ctx, args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("session %q not found", args[0])
		}
		fmt.Fprintf(w, "Deleted session %s\n", args[0])
		return nil
	}),
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// withSessionStore opens only the session database, so these commands work
// without model credentials.
func withSessionStore(fn func(ctx context.Context, w io.Writer, store memory.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.NewClient(cfg.SQLite.Path, cfg.Memory.MaxHistory)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.InitSchema(cmd.Context()); err != nil {
			return err
		}
		return fn(cmd.Context(), cmd.OutOrStdout(), db, args)
	}
}

func listSessions(ctx context.Context, w io.Writer, store memory.Store) error {
	ids, err := store.ListSessions(ctx)
	if err != nil {
		return err
	}
	stats, err := store.SessionStats(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	fmt.Fprintf(w, "\n%d sessions, %d turns\n", stats.TotalSessions, stats.TotalTurns)
	return nil
}

func showSession(ctx context.Context, w io.Writer, store memory.Store, id string) error {
	s, err := store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("session %q not found", id)
	}

	fmt.Fprintf(w, "Session: %s\n", s.ID)
	fmt.Fprintf(w, "Created: %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Last activity: %s\n", s.LastActivity.Format("2006-01-02 15:04:05"))
	if summary := s.ContextSummary(); summary != "" {
		fmt.Fprintf(w, "%s\n", summary)
	}
	if conv := s.ConversationForPrompt(len(s.History)); conv != "" {
		fmt.Fprintf(w, "\n%s\n", conv)
	}
	return nil
}
