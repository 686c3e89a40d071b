package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List chat sessions",
		Args:  cobra.NoArgs,
		RunE:  runSessionsList,
	}
	cmd.Flags().StringP("query", "q", "", "Only show sessions whose title contains this text")

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <session-id>...",
		Short: "Delete sessions and their history",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSessionsRemove,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "model <session-id> <model-id>",
		Short: "Change the model of a session",
		Args:  cobra.ExactArgs(2),
		RunE:  runSessionsModel,
	})
	return cmd
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	c, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	query, _ := cmd.Flags().GetString("query") //nolint:errcheck // flag is registered

	sessions, err := c.Sessions(cmd.Context(), query)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		cmd.Println("No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tTITLE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\n", s.SessionID, s.Title)
	}
	return w.Flush()
}

func runSessionsRemove(cmd *cobra.Command, args []string) error {
	c, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	for _, id := range args {
		if err := c.DeleteSession(cmd.Context(), id); err != nil {
			return fmt.Errorf("deleting %s: %w", id, err)
		}
		cmd.Printf("Deleted %s\n", id)
	}
	return nil
}

func runSessionsModel(cmd *cobra.Command, args []string) error {
	c, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	if err := c.ChangeModel(cmd.Context(), args[0], args[1]); err != nil {
		return fmt.Errorf("changing model: %w", err)
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			msgs, err := c.History(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("loading history: %w", err)
			}
			for _, m := range msgs {
				cmd.Printf("[%s] %s (%s)\n%s\n\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Role, m.State, m.Content)
			}
			return nil
		},
	}
}
