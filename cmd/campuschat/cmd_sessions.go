package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"campuschat/pkg/domain"
)

func (c *cli) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and manage past conversations",
		Long: `List and manage past conversations.

Subcommands:
  list    - List sessions stored on the backend
  show    - Print a session's messages and make it current
  delete  - Delete a session
  search  - Find sessions whose messages contain a query`,
		RunE: c.runSessionsList,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions stored on the backend",
			RunE:  c.runSessionsList,
		},
		&cobra.Command{
			Use:   "show <session-id>",
			Short: "Print a session's messages and make it current",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runSessionsShow,
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a session",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runSessionsDelete,
		},
		&cobra.Command{
			Use:   "search <query>",
			Short: "Find sessions whose messages contain a query",
			Args:  cobra.MinimumNArgs(1),
			RunE:  c.runSessionsSearch,
		},
	)
	return cmd
}

func (c *cli) runSessionsList(cmd *cobra.Command, args []string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	if err := c.app.Controller.RefreshSessions(cmd.Context()); err != nil {
		return err
	}
	sessions := c.app.Controller.Sessions()
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}
	writeSummaries(out, sessions)
	return nil
}

func (c *cli) runSessionsShow(cmd *cobra.Command, args []string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := c.app.Chat.Rehydrate(ctx); err != nil {
		return err
	}
	if err := c.app.Controller.SelectSession(ctx, domain.ID(args[0])); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, msg := range c.app.Controller.Messages() {
		fmt.Fprintf(out, "[%s] %s\n", msg.Sender, msg.Message)
	}
	return nil
}

func (c *cli) runSessionsDelete(cmd *cobra.Command, args []string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := c.app.Chat.Rehydrate(ctx); err != nil {
		return err
	}
	if err := c.app.Controller.DeleteSession(ctx, domain.ID(args[0])); err != nil {
		return fmt.Errorf("%s: %w", c.texts().DeleteFailed, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func (c *cli) runSessionsSearch(cmd *cobra.Command, args []string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	matches, err := c.app.Controller.Search(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(matches) == 0 {
		fmt.Fprintln(out, "No matching sessions.")
		return nil
	}
	summaries := make([]domain.SessionSummary, 0, len(matches))
	for _, s := range matches {
		summaries = append(summaries, s.Summary(c.texts().NewChatTitle))
	}
	writeSummaries(out, summaries)
	return nil
}

func writeSummaries(w io.Writer, sessions []domain.SessionSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, s := range sessions {
		updated := "-"
		if !s.Timestamp.IsZero() {
			updated = s.Timestamp.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Title, s.MessageCount, updated)
	}
	_ = tw.Flush()
}
