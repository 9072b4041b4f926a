package main

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"campuschat/internal/app"
	"campuschat/internal/controller"
	"campuschat/internal/tui"
)

func (c *cli) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Open the interactive chat",
		Long:  "Open the interactive chat. A message given as arguments is sent once the chat has loaded.",
		RunE:  c.runChat,
	}
}

func (c *cli) runChat(cmd *cobra.Command, args []string) error {
	if msg := strings.TrimSpace(strings.Join(args, " ")); msg != "" {
		c.app.Router.SetPending(msg)
	}
	c.app.Navigate(app.RouteChat)
	if c.app.Router.Current() != app.RouteChat {
		return errNotSignedIn
	}
	model := tui.NewModel(c.app.Controller, tui.Options{
		Texts:   c.app.Texts,
		Pending: c.app.Router.TakePending(),
		Context: cmd.Context(),
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func (c *cli) sendCmd() *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message in the current conversation and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireAuth(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := c.app.Chat.Rehydrate(ctx); err != nil {
				return err
			}
			res, err := c.app.Controller.Send(ctx, strings.Join(args, " "), files)
			switch {
			case errors.Is(err, controller.ErrRateLimited):
				return errors.New(c.texts().RateLimited)
			case err != nil:
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Reply.Message)
			if res.Err != nil {
				return res.Err
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "attach a file name (repeatable)")
	return cmd
}

func (c *cli) newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Archive the current conversation and start a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.app.Chat.Rehydrate(ctx); err != nil {
				return err
			}
			summary, err := c.app.Controller.NewChat(ctx)
			if err != nil {
				return err
			}
			if summary != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Archived %q (%d messages)\n", summary.Title, summary.MessageCount)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Started a new chat")
			return nil
		},
	}
}

func (c *cli) endCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End the current session on the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireAuth(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := c.app.Chat.Rehydrate(ctx); err != nil {
				return err
			}
			if err := c.app.Controller.EndSession(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session ended")
			return nil
		},
	}
}
