package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"campuschat/internal/account"
	"campuschat/internal/app"
)

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the credential token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c.app.Navigate(app.RouteLogin)
			user, err := c.app.Account.Login(cmd.Context(), email, password)
			if err != nil {
				return errors.New(account.Describe(err, c.texts(), c.texts().LoginFailed))
			}
			c.app.Navigate(app.RouteChat)
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", user.Name, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var in account.RegisterInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			c.app.Navigate(app.RouteRegister)
			user, err := c.app.Account.Register(cmd.Context(), in)
			if err != nil {
				return errors.New(account.Describe(err, c.texts(), c.texts().RegisterFailed))
			}
			c.app.Navigate(app.RouteChat)
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", user.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVarP(&in.Email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&in.Password, "password", "p", "", "password")
	cmd.Flags().StringVar(&in.PasswordConfirmation, "confirm", "", "password confirmation")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Account.Logout(cmd.Context()); err != nil {
				return err
			}
			c.app.Navigate(app.RouteLogin)
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireAuth(); err != nil {
				return err
			}
			user, err := c.app.Account.WhoAmI(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> (id %s)\n", user.Name, user.Email, user.ID)
			return nil
		},
	}
}
