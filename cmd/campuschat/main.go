package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"campuschat/internal/app"
	"campuschat/internal/config"
	"campuschat/internal/i18n"
	"campuschat/internal/util"
	"campuschat/pkg/apiclient"
)

// cli holds what the commands share once the root command has set up.
type cli struct {
	configPath string
	baseURL    string
	profile    string

	cfg     config.FileConfig
	app     *app.App
	logFile io.Closer
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "campuschat",
		Short: "Terminal client for the campus chat assistant",
		Long: `campuschat signs in to the campus chat backend and lets you chat with the
assistant, browse past conversations and manage sessions.

Run without arguments to open the interactive chat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.Context())
		},
		RunE: c.runChat,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: user config dir)")
	root.PersistentFlags().StringVar(&c.baseURL, "base-url", "", "backend API base URL")
	root.PersistentFlags().StringVar(&c.profile, "profile", "", "storage profile")

	root.AddCommand(
		c.chatCmd(),
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.sendCmd(),
		c.newCmd(),
		c.endCmd(),
		c.sessionsCmd(),
		c.healthCmd(),
	)
	return root
}

func (c *cli) setup(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if c.profile != "" {
		cfg.Profile = c.profile
	}
	c.cfg = cfg

	logFile, err := util.OpenLogFile(cfg.LogPath())
	if err != nil {
		return err
	}
	c.logFile = logFile
	logger := util.InitLogger(cfg.LogLevel, logFile)

	appCfg := app.FromFile(cfg)
	appCfg.Logger = logger
	a, err := app.New(appCfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	c.app = a
	if err := a.Start(ctx); err != nil {
		logger.Warn("start", "err", err)
	}
	return nil
}

func (c *cli) close() error {
	var errs []error
	if c.app != nil {
		errs = append(errs, c.app.Close())
		c.app = nil
	}
	if c.logFile != nil {
		errs = append(errs, c.logFile.Close())
		c.logFile = nil
	}
	return errors.Join(errs...)
}

// execute runs the command line in args and always releases what setup
// opened, including when the command fails.
func (c *cli) execute(ctx context.Context, args []string, stdout io.Writer) error {
	root := c.rootCmd()
	root.SetArgs(args)
	if stdout != nil {
		root.SetOut(stdout)
	}
	err := root.ExecuteContext(ctx)
	return errors.Join(err, c.close())
}

// texts is the catalog for user-facing output; usable before setup.
func (c *cli) texts() i18n.Catalog {
	if c.app != nil {
		return c.app.Texts
	}
	return i18n.Lookup(c.cfg.Locale)
}

func (c *cli) requireAuth() error {
	if !c.app.Auth.IsAuthenticated() {
		return errNotSignedIn
	}
	return nil
}

var errNotSignedIn = errors.New("not signed in; run `campuschat login` first")

// describe maps an error to the line printed to the user.
func describe(err error, texts i18n.Catalog) string {
	switch {
	case errors.Is(err, apiclient.ErrUnauthorized):
		return texts.SessionExpired
	case errors.Is(err, apiclient.ErrNetwork):
		return texts.NoReply
	}
	if msg := apiclient.BackendMessage(err); msg != "" {
		return msg
	}
	return err.Error()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	if err := c.execute(ctx, os.Args[1:], nil); err != nil {
		slog.Error("command failed", "err", err)
		fmt.Fprintln(os.Stderr, "error:", describe(err, i18n.Lookup(os.Getenv(config.EnvPrefix+"LOCALE"))))
		os.Exit(1)
	}
}
