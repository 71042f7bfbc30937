// Package cli implements the plate terminal client on top of the Go SDK.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"plate/api/internal/client"
	"plate/api/internal/logging"
)

var (
	serverURL string
	logLevel  string

	cfg *Config
)

var rootCmd = &cobra.Command{
	Use:   "plate",
	Short: "Plate - kanban boards from the terminal",
	Long: `plate talks to a Plate API server. Sign in once with 'plate login';
the session is kept in ~/.plate/config.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := LoadConfig()
		if err != nil {
			return err
		}
		cfg = loaded
		if cmd.Flags().Changed("server") {
			cfg.Server = serverURL
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}

		logger := logging.Setup("cli", cfg.LogLevel)
		logger.SetOutput(os.Stderr)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL (default from config or PLATE_SERVER)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(platesCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(watchCmd)
}

// newClient builds an SDK client for cfg. Rotated tokens are written back
// to the config file.
func newClient(cmd *cobra.Command) *client.Client {
	c := client.New(client.Options{
		BaseURL: cfg.Server,
		Errors:  toastHandler(cmd.ErrOrStderr()),
		OnSession: func(session client.Session) {
			cfg.Session = session
			if err := cfg.Save(); err != nil {
				logging.Component("cli").WithError(err).Warn("save session")
			}
		},
	})
	c.SetSession(cfg.Session)
	return c
}

var errNotLoggedIn = errors.New("not logged in, run 'plate login' first")

// authedClient is newClient for commands that need a session.
func authedClient(cmd *cobra.Command) (*client.Client, error) {
	if !cfg.Session.Valid() {
		return nil, errNotLoggedIn
	}
	return newClient(cmd), nil
}

func explain(err error) error {
	if client.IsUnauthorized(err) {
		return fmt.Errorf("%w (session expired)", errNotLoggedIn)
	}
	return err
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
