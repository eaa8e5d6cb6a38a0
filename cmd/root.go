// Package cmd defines and implements the CLI commands for the poolhttpd executable.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/poolhttpd/internal/config"
	"github.com/JakeFAU/poolhttpd/internal/server"
)

var cfgFile string

// App is the slice of server.App the serve command drives.
// It lets tests inject a fake application.
type App interface {
	Run(ctx context.Context) error
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poolhttpd",
		Short: "A minimal HTTP/1.1 responder backed by a fixed worker pool.",
		Long: `poolhttpd accepts TCP connections one at a time and hands each one to a
fixed-size pool of workers. A worker reads the request line, resolves it
against a static route table and writes a single response before closing
the connection.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and POOLHTTPD_* environment when empty)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
