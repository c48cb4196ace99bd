// Package cmd defines the CLI commands of the winerank crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/app"
	"github.com/JakeFAU/winerank-crawler/internal/config"
	"github.com/JakeFAU/winerank-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

type rootOptions struct {
	configFile string
	verbose    bool
	app        *app.App
}

// closeApp shuts the app down once. Cobra skips PersistentPostRun when RunE
// fails, so execute calls it again on the way out.
func (o *rootOptions) closeApp() {
	if o.app == nil {
		return
	}
	if err := o.app.Close(); err != nil {
		o.app.Logger().Warn("shutdown failed", zap.Error(err))
	}
	o.app = nil
}

// newRootCmd creates the root command with every subcommand attached.
func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "winerank",
		Short: "Finds and archives restaurant wine lists.",
		Long: `winerank walks a restaurant guide listing, discovers each restaurant's
wine list on its own website or an external index, and stores the downloaded
artifact with its extracted text. Crawls checkpoint after every step and can
be resumed after an interrupt or failure.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logCfg := logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level}
			if opts.verbose {
				logCfg.Level = "debug"
			}
			logger, err := logging.New(logCfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			opts.closeApp()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI and returns the process exit code. SIGINT and SIGTERM
// cancel the command context.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	opts := &rootOptions{}
	defer opts.closeApp()
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return nil
}
