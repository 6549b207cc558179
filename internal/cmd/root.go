package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aspirely/aspirely-cli/pkg/auth"
	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/container"
	"github.com/aspirely/aspirely-cli/pkg/credentials"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/service"
	"github.com/aspirely/aspirely-cli/pkg/telemetry"
	"github.com/spf13/cobra"
)

// annotationNoSession marks commands that run without restoring the
// stored session.
const annotationNoSession = "no-session"

var (
	verbose    bool
	configPath string
	outputFmt  string
	offline    bool
)

var (
	app            *container.Container
	shutdownTracer telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "aspirely",
	Short: "Aspirely CLI - your job search from the terminal",
	Long: `Aspirely CLI is a command-line companion to the Aspirely job search
workspace. Track applications, browse your job board and generate cover
letters, interview prep, company analyses and LinkedIn posts.

Data is cached locally, so recent results show instantly and stay
available when you are offline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath); err != nil {
			return fmt.Errorf("initialize config: %w", err)
		}
		logger.Init(verbose)

		if cmd.Flags().Changed("output") {
			if !output.ValidateOutputFormat(outputFmt) {
				return fmt.Errorf("invalid output format %q (want text, json or table)", outputFmt)
			}
			config.SetString("output.format", outputFmt)
		}

		shutdown, err := telemetry.InitTracer(telemetry.ConfigFromSettings(Version))
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
			shutdown = func(context.Context) error { return nil }
		}
		shutdownTracer = shutdown

		if app, err = container.FromConfig(); err != nil {
			return err
		}
		if cmd.Annotations[annotationNoSession] != "" {
			return nil
		}
		return restoreSession(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		cleanup(cmd.Context())
	},
}

// restoreSession binds the stored credentials and starts the token
// session. Not being signed in is left for the command to report. With
// --offline no token is minted.
func restoreSession(ctx context.Context) error {
	if offline {
		creds, err := credentials.Load()
		if err != nil {
			return err
		}
		app.SetCredentials(creds)
		return nil
	}

	creds, err := auth.NewSessionRecovery().Recover(ctx, app.Session(), app.Identity())
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		logger.Debug("No stored session")
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case err != nil && creds == nil:
		return err
	case err != nil:
		// The identity provider is unreachable. Cached data can still be
		// shown; commands retry the session.
		logger.Warn("Could not start session, continuing with cached data", "error", err)
		app.SetCredentials(creds)
		return nil
	}
	app.SetCredentials(creds)
	logger.Debug("Session restored", "user_id", creds.UserID)
	return nil
}

func cleanup(ctx context.Context) {
	if app != nil {
		if err := app.Cleanup(ctx); err != nil {
			logger.Debug("Cleanup failed", "error", err)
		}
		app = nil
	}
	if shutdownTracer != nil {
		if err := shutdownTracer(ctx); err != nil {
			logger.Debug("Tracer shutdown failed", "error", err)
		}
		shutdownTracer = nil
	}
}

func listOptions() service.ListOptions {
	return service.ListOptions{Offline: offline}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cleanup(context.Background())
		output.PrintCLIError(err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.config/aspirely/cli/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "Output format: text, json, table")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Show cached data only, without contacting Aspirely")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(creditsCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(resumesCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
