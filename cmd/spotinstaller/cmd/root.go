package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dagimg-dot/spotinstaller/internal/logger"
	"github.com/dagimg-dot/spotinstaller/internal/service/installer"
	"github.com/dagimg-dot/spotinstaller/internal/service/selfupdate"
	"github.com/dagimg-dot/spotinstaller/internal/version"
)

// updateAvailableExitCode is returned by `check` when the pool is ahead of
// the installed client, so scripts can branch without parsing output.
const updateAvailableExitCode = 2

var (
	// configPath to the configuration YAML file.
	configPath string

	// assumeYes skips interactive confirmation prompts.
	assumeYes bool

	// logLevel sets the minimum level for log output.
	logLevel string

	// exitCode overrides the process exit code for non-error outcomes.
	exitCode int

	// rootCmd installs or updates the client depending on what is found.
	rootCmd = &cobra.Command{
		Use:   "spotinstaller",
		Short: "Install or update the Spotify client into a user-local tree",
		Long: "Compares the installed Spotify client against the newest package in the " +
			"vendor repository pool and installs or updates it without root: the package " +
			"payload is unpacked under the home directory and linked into ~/.local/bin " +
			"and the user applications directory.",
		Args:              cobra.NoArgs,
		PersistentPreRunE: setupLogging,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signalContext()
			defer stop()

			_, err := installer.Run(ctx, &installer.Options{
				ConfigPath: configPath,
				AssumeYes:  assumeYes,
			})

			return err
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Report whether an update is available without installing",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			result, err := installer.Run(ctx, &installer.Options{
				ConfigPath: configPath,
				CheckOnly:  true,
			})
			if err != nil {
				return err
			}

			if result == installer.ResultUpdateAvailable {
				exitCode = updateAvailableExitCode
			}

			return nil
		},
	}

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install the newest package even when versions match",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			_, err := installer.Run(ctx, &installer.Options{
				ConfigPath: configPath,
				AssumeYes:  assumeYes,
				Force:      true,
			})

			return err
		},
	}

	uninstallCmd = &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the client, its links and cached archives",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return installer.Uninstall(ctx, &installer.Options{
				ConfigPath: configPath,
				AssumeYes:  assumeYes,
			})
		},
	}

	selfUpdateCmd = &cobra.Command{
		Use:   "self-update",
		Short: "Update the installer binary itself",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return selfupdate.Run(ctx, &selfupdate.Options{
				ConfigPath: configPath,
			})
		},
	}
)

// Execute runs the spotinstaller CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// signalContext returns a context cancelled on SIGTERM/SIGINT. Callers must
// defer the stop function so signal delivery is restored after the command
// finishes and a repeated signal can terminate a wedged run.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// setupLogging applies the --log-level flag before any command runs.
func setupLogging(_ *cobra.Command, _ []string) error {
	if level, ok := logger.ParseLogLevel(logLevel); ok {
		logger.SetLevel(level)
	}

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "skip confirmation prompts")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(checkCmd, installCmd, uninstallCmd, selfUpdateCmd)
}
