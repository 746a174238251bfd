package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/kubeprovision/internal/core"
	"github.com/3cpo-dev/kubeprovision/internal/telemetry"
)

var (
	version   = "0.1.0"
	commit    = ""
	buildDate = ""
)

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kubeprovision",
		Short: "Prepare tagged cloud instances to join a Kubernetes cluster",
		Long: "kubeprovision discovers master and worker instances by tag, controls their power state " +
			"and provisions them over SSH with swap, kernel, sysctl and container runtime setup.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "info", "Set log level. Available: trace, debug, info, warn, error, fatal")
	cmd.PersistentFlags().String("config", core.DefaultConfigPath(), "config file (env KUBEPROVISION_CONFIG or CONFIG)")
	cmd.PersistentFlags().String("proxy", "", "HTTP Proxy for provider API calls (example: http://127.0.0.1:8080)")

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		levelStr, _ := c.Flags().GetString("log")
		level, err := zerolog.ParseLevel(levelStr)
		if err != nil || levelStr == "" {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
		if proxy, _ := c.Flags().GetString("proxy"); proxy != "" {
			_ = os.Setenv("HTTP_PROXY", proxy)
			_ = os.Setenv("HTTPS_PROXY", proxy)
		}
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newProvisionCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newProvidersCmd())
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kubeprovision %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// Setup the logger
func setupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Main entry point
func main() {
	setupLogger()
	telemetry.ServiceVersion = version

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	root := newRootCmd()
	root.SetContext(ctx)
	err := root.Execute()
	if serr := telemetry.Shutdown(); serr != nil {
		log.Debug().Err(serr).Msg("telemetry shutdown")
	}
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
