package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auto-dns/docker-logwatch/internal/app"
	"github.com/auto-dns/docker-logwatch/internal/config"
	"github.com/auto-dns/docker-logwatch/internal/logger"
)

type contextKey string

const configKey = contextKey("config")

var rootCmd = &cobra.Command{
	Use:   "docker-logwatch",
	Short: "Follow logs of matching Docker containers",
	Long: "Streams stdout and stderr of running containers selected by compose service, name, image or labels, " +
		"following containers as they start and stop.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		if err := config.InitConfig(configFile); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := context.WithValue(cmd.Context(), configKey, cfg)
		cmd.SetContext(ctx)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration.
		cfg := cmd.Context().Value(configKey).(*config.Config)

		// Set up logger.
		logInstance := logger.SetupLogger(&cfg.Logging)

		// Create the application.
		var application application
		application, err := app.New(cfg, logInstance)
		if err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}
		defer func() {
			if err := application.Close(); err != nil {
				logInstance.Warn().Err(err).Msg("Failed to close application")
			}
		}()

		// Create a context with cancellation for graceful shutdown.
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Listen for OS signals.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				logInstance.Info().Msgf("Received signal: %v", sig)
				cancel()
			case <-ctx.Done():
			}
		}()

		// Run the application. When context is canceled, Run returns.
		if err := application.Run(ctx); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default is config.yaml)")
	flags.String("log-level", "INFO", "set log level (e.g. INFO, DEBUG, WARN)")
	flags.String("stream", "both", "streams to follow: stdout, stderr or both")
	flags.StringArray("match", nil, "container filter as path=pattern (repeatable), e.g. compose.service=web*")
	flags.String("format", "text", "output format: text or json")
	flags.String("color", "auto", "color output: auto, always or never")
	flags.String("docker-host", "", "docker daemon address (default from DOCKER_HOST)")

	_ = viper.BindPFlag("log.log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("app.stream", flags.Lookup("stream"))
	_ = viper.BindPFlag("app.match", flags.Lookup("match"))
	_ = viper.BindPFlag("app.format", flags.Lookup("format"))
	_ = viper.BindPFlag("app.color", flags.Lookup("color"))
	_ = viper.BindPFlag("docker.host", flags.Lookup("docker-host"))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Execution error: %v\n", err)
		os.Exit(1)
	}
}
