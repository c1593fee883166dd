package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/cuemby/breeze/pkg/api"
	"github.com/cuemby/breeze/pkg/bootstrap"
	"github.com/cuemby/breeze/pkg/config"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "breezed",
	Short: "breezed - temperature-controlled fan daemon",
	Long: `breezed drives a PWM fan from a temperature sensor, caps its speed
during a night window, shuts it off on rotor stall and takes remote
commands over MQTT.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"breezed version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")

	runCmd.Flags().String("log-level", "", "Override log level (debug, info, warn, error)")
	runCmd.Flags().Bool("log-json", false, "Log as JSON")

	configCmd.AddCommand(configPrintCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fan controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Log.Level = log.Level(level)
		}
		if jsonOut, _ := cmd.Flags().GetBool("log-json"); jsonOut {
			cfg.Log.JSONOutput = true
		}
		log.Init(cfg.Log)
		metrics.SetVersion(Version)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sys, err := bootstrap.Run(ctx, cfg, bootstrap.Options{})
		if err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}

		var server *api.HealthServer
		errCh := make(chan error, 1)
		if cfg.HTTP.Addr != "" {
			server = api.NewHealthServer(sys, sys.Registry).WithEvents(sys.Broker)
			go func() {
				errCh <- server.Start(api.Options{
					Addr:         cfg.HTTP.Addr,
					ReadTimeout:  cfg.HTTP.ReadTimeout,
					WriteTimeout: cfg.HTTP.WriteTimeout,
				})
			}()
		}

		select {
		case <-ctx.Done():
			log.Info("Shutting down")
		case err = <-errCh:
			if err != nil {
				log.Errorf("HTTP server failed", err)
			}
		}

		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Errorf("HTTP shutdown failed", err)
			}
		}
		if err := sys.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the normalized configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "breezed version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
