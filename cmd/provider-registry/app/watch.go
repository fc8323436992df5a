package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	registryapp "github.com/stacklok/provider-registry/internal/app"
	"github.com/stacklok/provider-registry/internal/telemetry"
	"github.com/stacklok/provider-registry/pkg/versions"
)

const defaultShutdownTimeout = 10 * time.Second

func (c *cli) newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the registry in sync with the source directories",
		Long: `Watch loads the configured sources and then follows every source marked with
watch: true, registering archives as they appear and unregistering them as
they are removed, until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The long-running process owns the otel globals
			tel, err := telemetry.New(ctx,
				telemetry.WithTelemetryConfig(cfg.Telemetry),
				telemetry.WithServiceVersion(versions.GetVersionInfo().Version),
				telemetry.WithGlobal(true),
			)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					slog.Error("Failed to shut down telemetry", "error", err)
				}
			}()

			registryApp, err := registryapp.NewRegistryApp(ctx, registryapp.WithConfig(cfg), registryapp.WithTelemetry(tel))
			if err != nil {
				return fmt.Errorf("failed to create registry: %w", err)
			}
			slog.Info("Registry ready",
				"contract", registryApp.Components().Registry.Contract().Name,
				"sources", registryApp.Components().Registry.Len())

			runErr := registryApp.Start(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := registryApp.Stop(shutdownCtx); err != nil {
				slog.Error("Failed to stop registry", "error", err)
			}

			if runErr != nil {
				return runErr
			}
			slog.Info("Registry stopped")
			return nil
		},
	}
	cmd.Flags().Duration("shutdown-timeout", defaultShutdownTimeout, "Time allowed for stopping watchers and flushing telemetry")
	return cmd
}
