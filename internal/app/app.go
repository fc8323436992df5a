// Package app provides application lifecycle management for the provider registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/provider-registry/internal/archive"
	"github.com/stacklok/provider-registry/internal/config"
	"github.com/stacklok/provider-registry/internal/enforce"
	"github.com/stacklok/provider-registry/internal/loader"
	"github.com/stacklok/provider-registry/internal/policy"
	"github.com/stacklok/provider-registry/internal/registry"
	"github.com/stacklok/provider-registry/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Registry aggregates the providers of every source group
	Registry *registry.Service[any]

	// Policy holds the capability grants
	Policy *policy.Policy

	// Switch enforces Policy once enforcement is enabled
	Switch *enforce.Switch

	// Groups are the configured source directories
	Groups []*SourceGroup

	Telemetry *telemetry.Telemetry
}

// SourceGroup is one configured directory of provider archives. Every
// archive found in it gets its own context parented to Context.
type SourceGroup struct {
	Config  config.SourceConfig
	Context *loader.Context
	Watcher *archive.Watcher
}

// RegistryApp encapsulates a configured registry and the watchers keeping
// it in step with its source directories
type RegistryApp struct {
	config        *config.Config
	components    *AppComponents
	ownsTelemetry bool
}

// Components returns the application components
func (app *RegistryApp) Components() *AppComponents {
	return app.components
}

// GetConfig returns the application configuration
func (app *RegistryApp) GetConfig() *config.Config {
	return app.config
}

// Start follows every source group configured with watch: true until ctx
// is cancelled. It returns immediately when no group is watched.
func (app *RegistryApp) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	watched := 0

	for _, group := range app.components.Groups {
		if !group.Config.Watch {
			continue
		}
		watched++
		g.Go(func() error {
			err := group.Watcher.Watch(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("source %s: %w", group.Config.Name, err)
			}
			return nil
		})
	}

	if watched == 0 {
		slog.Debug("No source groups are watched")
		return nil
	}
	slog.Info("Watching source groups", "groups", watched)
	return g.Wait()
}

// Stop releases the watchers and flushes telemetry owned by the app
func (app *RegistryApp) Stop(ctx context.Context) error {
	var errs []error
	for _, group := range app.components.Groups {
		if err := group.Watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", group.Config.Name, err))
		}
	}
	if app.ownsTelemetry {
		if err := app.components.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
