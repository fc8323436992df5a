package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/provider-registry/internal/archive"
	"github.com/stacklok/provider-registry/internal/config"
	"github.com/stacklok/provider-registry/internal/discovery"
	"github.com/stacklok/provider-registry/internal/enforce"
	"github.com/stacklok/provider-registry/internal/isolation"
	"github.com/stacklok/provider-registry/internal/loader"
	"github.com/stacklok/provider-registry/internal/policy"
	"github.com/stacklok/provider-registry/internal/registry"
	"github.com/stacklok/provider-registry/internal/telemetry"
	"github.com/stacklok/provider-registry/internal/validators"
	"github.com/stacklok/provider-registry/pkg/versions"
)

// RegistryAppOptions is a function that configures the registry app builder
type RegistryAppOptions func(*registryAppConfig) error

// registryAppConfig collects the inputs of NewRegistryApp.
// Component overrides are primarily for testing.
type registryAppConfig struct {
	config   *config.Config
	contract string

	provider    discovery.Provider
	telemetry   *telemetry.Telemetry
	diagnostics isolation.DiagnosticFunc
	rejected    func(path string, err error)
}

func baseConfig(opts ...RegistryAppOptions) (*registryAppConfig, error) {
	cfg := &registryAppConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.contract == "" {
		cfg.contract = cfg.config.Contract
	}
	if cfg.contract == "" {
		return nil, fmt.Errorf("contract is required: set it in the configuration or pass it explicitly")
	}
	if _, err := validators.ValidateContractName(cfg.contract); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithContract overrides the contract named in the configuration
func WithContract(contract string) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.contract = contract
		return nil
	}
}

// WithProvider sets the discovery mechanism used by the registry.
// Defaults to a discovery.ServiceLoader over discovery.DefaultCatalog.
func WithProvider(p discovery.Provider) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		if p == nil {
			return fmt.Errorf("provider cannot be nil")
		}
		cfg.provider = p
		return nil
	}
}

// WithTelemetry sets already initialized telemetry. When unset the app
// initializes telemetry from the configuration and owns its shutdown.
func WithTelemetry(t *telemetry.Telemetry) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// WithDiagnostics sets the callback receiving providers that failed to load
func WithDiagnostics(fn isolation.DiagnosticFunc) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.diagnostics = fn
		return nil
	}
}

// WithRejected sets the callback receiving files skipped while scanning
// source directories
func WithRejected(fn func(path string, err error)) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.rejected = fn
		return nil
	}
}

// NewRegistryApp builds the registry described by the configuration: it
// grants the configured permissions, loads every source directory and, when
// enforcement is enabled, installs the policy on the app's own switch.
func NewRegistryApp(ctx context.Context, opts ...RegistryAppOptions) (*RegistryApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	ownsTelemetry := cfg.telemetry == nil
	if ownsTelemetry {
		cfg.telemetry, err = telemetry.New(ctx,
			telemetry.WithTelemetryConfig(cfg.config.Telemetry),
			telemetry.WithServiceVersion(versions.GetVersionInfo().Version),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	// Ensure cleanup happens on error
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded && ownsTelemetry {
			_ = cfg.telemetry.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	metrics, err := buildMetrics(cfg.telemetry)
	if err != nil {
		return nil, err
	}

	pol, err := buildPolicy(ctx, cfg.config)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy: %w", err)
	}

	sw, err := buildSwitch(cfg.config, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build enforcement: %w", err)
	}

	regOpts := []registry.Option{
		registry.WithContract(discovery.Contract{Name: cfg.contract}),
		registry.WithEnforcer(sw),
		registry.WithDiagnostics(cfg.diagnostics),
		registry.WithMetrics(metrics.registry),
		registry.WithTracer(cfg.telemetry.Tracer()),
	}
	if cfg.provider != nil {
		regOpts = append(regOpts, registry.WithProvider(cfg.provider))
	}
	reg, err := registry.New[any](ctx, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	groups, err := buildSourceGroups(cfg, reg, pol, metrics)
	if err != nil {
		return nil, err
	}

	// Sources are loaded before the policy is installed so the initial grants
	// are not subject to it.
	for _, g := range groups {
		if err := g.Watcher.Sync(ctx); err != nil {
			return nil, fmt.Errorf("failed to load source %s: %w", g.Config.Name, err)
		}
		slog.Info("Loaded source", "source", g.Config.Name, "archives", len(g.Watcher.Tracked()))
	}

	if cfg.config.EnforcementEnabled() {
		if err := sw.Install(pol); err != nil {
			return nil, fmt.Errorf("failed to install policy: %w", err)
		}
		slog.Info("Capability enforcement enabled", "contexts", pol.Contexts())
	}

	cleanupNeeded = false
	return &RegistryApp{
		config: cfg.config,
		components: &AppComponents{
			Registry:  reg,
			Policy:    pol,
			Switch:    sw,
			Groups:    groups,
			Telemetry: cfg.telemetry,
		},
		ownsTelemetry: ownsTelemetry,
	}, nil
}

type appMetrics struct {
	registry    *telemetry.RegistryMetrics
	enforcement *telemetry.EnforcementMetrics
	scan        *telemetry.ScanMetrics
}

func buildMetrics(t *telemetry.Telemetry) (*appMetrics, error) {
	mp := t.MeterProvider()

	registryMetrics, err := telemetry.NewRegistryMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry metrics: %w", err)
	}
	enforcementMetrics, err := telemetry.NewEnforcementMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcement metrics: %w", err)
	}
	scanMetrics, err := telemetry.NewScanMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan metrics: %w", err)
	}

	return &appMetrics{
		registry:    registryMetrics,
		enforcement: enforcementMetrics,
		scan:        scanMetrics,
	}, nil
}

// buildPolicy creates the policy from the configured grants. The primary
// context is the process-default context.
func buildPolicy(ctx context.Context, cfg *config.Config) (*policy.Policy, error) {
	pol := policy.New(policy.WithDefault(cfg.DefaultPermissions()))
	if err := pol.SetPrimaryPermissions(ctx, cfg.PrimaryPermissions()); err != nil {
		return nil, err
	}
	return pol, nil
}

// buildSwitch creates the enforcement switch with the built-in Cedar
// policies followed by the configured policy file.
func buildSwitch(cfg *config.Config, metrics *appMetrics) (*enforce.Switch, error) {
	custom, err := cfg.Enforcement.LoadPolicies()
	if err != nil {
		return nil, err
	}

	policies := []byte(enforce.DefaultPolicies)
	if len(custom) > 0 {
		policies = append(policies, '\n')
		policies = append(policies, custom...)
	}

	authorizer, err := enforce.NewCedarAuthorizer(policies)
	if err != nil {
		return nil, err
	}
	return enforce.NewSwitch(
		enforce.WithAuthorizer(authorizer),
		enforce.WithMetrics(metrics.enforcement),
	)
}

func buildSourceGroups(
	cfg *registryAppConfig,
	reg *registry.Service[any],
	pol *policy.Policy,
	metrics *appMetrics,
) ([]*SourceGroup, error) {
	groups := make([]*SourceGroup, 0, len(cfg.config.Sources))

	for _, sc := range cfg.config.Sources {
		group := loader.New(sc.Name, loader.Default(), loader.WithOrigin(sc.Directory))

		rejected := func(path string, err error) {
			slog.Warn("Skipping file in source directory", "source", sc.Name, "path", path, "error", err)
			if cfg.rejected != nil {
				cfg.rejected(path, err)
			}
		}

		scanOpts := []archive.ScanOption{
			archive.WithRecursive(sc.Recursive),
			archive.WithRejected(rejected),
			archive.WithScanMetrics(metrics.scan),
			archive.WithScanTracer(cfg.telemetry.Tracer()),
		}
		if sc.Concurrency > 0 {
			scanOpts = append(scanOpts, archive.WithConcurrency(sc.Concurrency))
		}
		filter, err := sc.NameFilter()
		if err != nil {
			return nil, fmt.Errorf("invalid filter for source %s: %w", sc.Name, err)
		}
		scanOpts = append(scanOpts, archive.WithFilter(filter))

		watcher, err := archive.NewWatcher(sc.Directory,
			&grantingRegistrar{registry: reg, policy: pol, grants: sc.Permissions()},
			archive.WithOpenOptions(archive.WithParent(group)),
			archive.WithWatchScanOptions(scanOpts...),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher for source %s: %w", sc.Name, err)
		}

		groups = append(groups, &SourceGroup{
			Config:  sc,
			Context: group,
			Watcher: watcher,
		})
	}
	return groups, nil
}
