// Package config provides configuration loading and management for the provider registry.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/provider-registry/internal/capability"
	"github.com/stacklok/provider-registry/internal/filtering"
	"github.com/stacklok/provider-registry/internal/telemetry"
	"github.com/stacklok/provider-registry/internal/validators"
)

// EnvPrefix is the prefix for environment variables read by the CLI
const EnvPrefix = "PROVIDER_REGISTRY"

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Contract is the fully qualified contract name the CLI discovers
	// providers for when no contract is given on the command line
	Contract string `yaml:"contract,omitempty"`

	// Enforcement controls whether capability checks are active
	Enforcement *EnforcementConfig `yaml:"enforcement,omitempty"`

	// Policy holds the capability grants installed at startup
	Policy *PolicyConfig `yaml:"policy,omitempty"`

	// Sources lists the archive directories registered as provider sources
	Sources []SourceConfig `yaml:"sources"`

	// Telemetry configures OpenTelemetry tracing and metrics
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// EnforcementConfig defines how capability checks are enforced
type EnforcementConfig struct {
	// Enabled installs the configured policy when true.
	// When false every registry operation is permitted.
	Enabled bool `yaml:"enabled"`

	// PolicyFile is an optional path to Cedar policies appended to the
	// built-in ones
	PolicyFile string `yaml:"policyFile,omitempty"`
}

// PolicyConfig defines the permissions granted at startup
type PolicyConfig struct {
	// Primary is the permission set of the primary (process-default) context.
	// Defaults to ["*"] if not specified.
	Primary []string `yaml:"primary,omitempty"`

	// Default is the permission set of contexts without explicit permissions
	Default []string `yaml:"default,omitempty"`
}

// SourceConfig defines a directory of provider archives
type SourceConfig struct {
	// Name is the identifier for this source, also used as the name of the
	// context every archive in the directory is parented to
	Name string `yaml:"name"`

	// Directory is the path scanned for provider archives
	Directory string `yaml:"directory"`

	// Recursive descends into subdirectories when scanning
	Recursive bool `yaml:"recursive,omitempty"`

	// Watch keeps the registry in step with the directory after startup
	Watch bool `yaml:"watch,omitempty"`

	// Concurrency bounds how many archives are validated in parallel.
	// Defaults to archive.DefaultConcurrency if not specified.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Capabilities are granted to every archive context of this source
	Capabilities []string `yaml:"capabilities,omitempty"`

	// Filter restricts which files of the directory are loaded
	Filter *FilterConfig `yaml:"filter,omitempty"`
}

// FilterConfig selects archives by their path relative to the source directory
type FilterConfig struct {
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML content
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Validate the config
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// EnforcementEnabled reports whether capability checks should be installed
func (c *Config) EnforcementEnabled() bool {
	return c.Enforcement != nil && c.Enforcement.Enabled
}

// PrimaryPermissions returns the parsed primary permission set,
// using {"*"} if not specified
func (c *Config) PrimaryPermissions() capability.Set {
	if c.Policy == nil || c.Policy.Primary == nil {
		return capability.NewSet(capability.All)
	}
	// validate has already parsed these names
	set, _ := capability.ParseSet(c.Policy.Primary)
	return set
}

// DefaultPermissions returns the parsed default permission set,
// empty if not specified
func (c *Config) DefaultPermissions() capability.Set {
	if c.Policy == nil {
		return capability.NewSet()
	}
	set, _ := capability.ParseSet(c.Policy.Default)
	return set
}

// Permissions returns the parsed permission set granted to the source's archives
func (s *SourceConfig) Permissions() capability.Set {
	set, _ := capability.ParseSet(s.Capabilities)
	return set
}

// NameFilter compiles the source's filter patterns. It returns nil when the
// source has no filter.
func (s *SourceConfig) NameFilter() (*filtering.NameFilter, error) {
	if s.Filter == nil {
		return nil, nil
	}
	return filtering.NewNameFilter(s.Filter.Include, s.Filter.Exclude)
}

// LoadPolicies reads the custom Cedar policy file.
// It returns nil when no policy file is configured.
func (e *EnforcementConfig) LoadPolicies() ([]byte, error) {
	if e == nil || e.PolicyFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(e.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", e.PolicyFile, err)
	}
	return data, nil
}

// Validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Contract != "" {
		if strings.TrimSpace(c.Contract) != c.Contract {
			return fmt.Errorf("contract %q must not contain surrounding whitespace", c.Contract)
		}
		if _, err := validators.ValidateContractName(c.Contract); err != nil {
			return fmt.Errorf("contract: %w", err)
		}
	}

	if c.Policy != nil {
		if _, err := capability.ParseSet(c.Policy.Primary); err != nil {
			return fmt.Errorf("policy.primary: %w", err)
		}
		if _, err := capability.ParseSet(c.Policy.Default); err != nil {
			return fmt.Errorf("policy.default: %w", err)
		}
	}

	// Validate each source configuration
	sourceNames := make(map[string]bool)
	for i := range c.Sources {
		src := &c.Sources[i]

		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}

		// Check for duplicate source names
		if sourceNames[src.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name '%s'", i, src.Name)
		}
		sourceNames[src.Name] = true

		if err := validateSourceConfig(src, i); err != nil {
			return err
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

// validateSourceConfig validates a single source configuration
func validateSourceConfig(src *SourceConfig, index int) error {
	prefix := fmt.Sprintf("sources[%d] (%s)", index, src.Name)

	var errs []error
	if src.Directory == "" {
		errs = append(errs, fmt.Errorf("%s: directory is required", prefix))
	}
	if src.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("%s: concurrency must not be negative, got %d", prefix, src.Concurrency))
	}
	if _, err := capability.ParseSet(src.Capabilities); err != nil {
		errs = append(errs, fmt.Errorf("%s: capabilities: %w", prefix, err))
	}
	if _, err := src.NameFilter(); err != nil {
		errs = append(errs, fmt.Errorf("%s: filter: %w", prefix, err))
	}
	return errors.Join(errs...)
}
