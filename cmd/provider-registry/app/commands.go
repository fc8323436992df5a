// Package app provides the commands of the provider-registry CLI.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/provider-registry/internal/config"
	"github.com/stacklok/provider-registry/pkg/versions"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

// cli carries the state shared by all commands
type cli struct {
	v     *viper.Viper
	level *slog.LevelVar
}

// NewRootCmd creates the root command. Passing --debug lowers level to debug.
func NewRootCmd(level *slog.LevelVar) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	c := &cli{v: v, level: level}

	rootCmd := &cobra.Command{
		Use:               "provider-registry",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Inspect and run isolated provider registries",
		Long: `provider-registry discovers service providers declared by plugin archives.

Every archive is loaded into its own context so that its providers never leak
into other sources, and registry operations can be restricted per context by a
capability policy.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if c.v.GetBool("debug") && c.level != nil {
				c.level.Set(slog.LevelDebug)
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	for _, name := range []string{"config", "debug"} {
		if err := v.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}

	rootCmd.AddCommand(
		c.newScanCmd(),
		c.newCheckCmd(),
		c.newDiscoverCmd(),
		c.newWatchCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig loads the configuration named by --config
func (c *cli) loadConfig() (*config.Config, error) {
	path := c.v.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("a configuration file is required: pass --config or set %s_CONFIG", config.EnvPrefix)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Debug("Loaded configuration", "path", path, "sources", len(cfg.Sources))
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to read format flag: %w", err)
			}

			if format == formatJSON {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "provider-registry %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
