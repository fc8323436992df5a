package app

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	registryapp "github.com/stacklok/provider-registry/internal/app"
	"github.com/stacklok/provider-registry/internal/config"
	"github.com/stacklok/provider-registry/internal/discovery"
	"github.com/stacklok/provider-registry/internal/isolation"
)

// discoveredProvider is one provider reported by the discover command
type discoveredProvider struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Source string `json:"source"`
}

// discoverFailure is one declared provider that could not be loaded
type discoverFailure struct {
	Provider string `json:"provider"`
	Context  string `json:"context"`
	Error    string `json:"error"`
}

type discoverOutput struct {
	Contract  string               `json:"contract"`
	Sources   int                  `json:"sources"`
	Providers []discoveredProvider `json:"providers"`
	Failures  []discoverFailure    `json:"failures,omitempty"`
}

func (c *cli) newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover [CONTRACT]",
		Short: "List the providers of a contract across all sources",
		Long: `Discover builds a registry for the contract, registers every archive of the
configured sources (or of the directories given with --dir) and lists the
providers each archive declares itself, in registration order. Providers are
reported by their declared name together with the archive that defines them;
implementations are not instantiated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, _ := cmd.Flags().GetStringSlice("dir")
			recursive, _ := cmd.Flags().GetBool("recursive")
			format, _ := cmd.Flags().GetString("format")
			if err := validateFormat(format); err != nil {
				return err
			}

			var cfg *config.Config
			if len(dirs) > 0 {
				cfg = directoriesConfig(dirs, recursive)
			} else {
				var err error
				if cfg, err = c.loadConfig(); err != nil {
					return err
				}
			}

			opts := []registryapp.RegistryAppOptions{registryapp.WithConfig(cfg)}
			if len(args) == 1 {
				opts = append(opts, registryapp.WithContract(args[0]))
			}
			out, err := discover(cmd, opts)
			if err != nil {
				return err
			}
			return writeDiscoverOutput(cmd, format, out)
		},
	}
	cmd.Flags().StringSlice("dir", nil, "Directory of provider archives to use instead of the configured sources (repeatable)")
	cmd.Flags().BoolP("recursive", "r", false, "Descend into subdirectories of --dir")
	cmd.Flags().String("format", formatTable, "Output format (table or json)")
	return cmd
}

// directoriesConfig describes ad hoc source directories given on the command line
func directoriesConfig(dirs []string, recursive bool) *config.Config {
	cfg := &config.Config{}
	for i, dir := range dirs {
		cfg.Sources = append(cfg.Sources, config.SourceConfig{
			Name:      fmt.Sprintf("dir-%d", i),
			Directory: dir,
			Recursive: recursive,
		})
	}
	return cfg
}

func discover(cmd *cobra.Command, opts []registryapp.RegistryAppOptions) (*discoverOutput, error) {
	var mu sync.Mutex
	out := &discoverOutput{Providers: []discoveredProvider{}}

	catalog := discovery.NewCatalog(discovery.WithFallback(discovery.DescriptorFactory))
	opts = append(opts,
		registryapp.WithProvider(discovery.NewServiceLoader(catalog)),
		registryapp.WithDiagnostics(func(d isolation.Diagnostic) {
			mu.Lock()
			defer mu.Unlock()
			out.Failures = append(out.Failures, discoverFailure{
				Provider: d.Provider,
				Context:  d.Context.Name(),
				Error:    d.Cause.Error(),
			})
		}),
	)

	ctx := cmd.Context()
	registryApp, err := registryapp.NewRegistryApp(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = registryApp.Stop(ctx) }()

	reg := registryApp.Components().Registry
	out.Contract = reg.Contract().Name
	out.Sources = reg.Len()

	providers, err := reg.DiscoverWithSource(ctx)
	if err != nil {
		return nil, err
	}
	for src, p := range providers {
		found := discoveredProvider{Name: fmt.Sprintf("%v", p), Type: fmt.Sprintf("%T", p), Source: src.Name()}
		if d, ok := p.(*discovery.Descriptor); ok {
			found.Name, found.Type = d.Name, "declared"
		}
		out.Providers = append(out.Providers, found)
	}
	return out, nil
}

func writeDiscoverOutput(cmd *cobra.Command, format string, out *discoverOutput) error {
	if format == formatJSON {
		return renderJSON(cmd.OutOrStdout(), out)
	}

	rows := make([][]string, 0, len(out.Providers))
	for _, p := range out.Providers {
		rows = append(rows, []string{p.Name, p.Type, p.Source})
	}
	if err := renderTable(cmd.OutOrStdout(), []string{"Provider", "Type", "Source"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d provider(s) of %s from %d source(s)\n",
		len(out.Providers), out.Contract, out.Sources)
	return err
}
