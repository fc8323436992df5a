package app

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/stacklok/provider-registry/internal/archive"
	"github.com/stacklok/provider-registry/internal/filtering"
)

// scanResult is one file examined by the scan command
type scanResult struct {
	Path      string              `json:"path"`
	Valid     bool                `json:"valid"`
	Reason    string              `json:"reason,omitempty"`
	Providers map[string][]string `json:"providers,omitempty"`
}

type scanTarget struct {
	dir       string
	recursive bool
	filter    *filtering.NameFilter
}

func (c *cli) newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [DIR...]",
		Short: "List the provider archives found in directories",
		Long: `Scan validates every file of the given directories and lists the provider
archives found with the contracts they declare. Without arguments the source
directories of the configuration file are scanned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")
			include, _ := cmd.Flags().GetStringSlice("include")
			exclude, _ := cmd.Flags().GetStringSlice("exclude")
			format, _ := cmd.Flags().GetString("format")
			if err := validateFormat(format); err != nil {
				return err
			}
			filter, err := filtering.NewNameFilter(include, exclude)
			if err != nil {
				return err
			}

			targets, err := c.scanTargets(args, recursive, filter)
			if err != nil {
				return err
			}

			var results []scanResult
			for _, target := range targets {
				found, err := scanDirectory(cmd, target)
				if err != nil {
					return err
				}
				results = append(results, found...)
			}
			return writeScanResults(cmd, format, results)
		},
	}
	cmd.Flags().BoolP("recursive", "r", false, "Descend into subdirectories of directories given as arguments")
	cmd.Flags().StringSlice("include", nil, "Glob patterns of archive paths to scan in directories given as arguments")
	cmd.Flags().StringSlice("exclude", nil, "Glob patterns of archive paths to skip in directories given as arguments")
	cmd.Flags().String("format", formatTable, "Output format (table or json)")
	return cmd
}

func (c *cli) scanTargets(args []string, recursive bool, filter *filtering.NameFilter) ([]scanTarget, error) {
	if len(args) > 0 {
		targets := make([]scanTarget, 0, len(args))
		for _, dir := range args {
			targets = append(targets, scanTarget{dir: dir, recursive: recursive, filter: filter})
		}
		return targets, nil
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("no directories given and the configuration has no sources")
	}
	targets := make([]scanTarget, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		// validated when the configuration was loaded
		sourceFilter, _ := src.NameFilter()
		targets = append(targets, scanTarget{dir: src.Directory, recursive: src.Recursive, filter: sourceFilter})
	}
	return targets, nil
}

func scanDirectory(cmd *cobra.Command, target scanTarget) ([]scanResult, error) {
	var mu sync.Mutex
	var results []scanResult

	archives, err := archive.ScanDir(cmd.Context(), target.dir,
		archive.WithRecursive(target.recursive),
		archive.WithFilter(target.filter),
		archive.WithRejected(func(path string, err error) {
			mu.Lock()
			defer mu.Unlock()
			results = append(results, scanResult{Path: path, Reason: rejectionReason(err)})
		}),
	)
	if err != nil {
		return nil, err
	}

	for _, a := range archives {
		results = append(results, scanResult{Path: a.Path, Valid: true, Providers: a.Declarations})
	}
	slices.SortFunc(results, func(a, b scanResult) int { return strings.Compare(a.Path, b.Path) })
	return results, nil
}

func rejectionReason(err error) string {
	var verr *archive.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return err.Error()
}

func writeScanResults(cmd *cobra.Command, format string, results []scanResult) error {
	if format == formatJSON {
		if results == nil {
			results = []scanResult{}
		}
		return renderJSON(cmd.OutOrStdout(), results)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if !r.Valid {
			rows = append(rows, []string{r.Path, "rejected", "", "", r.Reason})
			continue
		}

		contracts := make([]string, 0, len(r.Providers))
		providers := 0
		for contract, names := range r.Providers {
			contracts = append(contracts, contract)
			providers += len(names)
		}
		slices.Sort(contracts)
		rows = append(rows, []string{r.Path, "ok", strings.Join(contracts, ", "), strconv.Itoa(providers), ""})
	}
	return renderTable(cmd.OutOrStdout(), []string{"Archive", "Status", "Contracts", "Providers", "Reason"}, rows)
}
