package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacklok/provider-registry/internal/archive"
	"github.com/stacklok/provider-registry/internal/enforce"
)

func (c *cli) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [ARCHIVE|URL...]",
		Short: "Validate provider archives or the configuration",
		Long: `Check validates each archive path or file:// URL given as argument and exits
with an error when any of them is not a provider archive.

Without arguments the configuration file is validated instead, including the
Cedar policies it references.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return c.checkConfig(cmd)
			}
			return checkArchives(cmd, args)
		},
	}
}

func (c *cli) checkConfig(cmd *cobra.Command) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	custom, err := cfg.Enforcement.LoadPolicies()
	if err != nil {
		return err
	}
	policies := enforce.DefaultPolicies
	if len(custom) > 0 {
		policies += "\n" + string(custom)
	}
	if _, err := enforce.NewCedarAuthorizer([]byte(policies)); err != nil {
		return err
	}

	enforcement := "disabled"
	if cfg.EnforcementEnabled() {
		enforcement = "enabled"
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d source(s), enforcement %s\n",
		len(cfg.Sources), enforcement)
	return err
}

func checkArchives(cmd *cobra.Command, targets []string) error {
	rows := make([][]string, 0, len(targets))
	invalid := 0

	for _, target := range targets {
		var err error
		if strings.Contains(target, "://") {
			_, err = archive.OpenURL(target)
		} else {
			err = archive.Validate(target)
		}

		if err != nil {
			invalid++
			rows = append(rows, []string{target, "invalid", rejectionReason(err)})
			continue
		}
		rows = append(rows, []string{target, "valid", ""})
	}

	if err := renderTable(cmd.OutOrStdout(), []string{"Archive", "Status", "Reason"}, rows); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d archives are invalid", invalid, len(targets))
	}
	return nil
}
