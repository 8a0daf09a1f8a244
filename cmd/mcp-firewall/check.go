package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/starskrime/mcp-action-firewall/policy"
)

func newCheckCmd() *cobra.Command {
	var name, configPath string
	cmd := &cobra.Command{
		Use:   CheckUse,
		Short: CheckShort,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, engine, err := loadPolicy(configPath, name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			server := name
			if server == "" {
				server = CheckNoName
			}
			_, _ = fmt.Fprintf(out, CheckHeadFmt, cfg.Source, server, engine.DefaultAction())
			for _, tool := range args {
				action, rule := engine.Explain(tool)
				_, _ = fmt.Fprintf(out, CheckLineFmt, actionLabel(action), tool, rule)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", FlagName)
	cmd.Flags().StringVarP(&configPath, "config", "c", "", FlagConfig)
	return cmd
}

func actionLabel(a policy.Action) string {
	label := fmt.Sprintf("%-5s", strings.ToUpper(string(a)))
	if a == policy.Allow {
		return color.GreenString(label)
	}
	return color.RedString(label)
}
