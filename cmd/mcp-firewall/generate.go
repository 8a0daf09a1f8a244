package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/starskrime/mcp-action-firewall/config"
)

func newGenerateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   GenerateUse,
		Short: GenerateShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			path, err := config.GenerateDefault(wd)
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf(ErrConfigExistsFmt, path)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = color.New(color.FgGreen).Fprintf(out, GenerateDoneFmt, path)
			_, _ = fmt.Fprintf(out, GenerateNextFmt, path)
			return nil
		},
	}
}
