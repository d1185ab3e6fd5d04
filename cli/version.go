package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/pagerag/pkg/version"
)

// VersionCmd prints build information.
func VersionCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			info := version.Get()
			if format == OutputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", OutputFormatText, "Output format (text, json)")
	return cmd
}
