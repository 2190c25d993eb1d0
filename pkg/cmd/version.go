package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/mailguard/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show mailguard version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			// Get runtime if available (for custom writer), but don't fail if missing
			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			if rt != nil {
				writer = rt.Writer()
				if outputFormat == "" && rt.OutputFormat() != formatText {
					outputFormat = rt.OutputFormat()
				}
			}

			switch outputFormat {
			case formatJSON, formatYAML:
				return writeObject(writer, outputFormat, info)
			default:
				_, _ = fmt.Fprintf(writer, "mailguard %s (commit: %s, built: %s)\n", info.Version, info.GitCommit, info.BuildDate)
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json, yaml")

	return cmd
}
