package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpora-ai/corpora/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "corpora version %s (commit %s)\n", version.Version, version.Commit)
			return nil
		},
	}
}
