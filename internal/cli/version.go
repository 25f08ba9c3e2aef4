package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// NewVersionCmd creates the 'version' command
func NewVersionCmd(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the current version, commit hash, and build date.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version:  %s\n", info.Version)
			fmt.Fprintf(out, "Commit:   %s\n", info.Commit)
			fmt.Fprintf(out, "Built:    %s\n", info.Date)
			fmt.Fprintf(out, "Go:       %s\n", runtime.Version())
			return nil
		},
	}
}
