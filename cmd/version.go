package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

// versionString is the build description shared by the version command and the server log.
func versionString() string {
	return fmt.Sprintf("srtgo %s (commit=%s, built=%s, %s)", Version, CommitSHA, BuildDate, runtime.Version())
}
