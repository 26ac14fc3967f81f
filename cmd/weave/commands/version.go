package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/wvrzel/weave/internal/version"
)

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of Weave",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("weave %s %s/%s\n", version.Version, runtime.GOOS, runtime.GOARCH)
		},
	}
}
