// Package cli implements the tunnelforge client command line: creating and
// running tunnels, managing saved credentials, and checking status.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultGatewayURL = "https://gateway.tunnelforge.dev"

// version is overridden at build time via -ldflags.
var version = "dev"

// Execute builds and runs the root command, returning any error a
// subcommand produced.
func Execute(args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tunnelforge",
		Short:         "Expose a local service to the internet through a tunnelforge gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.AddCommand(newUpCmd())
	root.AddCommand(newLoginCmd())
	root.AddCommand(newLogoutCmd())
	root.AddCommand(newStatusCmd())

	return root
}

func printf(quiet bool, format string, args ...any) {
	if quiet {
		return
	}
	fmt.Printf(format, args...)
}
