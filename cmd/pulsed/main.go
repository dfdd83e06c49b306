// pulsed is the always-on agent daemon: event dispatch, heartbeat
// supervision, webhook ingress, stream listening and AI replies, wired
// together from a TOML config.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the pulsed CLI with the given args. Returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "pulsed: %v\n", err)
		return 1
	}
	return 0
}

// newRootCmd creates the root cobra command with all subcommands.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "pulsed",
		Short:         "Always-on social agent daemon",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newRunCmd(stdout, stderr))
	root.AddCommand(newStatusCmd(stdout, stderr))
	root.AddCommand(newEventsCmd(stdout, stderr))
	return root
}
