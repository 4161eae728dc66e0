// workflowctl runs a workflow definition from a JSON file through the
// execution engine and streams progress to the terminal. It is the
// development entry point; production deployments embed the engine
// behind their own transport.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "workflowctl",
		Short:         "Run and inspect GenFlow workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	return root
}
