// Command wsecho runs the diagnostic WebSocket echo server and its probe
// client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "wsecho",
		Short:         "WebSocket echo server with per-connection loss tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (defaults apply when empty)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newCheckCmd(&configPath))
	root.AddCommand(newProbeCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}
