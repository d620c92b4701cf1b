// README: Entry point; cobra root with the serve and preview commands.
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
	var configPath string
	root := &cobra.Command{
		Use:           "honeycomb",
		Short:         "Geospatial dispatch and surge engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML or JSON config file")
	root.AddCommand(newServeCmd(&configPath), newPreviewCmd())
	return root
}
