// Package cmd defines the CLI commands for the prana-ticker executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prana-ticker",
		Short: "Publishes the prANA price to Discord.",
		Long: `prana-ticker watches the prANA realized-price page through a headless
browser, extracts the current price and republishes it to Discord as the
bot's presence and as the name of a voice channel.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; env vars cover all settings)")

	cmd.AddCommand(newRunCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
