package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd runs the relay when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "WebRTC call signaling relay",
	Long: `relay forwards WebRTC signaling messages (offers, answers and ICE
candidates) between clients connected over WebSocket. Clients identify
themselves with the callerId query parameter and address each other by it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			return os.Setenv("CONFIG_FILE", configFile)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.AddCommand(serveCmd, statusCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
