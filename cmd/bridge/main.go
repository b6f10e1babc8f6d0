package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile  string
	seedFile string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "inbox-bridge",
	Short: "WhatsApp inbox bridge with debounced AI replies and automation rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./inbox-bridge.toml or $CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&seedFile, "seed", "", "seed file with instances, agents and rules (default: $SEED_FILE or configs/seed.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(drainCmd())
	rootCmd.AddCommand(reclaimCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("inbox-bridge %s\n", Version)
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
