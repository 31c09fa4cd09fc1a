// Package commands holds the CLI entrypoints.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "tidestore",
	Short: "Tiered multi-tenant file storage server",
	Long: `TideStore is a multi-tenant file storage service with resumable
chunked uploads, range-capable downloads, and automatic lifecycle
management across a hot (SSD) and a cold (HDD) storage tier.

Configuration is read from a YAML file plus TIDESTORE_* environment
variable overrides (TIDESTORE_<SECTION>_<KEY>, underscores for nesting).

Examples:
  # Start the server with the default config resolution
  tidestore serve

  # Start with an explicit config file
  tidestore serve --config /etc/tidestore/config.yaml

  # Override a setting from the environment
  TIDESTORE_LOGGING_LEVEL=DEBUG tidestore serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI. Errors are printed to stderr; the caller decides the
// exit code.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tidestore %s (%s)\n", Version, Commit)
	},
}
