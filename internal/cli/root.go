// Package cli implements the eventcore command line interface.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "eventcore",
	Short: "Multi-tenant event backbone with webhook delivery and replay",
	Long: `Eventcore is the event backbone for a multi-tenant platform:

  - Publish events with correlation and causation tracking
  - Durable priority queue with deduplication and retry backoff
  - Filter-based subscription routing with sequential fan-out
  - Reliable outbound webhook delivery with per-attempt history
  - Historical event replay with concurrency and rate limits
  - Retained event log with per-tenant retention and S3 archival

Start the service:
  eventcore serve`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./eventcore.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// setupLogging configures zerolog based on verbosity.
func setupLogging() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}
