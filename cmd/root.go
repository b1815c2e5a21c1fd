package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	configCmd "github.com/sidkik/picosync/cmd/config"
	deployCmd "github.com/sidkik/picosync/cmd/deploy"
	"github.com/sidkik/picosync/cmd/ports"
	"github.com/sidkik/picosync/cmd/setup"
	"github.com/sidkik/picosync/cmd/util"
	"github.com/sidkik/picosync/cmd/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "PICOSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "picosync",
		Short:        "Deploy a MicroPython project onto a board over USB serial",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		configCmd.New(),
		deployCmd.New(),
		ports.New(),
		setup.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
