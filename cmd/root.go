package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/safiul0073/CodeLift/cmd/bugtool"
	"github.com/safiul0073/CodeLift/cmd/check"
	configCmd "github.com/safiul0073/CodeLift/cmd/config"
	"github.com/safiul0073/CodeLift/cmd/update"
	"github.com/safiul0073/CodeLift/cmd/util"
	"github.com/safiul0073/CodeLift/cmd/version"
	"github.com/safiul0073/CodeLift/pkg/config"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "CODELIFT_LOG_VERBOSE"

// configPathKey is the environment variable that overrides the default
// config path.
const configPathKey = "CODELIFT_CONFIG"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:   "codelift",
		Short: "Update a deployed application in place",
		Long: "CodeLift checks the release server for new releases of an application,\n" +
			"and installs them without overwriting local changes to the installation.",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}

	defaultConfigPath := config.DefaultConfigPath
	if path := os.Getenv(configPathKey); path != "" {
		defaultConfigPath = path
	}
	rootCmd.PersistentFlags().StringVar(&util.ConfigPath, "config", defaultConfigPath,
		"Path to the CodeLift config")

	rootCmd.AddCommand(
		bugtool.New(),
		check.New(),
		configCmd.New(),
		update.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
