package version

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/safiul0073/CodeLift/cmd/util"
	"github.com/safiul0073/CodeLift/pkg/version"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of CodeLift and of the installed application.",
		Run: func(_ *cobra.Command, args []string) {
			run()
		},
	}
}

func run() {
	fmt.Fprintf(stdout, "codelift version:    %s\n", version.Version)

	cfg, err := util.ParseConfig()
	if err != nil {
		log.WithError(err).Debug("Failed to parse config. Not printing the application version.")
		return
	}

	appVersion := cfg.CurrentVersion
	if appVersion == "" {
		appVersion = "unknown"
	}
	fmt.Fprintf(stdout, "application version: %s (%s)\n", appVersion, cfg.ApplicationName)
}
