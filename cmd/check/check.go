package check

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/safiul0073/CodeLift/cmd/util"
	"github.com/safiul0073/CodeLift/pkg/errors"
	"github.com/safiul0073/CodeLift/pkg/pipeline"
	"github.com/safiul0073/CodeLift/pkg/release"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

type options struct {
	path   string
	origin string
	strict bool
}

// New creates a new `check` command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a new release is available",
		Long: "Ask the release server whether a newer release of the application\n" +
			"is available, and print its release notes.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&opts.path, "path", "",
		"Override the version check endpoint. Either a path on the release server or a full URL.")
	cmd.Flags().StringVar(&opts.origin, "ip", "",
		"The address reported to the release server. Defaults to this machine's address.")
	cmd.Flags().BoolVar(&opts.strict, "strict", false,
		"Fail if the release server can't be reached, rather than reporting no update.")
	return cmd
}

func run(opts options) error {
	cfg, err := util.ParseConfig()
	if err != nil {
		return errors.WithContext(err, "parse config")
	}

	if opts.origin == "" {
		opts.origin = util.GuessOrigin()
	}

	pp := util.NewProgressPrinter(stdout, "Checking for updates..")
	go pp.Run()
	descriptor, err := pipeline.NewChecker(cfg, opts.path, opts.strict).
		Check(context.Background(), opts.origin)
	pp.StopWithPrint(util.ClearProgress)
	if err != nil {
		return errors.WithContext(err, "check for updates")
	}

	printDescriptor(stdout, descriptor, cfg.CurrentVersion)
	return nil
}

func printDescriptor(out io.Writer, descriptor release.Descriptor, currentVersion string) {
	if !descriptor.Available {
		fmt.Fprintln(out, util.Success("The application is up to date."))
		return
	}

	newer, err := descriptor.NewerThan(currentVersion)
	if err == nil && !newer {
		fmt.Fprintf(out, "%s The release server offered %s, which isn't newer than %s.\n",
			util.Warning("Warning:"), descriptor.Version, currentVersion)
	}

	msg := "A new release is available."
	if descriptor.Version != "" {
		msg = fmt.Sprintf("Release %s is available.", descriptor.Version)
	}
	fmt.Fprintln(out, util.Success(msg))
	fmt.Fprintln(out)
	util.PrintChangeLog(out, descriptor.ChangeLog)

	if descriptor.DownloadURL == "" {
		fmt.Fprintln(out, util.Warning("The release server didn't provide a download for it."))
		return
	}
	fmt.Fprintln(out, "Run `codelift update` to install it.")
}
