package update

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/safiul0073/CodeLift/cmd/util"
	"github.com/safiul0073/CodeLift/pkg/config"
	"github.com/safiul0073/CodeLift/pkg/errors"
	"github.com/safiul0073/CodeLift/pkg/pipeline"
	"github.com/safiul0073/CodeLift/pkg/release"
)

// Mocked for unit testing.
var (
	stdout        io.Writer = os.Stdout
	fs                      = afero.NewOsFs()
	clock                   = clockwork.NewRealClock()
	promptYesOrNo           = util.PromptYesOrNo
)

type options struct {
	fileURL       string
	force         bool
	resetTracking bool
	yes           bool
	origin        string
	userAgent     string
	checkPath     string
}

// New creates a new `update` command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "update [archive URL or path]",
		Short: "Install a new release of the application",
		Long: "Download a release archive and install it into the application.\n\n" +
			"Files that were edited locally since the last update are kept, and\n" +
			"listed once the update completes. If any step of the update fails,\n" +
			"the application is restored to how it was before the update.\n\n" +
			"If no archive is given, the release server is asked for the newest release.",
		Args: cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if len(args) == 1 {
				opts.fileURL = args[0]
			}
			if err := run(opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&opts.force, "force", false,
		"Overwrite files that were edited locally.")
	cmd.Flags().BoolVar(&opts.resetTracking, "reset-tracking", false,
		"Ignore what previous updates installed, and treat every file that differs "+
			"from the release as a local edit.")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false,
		"Install the newest release without prompting.")
	cmd.Flags().StringVar(&opts.origin, "ip", "",
		"The address reported to the release server. Defaults to this machine's address.")
	cmd.Flags().StringVar(&opts.userAgent, "user-agent", "",
		"The user agent reported to the release server.")
	cmd.Flags().StringVar(&opts.checkPath, "check-path", "",
		"Override the version check endpoint.")
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if opts.fileURL == "" {
		fileURL, ok, err := chooseRelease(ctx, cfg, opts)
		if err != nil || !ok {
			return err
		}
		opts.fileURL = fileURL
	}

	p, err := pipeline.FromConfig(cfg, fs, clock)
	if err != nil {
		return errors.WithContext(err, "setup update")
	}

	pp := util.NewProgressPrinter(stdout, "Updating "+cfg.ApplicationName+"..")
	go pp.Run()
	res, err := p.Process(ctx, pipeline.Request{
		FileURL:       opts.fileURL,
		ForceApply:    opts.force,
		ResetTracking: opts.resetTracking,
		Origin:        opts.origin,
		UserAgent:     opts.userAgent,
	})
	pp.StopWithPrint(util.ClearProgress)
	if err != nil {
		return explain(err)
	}

	printResult(stdout, res)
	return nil
}

// chooseRelease asks the release server for the newest release, and confirms
// with the user that it should be installed.
func chooseRelease(ctx context.Context, cfg config.Config, opts options) (string, bool, error) {
	checker := pipeline.NewChecker(cfg, opts.checkPath, true)
	descriptor, err := checker.Check(ctx, opts.origin)
	if err != nil {
		return "", false, errors.WithContext(err, "check for updates")
	}

	if !descriptor.Available {
		fmt.Fprintln(stdout, util.Success("The application is already up to date."))
		return "", false, nil
	}
	if descriptor.DownloadURL == "" {
		return "", false, errors.NewFriendlyError("A new release is available, but the " +
			"release server didn't provide a download for it.")
	}

	printRelease(stdout, descriptor)
	if opts.yes {
		return descriptor.DownloadURL, true, nil
	}

	shouldUpdate, err := promptYesOrNo("Install it now?")
	if err != nil {
		return "", false, errors.WithContext(err, "prompt")
	}
	if !shouldUpdate {
		fmt.Fprintln(stdout, "Update aborted.")
		return "", false, nil
	}
	return descriptor.DownloadURL, true, nil
}

func printRelease(out io.Writer, descriptor release.Descriptor) {
	if descriptor.Version != "" {
		fmt.Fprintf(out, "Release %s is available.\n\n", descriptor.Version)
	} else {
		fmt.Fprintln(out, "A new release is available.")
		fmt.Fprintln(out)
	}
	util.PrintChangeLog(out, descriptor.ChangeLog)
}

// explain turns update errors into messages that tell the user what state
// the application was left in.
func explain(err error) error {
	var updateErr errors.UpdateFailed
	switch {
	case errors.Is(err, errors.ErrUpdateInProgress):
		return errors.NewFriendlyError("Another update of this application is already " +
			"running. Wait for it to finish before trying again.")
	case errors.As(err, &updateErr) && updateErr.RestoreErr != nil:
		return errors.NewFriendlyError("%s The update failed, and the application could "+
			"not be fully restored.\n\nUpdate error: %s\nRestore error: %s\n\n"+
			"The backup was kept in the update-backup directory for manual recovery.",
			util.Failure("Error:"), updateErr.Cause, updateErr.RestoreErr)
	case errors.As(err, &updateErr):
		return errors.NewFriendlyError("%s The update failed, and the application was "+
			"restored to how it was before the update.\n\nUpdate error: %s",
			util.Failure("Error:"), updateErr.Cause)
	}

	if _, ok := errors.GetFriendlyMessage(err); ok {
		return err
	}
	return errors.NewFriendlyError("%s The update failed before the application was "+
		"modified.\n\n%s", util.Failure("Error:"), err)
}

func printResult(out io.Writer, res pipeline.Result) {
	fmt.Fprintln(out, util.Success("Update complete."))
	fmt.Fprintf(out, "%d files updated, %d unchanged.\n",
		len(res.Report.Applied), len(res.Report.Unchanged))

	if len(res.Report.LocallyModified) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, util.Warning("The following files were edited locally, and were not updated:"))
		for _, path := range res.Report.LocallyModified {
			fmt.Fprintf(out, "\t* %s\n", path)
		}
		fmt.Fprintln(out, "Run `codelift update --force` with the same release to overwrite them.")
	}

	if len(res.Report.Skipped) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, util.Warning("The following files could not be updated, and will be "+
			"retried on the next update:"))
		for _, path := range res.Report.Skipped {
			fmt.Fprintf(out, "\t* %s: %s\n", path, res.Report.Failures[path])
		}
	}

	if res.NotifyErr != nil {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s Failed to report the update to the release server: %s\n",
			util.Warning("Warning:"), res.NotifyErr)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, res.Manifest.Summary())
}
