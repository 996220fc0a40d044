// Package pipeline drives a single update attempt: it fetches and stages the
// release, synchronizes it into the installation under maintenance mode, and
// either finishes the update or rolls the installation back.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/safiul0073/CodeLift/pkg/backup"
	"github.com/safiul0073/CodeLift/pkg/errors"
	"github.com/safiul0073/CodeLift/pkg/lifecycle"
	"github.com/safiul0073/CodeLift/pkg/sync"
)

// State is a step of the update state machine.
type State string

const (
	Idle          State = "Idle"
	Fetching      State = "Fetching"
	Staging       State = "Staging"
	Synchronizing State = "Synchronizing"
	PostSteps     State = "PostSteps"
	Cleanup       State = "Cleanup"
	Done          State = "Done"
	RollingBack   State = "RollingBack"
	Failed        State = "Failed"
)

// Locker serializes update attempts.
type Locker interface {
	TryAcquire() (release func(), err error)
}

// Fetcher retrieves the release archive at `src` into `dst`.
type Fetcher interface {
	Fetch(ctx context.Context, src, dst string) error
}

// Extractor unpacks `archive` into `dst`.
type Extractor func(fs afero.Fs, archive, dst string) error

// Synchronizer installs the staged release.
type Synchronizer interface {
	Synchronize(ctx context.Context, stagedRoot, installRoot string, prev sync.Manifest,
		force bool, backup sync.Capturer) (sync.Result, error)
}

// Notifier reports a completed update.
type Notifier interface {
	Notify(ctx context.Context, origin, userAgent string) error
}

// Paths are the locations used by an update attempt.
type Paths struct {
	InstallRoot string
	Archive     string
	Staging     string
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Fs                afero.Fs
	Paths             Paths
	MaintenanceSecret string

	Lock         Locker
	Fetcher      Fetcher
	Extract      Extractor
	Store        *sync.TrackingStore
	Synchronizer Synchronizer
	Vault        *backup.Vault
	Gate         lifecycle.Gate
	PostSteps    lifecycle.PostSteps
	Notifier     Notifier
}

// Request describes an update attempt.
type Request struct {
	// FileURL is the location of the release archive.
	FileURL string

	// ForceApply overwrites locally modified files.
	ForceApply bool

	// ResetTracking ignores the tracking manifest, as if this were the first
	// update.
	ResetTracking bool

	// Origin and UserAgent identify who requested the update to the release
	// authority.
	Origin    string
	UserAgent string
}

// Result is the outcome of an update attempt.
type Result struct {
	State    State
	Report   sync.Report
	Manifest sync.Manifest

	// NotifyErr is set if the update succeeded, but couldn't be reported to
	// the release authority.
	NotifyErr error
}

// Pipeline runs update attempts.
type Pipeline struct {
	Deps

	transitions       []State
	maintenanceExited bool
}

// New creates a Pipeline from its collaborators.
func New(deps Deps) *Pipeline {
	return &Pipeline{Deps: deps}
}

// Transitions returns the states visited by the last call to Process.
func (p *Pipeline) Transitions() []State {
	return append([]State{}, p.transitions...)
}

func (p *Pipeline) enter(s State) {
	p.transitions = append(p.transitions, s)
	log.WithField("state", s).Debug("Update state changed")
}

// Process runs one update attempt. On success the installation contains the
// release, except for the locally modified files listed in the report. If an
// error is returned after the installation started being modified, it's an
// UpdateFailed, and the installation has been restored.
func (p *Pipeline) Process(ctx context.Context, req Request) (Result, error) {
	p.transitions = nil
	p.maintenanceExited = false
	p.enter(Idle)

	release, err := p.Lock.TryAcquire()
	if err != nil {
		return p.fail(err)
	}
	defer release()

	p.enter(Fetching)

	// Neither the archive nor the staged release is needed after this
	// attempt, regardless of how it ends.
	defer p.removeArtifacts()

	if err := p.Fetcher.Fetch(ctx, req.FileURL, p.Paths.Archive); err != nil {
		var fetchErr errors.FetchFailed
		if !errors.As(err, &fetchErr) {
			err = errors.FetchFailed{URL: req.FileURL, Cause: err}
		}
		return p.fail(err)
	}

	p.enter(Staging)
	if err := p.Extract(p.Fs, p.Paths.Archive, p.Paths.Staging); err != nil {
		var extractErr errors.ExtractionFailed
		if !errors.As(err, &extractErr) {
			err = errors.ExtractionFailed{Archive: p.Paths.Archive, Cause: err}
		}
		return p.fail(err)
	}

	prev := sync.NewManifest()
	if req.ResetTracking {
		log.Info("Ignoring tracked state. All files will be compared against the installation.")
	} else {
		prev, err = p.Store.Load()
		if err != nil {
			return p.fail(err)
		}
	}

	p.enter(Synchronizing)

	// Maintenance mode is always exited, even if entering it failed, since
	// it may have partially taken effect.
	if err := p.Gate.EnterMaintenance(ctx, p.MaintenanceSecret); err != nil {
		log.WithError(err).Warn("Failed to enter maintenance mode. Continuing with the update.")
	}
	defer p.exitMaintenance(ctx)

	snap, err := p.Vault.BeginSnapshot(p.Paths.InstallRoot)
	if err != nil {
		return p.fail(errors.WithContext(err, "begin backup snapshot"))
	}

	// The manifest is rolled back along with the files it describes.
	trackingRel, err := filepath.Rel(p.Paths.InstallRoot, p.Store.Path())
	if err == nil && !strings.HasPrefix(trackingRel, "..") {
		if err := snap.Capture(trackingRel); err != nil {
			return p.rollback(ctx, snap, errors.WithContext(err, "backup tracking manifest"))
		}
	}

	syncResult, err := p.Synchronizer.Synchronize(ctx, p.Paths.Staging, p.Paths.InstallRoot,
		prev, req.ForceApply, snap)
	if err != nil {
		return p.rollback(ctx, snap, errors.WithContext(err, "synchronize"))
	}

	p.enter(PostSteps)
	if err := p.runPostSteps(ctx); err != nil {
		return p.rollback(ctx, snap, err)
	}

	if err := p.Vault.Discard(snap); err != nil {
		log.WithError(err).WithField("snapshot", snap.Dir).Warn("Failed to remove backup snapshot")
	}

	p.enter(Cleanup)
	p.exitMaintenance(ctx)

	res := Result{
		Report:   syncResult.Report,
		Manifest: syncResult.Manifest,
	}
	if err := p.Notifier.Notify(ctx, req.Origin, req.UserAgent); err != nil {
		log.WithError(err).Warn("Failed to report the update to the release server")
		res.NotifyErr = err
	}

	p.enter(Done)
	res.State = Done
	log.WithField("summary", res.Manifest.Summary()).Info("Update complete")
	return res, nil
}

func (p *Pipeline) runPostSteps(ctx context.Context) error {
	if err := p.PostSteps.InstallDependencies(ctx); err != nil {
		return errors.WithContext(err, "install dependencies")
	}
	if err := p.PostSteps.ClearCaches(ctx); err != nil {
		return errors.WithContext(err, "clear caches")
	}
	if err := p.PostSteps.RunMigrations(ctx, true); err != nil {
		return errors.WithContext(err, "run migrations")
	}
	return nil
}

// rollback restores the installation after a failure that happened after it
// started being modified.
func (p *Pipeline) rollback(ctx context.Context, snap *backup.Snapshot, cause error) (Result, error) {
	p.enter(RollingBack)
	log.WithError(cause).Error("Update failed. Restoring the installation from backup.")

	restoreErr := p.Vault.Restore(snap)
	if restoreErr == nil {
		if err := p.Vault.Discard(snap); err != nil {
			log.WithError(err).WithField("snapshot", snap.Dir).Warn("Failed to remove backup snapshot")
		}
	} else {
		log.WithError(restoreErr).WithField("snapshot", snap.Dir).
			Error("Failed to fully restore the installation. The backup was kept for manual recovery.")
	}

	p.exitMaintenance(ctx)
	return p.fail(errors.UpdateFailed{Cause: cause, RestoreErr: restoreErr})
}

func (p *Pipeline) fail(err error) (Result, error) {
	p.enter(Failed)
	return Result{State: Failed}, err
}

// exitMaintenance is safe to call more than once per attempt. It ignores
// cancellation of `ctx` so that the application is brought back online even
// if the update timed out.
func (p *Pipeline) exitMaintenance(ctx context.Context) {
	if p.maintenanceExited {
		return
	}
	p.maintenanceExited = true

	if err := p.Gate.ExitMaintenance(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Error("Failed to exit maintenance mode. " +
			"The application must be brought back online manually.")
	}
}

func (p *Pipeline) removeArtifacts() {
	if err := p.Fs.Remove(p.Paths.Archive); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("path", p.Paths.Archive).Warn("Failed to remove release archive")
	}
	if err := p.Fs.RemoveAll(p.Paths.Staging); err != nil {
		log.WithError(err).WithField("path", p.Paths.Staging).Warn("Failed to remove staging directory")
	}
}

func (s State) String() string {
	return string(s)
}
