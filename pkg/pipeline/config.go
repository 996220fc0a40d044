package pipeline

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/safiul0073/CodeLift/pkg/analytics"
	"github.com/safiul0073/CodeLift/pkg/backup"
	"github.com/safiul0073/CodeLift/pkg/config"
	"github.com/safiul0073/CodeLift/pkg/errors"
	"github.com/safiul0073/CodeLift/pkg/lifecycle"
	"github.com/safiul0073/CodeLift/pkg/lock"
	"github.com/safiul0073/CodeLift/pkg/release"
	"github.com/safiul0073/CodeLift/pkg/sync"
)

// FromConfig creates a Pipeline that updates the installation described by
// `cfg`.
func FromConfig(cfg config.Config, fs afero.Fs, clock clockwork.Clock) (*Pipeline, error) {
	excluder, err := sync.NewExcluder(Excludes(cfg), cfg.Exclude)
	if err != nil {
		return nil, errors.WithContext(err, "exclude patterns")
	}

	store := sync.NewTrackingStore(fs, cfg.TrackingPath())
	commands := lifecycle.NewCommands(cfg.InstallRoot, cfg.Commands)

	// Archives can be large, so only the wait for the server to respond is
	// bounded when downloading them.
	downloadTransport := http.DefaultTransport.(*http.Transport).Clone()
	downloadTransport.ResponseHeaderTimeout = cfg.Timeout()
	downloadClient := &http.Client{Transport: downloadTransport}

	return New(Deps{
		Fs: fs,
		Paths: Paths{
			InstallRoot: cfg.InstallRoot,
			Archive:     cfg.ArchivePath(),
			Staging:     cfg.StagingDir(),
		},
		MaintenanceSecret: cfg.MaintenanceSecret,
		Lock:              lock.New(cfg.LockPath()),
		Fetcher:           release.NewFetcher(fs, downloadClient),
		Extract:           release.Extract,
		Store:             store,
		Synchronizer:      sync.NewSynchronizer(fs, store, excluder, cfg.AlwaysOverwrite, clock),
		Vault:             backup.NewVault(fs, cfg.BackupDir(), clock),
		Gate:              commands,
		PostSteps:         commands,
		Notifier: analytics.NewNotifier(cfg.UpdateLogURL(), cfg.ApplicationName,
			&http.Client{Timeout: cfg.Timeout()}),
	}), nil
}

// Excludes returns the path prefixes that are never synchronized into the
// installation described by `cfg`.
func Excludes(cfg config.Config) []string {
	excludes := append([]string{}, sync.DefaultExcludes...)
	excludes = append(excludes, config.TrackingFileName, config.LockFileName)

	// The update's own working files must never be treated as part of the
	// release, even if the storage directory was moved.
	if rel, err := filepath.Rel(cfg.InstallRoot, cfg.StorageDir); err == nil &&
		rel != "." && !strings.HasPrefix(rel, "..") {
		excludes = append(excludes, filepath.ToSlash(rel))
	}
	return excludes
}

// NewChecker creates a version checker for the installation described by
// `cfg`. A non-empty `overridePath` replaces the configured check endpoint.
func NewChecker(cfg config.Config, overridePath string, strict bool) release.Checker {
	return release.Checker{
		Client:         &http.Client{Timeout: cfg.Timeout()},
		URL:            cfg.VersionCheckURL(overridePath),
		Slug:           cfg.ApplicationName,
		CurrentVersion: cfg.CurrentVersion,
		Strict:         strict,
	}
}
