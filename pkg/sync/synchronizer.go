package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/safiul0073/CodeLift/pkg/errors"
	"github.com/safiul0073/CodeLift/pkg/fileutil"
)

// Mocked for unit testing.
var copyFile = fileutil.CopyFile

// Classification is the decision made for a single staged file.
type Classification int

const (
	// Unchanged files match what was tracked, and weren't touched.
	Unchanged Classification = iota

	// Applied files were copied from the staged release.
	Applied

	// LocallyModified files were edited by the operator, and were preserved.
	LocallyModified

	// Skipped files couldn't be processed safely, and were left alone.
	Skipped
)

func (c Classification) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case Applied:
		return "applied"
	case LocallyModified:
		return "locally modified"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// Report describes what happened to each staged file.
type Report struct {
	Applied         []string
	Unchanged       []string
	LocallyModified []string
	Skipped         []string

	// Excluded is the number of staged paths that matched an exclusion rule.
	Excluded int

	// Failures holds the reason each skipped file was skipped.
	Failures map[string]error
}

func (r *Report) record(relPath string, c Classification) {
	switch c {
	case Unchanged:
		r.Unchanged = append(r.Unchanged, relPath)
	case Applied:
		r.Applied = append(r.Applied, relPath)
	case LocallyModified:
		r.LocallyModified = append(r.LocallyModified, relPath)
	case Skipped:
		r.Skipped = append(r.Skipped, relPath)
	}
}

// Classification returns how `relPath` was classified.
func (r Report) Classification(relPath string) (Classification, bool) {
	for c, paths := range map[Classification][]string{
		Unchanged:       r.Unchanged,
		Applied:         r.Applied,
		LocallyModified: r.LocallyModified,
		Skipped:         r.Skipped,
	} {
		for _, p := range paths {
			if p == relPath {
				return c, true
			}
		}
	}
	return 0, false
}

// Capturer protects a path in the installation before it's overwritten.
type Capturer interface {
	Capture(relPath string) error
}

// Result is the outcome of a successful synchronization.
type Result struct {
	Manifest Manifest
	Report   Report
}

// Synchronizer installs staged files into an installation.
type Synchronizer struct {
	fs              afero.Fs
	store           *TrackingStore
	excluder        Excluder
	alwaysOverwrite map[string]struct{}
	clock           clockwork.Clock
}

// NewSynchronizer creates a Synchronizer that persists its manifest to
// `store`. Files in `alwaysOverwrite` are replaced by the staged version even
// if they were edited locally.
func NewSynchronizer(fs afero.Fs, store *TrackingStore, excluder Excluder,
	alwaysOverwrite []string, clock clockwork.Clock) *Synchronizer {
	overwrite := map[string]struct{}{}
	for _, p := range alwaysOverwrite {
		overwrite[filepath.ToSlash(filepath.Clean(p))] = struct{}{}
	}

	return &Synchronizer{
		fs:              fs,
		store:           store,
		excluder:        excluder,
		alwaysOverwrite: overwrite,
		clock:           clock,
	}
}

// Synchronize installs the files under `stagedRoot` into `installRoot`, and
// persists the resulting manifest. Every file is captured into `backup`
// before it's overwritten.
//
// Problems with individual files are recorded in the report, and don't fail
// the synchronization. An error is only returned if the staged tree can't be
// read, the context is cancelled, or the manifest can't be saved. The
// installation may have been partially modified in that case, and should be
// restored from the backup.
func (s *Synchronizer) Synchronize(ctx context.Context, stagedRoot, installRoot string,
	prev Manifest, force bool, backup Capturer) (Result, error) {
	rootInfo, err := s.fs.Stat(stagedRoot)
	if err != nil {
		return Result{}, errors.WithContext(err, "read staged root")
	}
	if !rootInfo.IsDir() {
		return Result{}, fmt.Errorf("staged root %q is not a directory", stagedRoot)
	}

	next := NewManifest()
	report := Report{Failures: map[string]error{}}

	walkErr := afero.Walk(s.fs, stagedRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == stagedRoot {
				return err
			}
			log.WithError(err).WithField("path", path).Warn("Failed to read staged path. Skipping.")
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(stagedRoot, path)
		if err != nil {
			return errors.WithContext(err, "relative path")
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if s.excluder.Excluded(rel) {
			report.Excluded++
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			return nil
		}

		if !info.Mode().IsRegular() {
			log.WithField("path", rel).
				WithField("mode", info.Mode().String()).
				Debug("Ignoring staged path that isn't a regular file")
			return nil
		}

		c, entry, err := s.syncFile(stagedRoot, installRoot, rel, prev, force, backup)
		if err != nil {
			log.WithError(err).WithField("path", rel).Warn("Failed to sync file. Skipping.")
			report.Failures[rel] = err
		}
		report.record(rel, c)
		if entry != nil {
			next.Add(*entry)
		}
		return nil
	})
	if walkErr != nil {
		return Result{}, errors.WithContext(walkErr, "walk staged files")
	}

	next.GeneratedAt = s.clock.Now()
	if err := s.store.Save(next); err != nil {
		return Result{}, errors.WithContext(err, "save tracking manifest")
	}

	logFields := log.Fields{
		"applied":         len(report.Applied),
		"unchanged":       len(report.Unchanged),
		"locallyModified": len(report.LocallyModified),
		"skipped":         len(report.Skipped),
		"excluded":        report.Excluded,
	}
	if len(report.Applied) > 0 {
		logFields["appliedFiles"] = truncateSlice(report.Applied, 5)
	}
	if len(report.LocallyModified) > 0 {
		logFields["preservedFiles"] = truncateSlice(report.LocallyModified, 5)
	}
	log.WithFields(logFields).Info("Synced files")

	return Result{Manifest: next, Report: report}, nil
}

// syncFile decides what to do with a single staged file, and does it. It
// returns the entry that should be tracked for the file, if any.
func (s *Synchronizer) syncFile(stagedRoot, installRoot, rel string, prev Manifest,
	force bool, backup Capturer) (Classification, *Entry, error) {
	prevEntry, tracked := prev.Get(rel)

	// Keep tracking the previous version if this file can't be processed, so
	// that it's retried on the next update.
	skip := func(err error) (Classification, *Entry, error) {
		if tracked {
			return Skipped, &prevEntry, err
		}
		return Skipped, nil, err
	}

	source, err := HashFile(s.fs, filepath.Join(stagedRoot, filepath.FromSlash(rel)))
	if err != nil {
		return skip(errors.WithContext(err, "hash staged file"))
	}

	// The staged file is the same as what was installed last time, so there's
	// nothing to do. The installed file isn't read.
	if tracked && prevEntry.Fingerprint() == source {
		return Unchanged, &prevEntry, nil
	}

	target := filepath.Join(installRoot, filepath.FromSlash(rel))
	targetInfo, err := fileutil.Lstat(s.fs, target)
	targetExists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return skip(errors.WithContext(err, "stat installed file"))
	}

	// Edits reached through a symlink are judged by the file it points to.
	// Links that dangle or point at a directory can't be classified.
	if targetExists && targetInfo.Mode()&os.ModeSymlink != 0 {
		targetInfo, err = s.fs.Stat(target)
		if err != nil {
			return skip(errors.WithContext(err, "resolve installed symlink"))
		}
	}

	if targetExists && targetInfo.IsDir() {
		return skip(fmt.Errorf("installed path %q is a directory", rel))
	}

	_, alwaysOverwrite := s.alwaysOverwrite[rel]
	if targetExists && !force && !alwaysOverwrite && targetInfo.Mode().IsRegular() {
		installed, err := HashFile(s.fs, target)
		if err != nil {
			return skip(errors.WithContext(err, "hash installed file"))
		}

		// The installed file was edited since it was last tracked. Preserve
		// the edit, and treat it as the new baseline.
		wasEdited := !tracked || installed != prevEntry.Fingerprint()
		if installed != source && wasEdited {
			entry := NewEntry(rel, installed)
			return LocallyModified, &entry, nil
		}
	}

	if err := backup.Capture(rel); err != nil {
		return skip(errors.WithContext(err, "backup installed file"))
	}

	if err := copyFile(s.fs, filepath.Join(stagedRoot, filepath.FromSlash(rel)), target); err != nil {
		return skip(errors.WithContext(err, "copy"))
	}

	entry := NewEntry(rel, source)
	return Applied, &entry, nil
}

// truncateSlice truncates the given slice of strings to the given length. If
// the slice is longer than `length`, a message is appended saying how many
// more items are in the slice.
func truncateSlice(slc []string, length int) (truncated []string) {
	if len(slc) <= length {
		return slc
	}
	msg := fmt.Sprintf("... %d more ...", len(slc)-length)
	return append(append([]string{}, slc[:length]...), msg)
}
