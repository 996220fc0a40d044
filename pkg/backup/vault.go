// Package backup protects the installation while it's being updated. Every
// path is captured into a snapshot before it's mutated, so that a failed
// update can be rolled back to exactly what was installed before.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/safiul0073/CodeLift/pkg/errors"
	"github.com/safiul0073/CodeLift/pkg/fileutil"
)

// snapshotIDLayout is the time portion of snapshot identifiers. Attempts
// within the same second are disambiguated by a random suffix.
const snapshotIDLayout = "20060102_150405"

// Vault manages the snapshots stored beneath a backup directory.
type Vault struct {
	fs    afero.Fs
	root  string
	clock clockwork.Clock
}

// Snapshot is the backup for a single update attempt.
type Snapshot struct {
	ID string

	// Dir is where the captured artifacts are stored.
	Dir string

	vault       *Vault
	installRoot string

	lock sync.Mutex

	// captured maps each relative path to whether it existed when it was
	// captured. Paths that didn't exist are removed on restore.
	captured map[string]bool
	order    []string
}

// NewVault creates a vault that stores snapshots beneath `root`.
func NewVault(fs afero.Fs, root string, clock clockwork.Clock) *Vault {
	return &Vault{fs: fs, root: root, clock: clock}
}

// BeginSnapshot allocates a new, empty snapshot for protecting `installRoot`.
func (vault *Vault) BeginSnapshot(installRoot string) (*Snapshot, error) {
	if err := vault.fs.MkdirAll(vault.root, 0755); err != nil {
		return nil, errors.WithContext(err, "make backup directory")
	}

	prefix := vault.clock.Now().Format(snapshotIDLayout)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("%s-%s", prefix, strings.Split(uuid.New().String(), "-")[0])
		dir := filepath.Join(vault.root, id)

		exists, err := afero.Exists(vault.fs, dir)
		if err != nil {
			return nil, errors.WithContext(err, "check snapshot")
		}
		if exists {
			continue
		}

		if err := vault.fs.MkdirAll(dir, 0700); err != nil {
			return nil, errors.WithContext(err, "make snapshot directory")
		}

		log.WithField("snapshot", id).Debug("Began backup snapshot")
		return &Snapshot{
			ID:          id,
			Dir:         dir,
			vault:       vault,
			installRoot: installRoot,
			captured:    map[string]bool{},
		}, nil
	}
	return nil, errors.New("failed to allocate a unique snapshot id")
}

// Capture saves the current state of `relPath` in the installation so that it
// can be restored later. Only the first capture of a path within a snapshot
// has any effect, since that's the state from before the update.
func (vault *Vault) Capture(snap *Snapshot, relPath string) error {
	relPath = filepath.Clean(filepath.FromSlash(relPath))
	if relPath == "." || filepath.IsAbs(relPath) || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || relPath == ".." {
		return fmt.Errorf("refusing to capture path outside installation: %q", relPath)
	}

	snap.lock.Lock()
	defer snap.lock.Unlock()

	if _, ok := snap.captured[relPath]; ok {
		return nil
	}

	target := filepath.Join(snap.installRoot, relPath)
	info, err := fileutil.Lstat(vault.fs, target)
	switch {
	case os.IsNotExist(err):
		// Nothing to protect. Remember that the path was absent, along with
		// the highest directory that the update will have to create for it.
		vault.recordAbsent(snap, relPath)
		return nil
	case err != nil:
		return errors.WithContext(err, "stat")
	}

	dst := filepath.Join(snap.Dir, relPath)
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		err = fileutil.CopySymlink(vault.fs, target, dst)
	case info.IsDir():
		err = fileutil.CopyDir(vault.fs, target, dst)
	case info.Mode().IsRegular():
		err = fileutil.CopyFile(vault.fs, target, dst)
	default:
		return fmt.Errorf("unsupported file type %s", info.Mode().Type())
	}
	if err != nil {
		return errors.WithContext(err, "copy into snapshot")
	}

	snap.captured[relPath] = true
	snap.order = append(snap.order, relPath)
	return nil
}

func (vault *Vault) recordAbsent(snap *Snapshot, relPath string) {
	highestMissing := relPath
	for parent := filepath.Dir(relPath); parent != "."; parent = filepath.Dir(parent) {
		exists, err := afero.Exists(vault.fs, filepath.Join(snap.installRoot, parent))
		if err != nil || exists {
			break
		}
		highestMissing = parent
	}

	for _, p := range []string{highestMissing, relPath} {
		if _, ok := snap.captured[p]; !ok {
			snap.captured[p] = false
			snap.order = append(snap.order, p)
		}
	}
}

// Captured returns the relative paths protected by the snapshot, including
// the paths that didn't exist before the update.
func (vault *Vault) Captured(snap *Snapshot) []string {
	snap.lock.Lock()
	defer snap.lock.Unlock()

	var paths []string
	for p := range snap.captured {
		paths = append(paths, filepath.ToSlash(p))
	}
	sort.Strings(paths)
	return paths
}

// Restore rolls the installation back to the captured state. It continues
// past failures so that as much as possible is restored, and returns an
// error describing every path that couldn't be.
func (vault *Vault) Restore(snap *Snapshot) error {
	snap.lock.Lock()
	defer snap.lock.Unlock()

	var failed []string
	for i := len(snap.order) - 1; i >= 0; i-- {
		relPath := snap.order[i]
		if err := vault.restorePath(snap, relPath, snap.captured[relPath]); err != nil {
			log.WithError(err).WithField("path", relPath).Warn("Failed to restore path")
			failed = append(failed, fmt.Sprintf("%s (%s)", filepath.ToSlash(relPath), err))
		}
	}

	if len(failed) != 0 {
		return fmt.Errorf("failed to restore %d path(s): %s",
			len(failed), strings.Join(failed, ", "))
	}

	log.WithField("snapshot", snap.ID).
		WithField("paths", len(snap.order)).
		Info("Restored installation from backup")
	return nil
}

func (vault *Vault) restorePath(snap *Snapshot, relPath string, existed bool) error {
	target := filepath.Join(snap.installRoot, relPath)
	if !existed {
		return errors.WithContext(vault.fs.RemoveAll(target), "remove")
	}

	// Check the backup before removing anything, so that a missing backup
	// doesn't also lose the current version.
	src := filepath.Join(snap.Dir, relPath)
	info, err := fileutil.Lstat(vault.fs, src)
	if err != nil {
		return errors.WithContext(err, "stat backup")
	}

	if err := vault.fs.RemoveAll(target); err != nil {
		return errors.WithContext(err, "remove")
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		err = fileutil.CopySymlink(vault.fs, src, target)
	case info.IsDir():
		err = fileutil.CopyDir(vault.fs, src, target)
	default:
		err = fileutil.CopyFile(vault.fs, src, target)
	}
	return errors.WithContext(err, "copy from snapshot")
}

// Discard deletes the snapshot. It can't be restored afterwards.
func (vault *Vault) Discard(snap *Snapshot) error {
	if err := vault.fs.RemoveAll(snap.Dir); err != nil {
		return errors.WithContext(err, "remove snapshot")
	}
	log.WithField("snapshot", snap.ID).Debug("Discarded backup snapshot")
	return nil
}

// Capture saves the current state of `relPath`. See Vault.Capture.
func (snap *Snapshot) Capture(relPath string) error {
	return snap.vault.Capture(snap, relPath)
}
