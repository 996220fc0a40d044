package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const installRoot = "/install"

var backupTime = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newTestVault(fs afero.Fs) *Vault {
	return NewVault(fs, "/install/storage/app/update-backup", clockwork.NewFakeClockAt(backupTime))
}

func TestBeginSnapshotUnique(t *testing.T) {
	fs := afero.NewMemMapFs()
	vault := newTestVault(fs)

	ids := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		snap, err := vault.BeginSnapshot(installRoot)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(snap.ID, "20240301_123000-"), snap.ID)

		_, dup := ids[snap.ID]
		assert.False(t, dup, "duplicate snapshot id %s", snap.ID)
		ids[snap.ID] = struct{}{}

		isDir, err := afero.DirExists(fs, snap.Dir)
		require.NoError(t, err)
		assert.True(t, isDir)
	}
}

func TestCaptureAndRestore(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/install/config/app.php", []byte("original"), 0640))
	require.NoError(t, afero.WriteFile(fs, "/install/public/js/app.js", []byte("js"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/install/public/css/app.css", []byte("css"), 0644))

	vault := newTestVault(fs)
	snap, err := vault.BeginSnapshot(installRoot)
	require.NoError(t, err)

	require.NoError(t, snap.Capture("config/app.php"))
	require.NoError(t, vault.Capture(snap, "public"))
	require.NoError(t, vault.Capture(snap, "routes/new.php"))

	// Only the first capture of a path counts.
	require.NoError(t, afero.WriteFile(fs, "/install/config/app.php", []byte("modified"), 0640))
	require.NoError(t, snap.Capture("config/app.php"))

	assert.Equal(t, []string{"config/app.php", "public", "routes", "routes/new.php"},
		vault.Captured(snap))

	// Simulate an update that partially went through.
	require.NoError(t, fs.RemoveAll("/install/public/css"))
	require.NoError(t, afero.WriteFile(fs, "/install/public/js/app.js", []byte("new js"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/install/public/js/extra.js", []byte("extra"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/install/routes/new.php", []byte("new"), 0644))

	require.NoError(t, vault.Restore(snap))

	for path, exp := range map[string]string{
		"/install/config/app.php":     "original",
		"/install/public/js/app.js":   "js",
		"/install/public/css/app.css": "css",
	} {
		contents, err := afero.ReadFile(fs, path)
		require.NoError(t, err, path)
		assert.Equal(t, exp, string(contents), path)
	}

	info, err := fs.Stat("/install/config/app.php")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	for _, path := range []string{"/install/public/js/extra.js", "/install/routes"} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.False(t, exists, path)
	}

	require.NoError(t, vault.Discard(snap))
	exists, err := afero.Exists(fs, snap.Dir)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCaptureRejectsEscapingPaths(t *testing.T) {
	fs := afero.NewMemMapFs()
	vault := newTestVault(fs)
	snap, err := vault.BeginSnapshot(installRoot)
	require.NoError(t, err)

	for _, path := range []string{"../etc/passwd", "/etc/passwd", ".", "a/../../b"} {
		assert.Error(t, snap.Capture(path), path)
	}
	assert.Empty(t, vault.Captured(snap))
}

func TestCaptureSymlink(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	root := filepath.Join(dir, "install")

	require.NoError(t, fs.MkdirAll(root, 0755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(root, "target.txt"), []byte("target"), 0644))
	require.NoError(t, os.Symlink("target.txt", filepath.Join(root, "link")))

	vault := NewVault(fs, filepath.Join(dir, "backups"), clockwork.NewFakeClockAt(backupTime))
	snap, err := vault.BeginSnapshot(root)
	require.NoError(t, err)
	require.NoError(t, snap.Capture("link"))

	require.NoError(t, os.Remove(filepath.Join(root, "link")))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(root, "link"), []byte("regular"), 0644))

	require.NoError(t, vault.Restore(snap))
	linkTarget, err := os.Readlink(filepath.Join(root, "link"))
	require.NoError(t, err)
	assert.Equal(t, "target.txt", linkTarget)
}

func TestRestoreContinuesPastFailures(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/install/a.txt", []byte("a"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/install/b.txt", []byte("b"), 0644))

	vault := newTestVault(fs)
	snap, err := vault.BeginSnapshot(installRoot)
	require.NoError(t, err)
	require.NoError(t, snap.Capture("a.txt"))
	require.NoError(t, snap.Capture("b.txt"))

	require.NoError(t, afero.WriteFile(fs, "/install/a.txt", []byte("new a"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/install/b.txt", []byte("new b"), 0644))

	// Lose the backup of one of the files.
	require.NoError(t, fs.Remove(filepath.Join(snap.Dir, "a.txt")))

	err = vault.Restore(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.txt")

	contents, err := afero.ReadFile(fs, "/install/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b", string(contents))

	// The file without a backup is left as it was.
	contents, err = afero.ReadFile(fs, "/install/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "new a", string(contents))
}
