// Package fileutil contains the filesystem primitives shared by the
// synchronizer and the backup vault.
package fileutil

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/safiul0073/CodeLift/pkg/errors"
)

// CopyFile copies the regular file at `src` to `dst`, preserving its mode and
// modification time. The contents are written to a temporary file next to
// `dst` and renamed into place, so `dst` is never left half-written.
func CopyFile(fs afero.Fs, src, dst string) error {
	dstParent := filepath.Dir(dst)
	if err := fs.MkdirAll(dstParent, 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}

	srcFile, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	tmpFile, err := afero.TempFile(fs, dstParent, "."+filepath.Base(dst)+".codelift-*")
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	tmpPath := tmpFile.Name()

	// Clean up the temporary file unless it was renamed into place.
	renamed := false
	defer func() {
		if !renamed {
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		tmpFile.Close()
		return errors.WithContext(err, "copy")
	}
	if err := tmpFile.Close(); err != nil {
		return errors.WithContext(err, "close destination")
	}

	if err := fs.Chmod(tmpPath, fileInfo.Mode().Perm()); err != nil {
		return errors.WithContext(err, "set file mode")
	}

	// Change the modification time as the last step so that it doesn't get
	// reset by other file operations.
	if err := fs.Chtimes(tmpPath, time.Now(), fileInfo.ModTime()); err != nil {
		return errors.WithContext(err, "set file modtime")
	}

	if err := fs.Rename(tmpPath, dst); err != nil {
		return errors.WithContext(err, "rename into place")
	}
	renamed = true
	return nil
}

// CopyDir recursively copies the directory tree at `src` to `dst`. Symbolic
// links are re-created rather than followed.
func CopyDir(fs afero.Fs, src, dst string) error {
	return afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return errors.WithContext(err, "relative path")
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return fs.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode()&os.ModeSymlink != 0:
			return CopySymlink(fs, path, target)
		case info.Mode().IsRegular():
			return CopyFile(fs, path, target)
		default:
			// Sockets, devices and the like aren't part of an installation.
			return nil
		}
	})
}

// CopySymlink re-creates the symbolic link at `src` at `dst`, replacing
// whatever `dst` currently is.
func CopySymlink(fs afero.Fs, src, dst string) error {
	reader, ok := fs.(afero.LinkReader)
	if !ok {
		return errors.New("filesystem does not support reading symlinks")
	}
	linker, ok := fs.(afero.Linker)
	if !ok {
		return errors.New("filesystem does not support creating symlinks")
	}

	linkTarget, err := reader.ReadlinkIfPossible(src)
	if err != nil {
		return errors.WithContext(err, "read link")
	}

	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}
	if err := fs.Remove(dst); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove existing")
	}
	if err := linker.SymlinkIfPossible(linkTarget, dst); err != nil {
		return errors.WithContext(err, "create link")
	}
	return nil
}

// Lstat returns the FileInfo for `path` without following a trailing
// symlink when the filesystem supports it.
func Lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if lstater, ok := fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(path)
		return info, err
	}
	return fs.Stat(path)
}
