package release

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/safiul0073/CodeLift/pkg/errors"
)

var (
	zipMagic  = []byte("PK")
	gzipMagic = []byte{0x1f, 0x8b}
)

// Extract unpacks the zip or gzipped tar archive at `archive` into `dst`.
// Anything already at `dst` is removed first. Any failure is returned as an
// ExtractionFailed error.
func Extract(fs afero.Fs, archive, dst string) error {
	if err := extract(fs, archive, dst); err != nil {
		return errors.ExtractionFailed{Archive: archive, Cause: err}
	}
	return nil
}

func extract(fs afero.Fs, archive, dst string) error {
	if err := fs.RemoveAll(dst); err != nil {
		return errors.WithContext(err, "remove old staging directory")
	}
	if err := fs.MkdirAll(dst, 0755); err != nil {
		return errors.WithContext(err, "make staging directory")
	}

	f, err := fs.Open(archive)
	if err != nil {
		return errors.WithContext(err, "open")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	magic := make([]byte, 2)
	if _, err := io.ReadFull(f, magic); err != nil {
		return errors.WithContext(err, "read header")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.WithContext(err, "seek")
	}

	var n int
	switch {
	case bytes.Equal(magic, zipMagic):
		n, err = extractZip(fs, f, info.Size(), dst)
	case bytes.Equal(magic, gzipMagic):
		n, err = extractTarGz(fs, f, dst)
	default:
		return errors.New("unrecognized archive format")
	}
	if err != nil {
		return err
	}

	log.WithField("archive", archive).
		WithField("files", n).
		Debug("Extracted release archive")
	return nil
}

func extractZip(fs afero.Fs, src io.ReaderAt, size int64, dst string) (int, error) {
	zr, err := zip.NewReader(src, size)
	if err != nil {
		return 0, errors.WithContext(err, "read zip")
	}

	var n int
	for _, entry := range zr.File {
		target, err := stagedPath(dst, entry.Name)
		if err != nil {
			return n, err
		}

		mode := entry.Mode()
		switch {
		case mode.IsDir():
			if err := fs.MkdirAll(target, 0755); err != nil {
				return n, errors.WithContext(err, "make directory")
			}
			continue
		case !mode.IsRegular():
			log.WithField("entry", entry.Name).Debug("Ignoring archive entry that isn't a regular file")
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return n, errors.WithContext(err, "open "+entry.Name)
		}
		err = writeFile(fs, target, rc, mode.Perm())
		rc.Close()
		if err != nil {
			return n, errors.WithContext(err, "write "+entry.Name)
		}
		n++
	}
	return n, nil
}

func extractTarGz(fs afero.Fs, src io.Reader, dst string) (int, error) {
	gzr, err := gzip.NewReader(src)
	if err != nil {
		return 0, errors.WithContext(err, "new gzip reader")
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	var n int
	for {
		header, err := tr.Next()
		switch {
		case err == io.EOF:
			return n, nil
		case err != nil:
			return n, errors.WithContext(err, "read tar header")
		case header == nil:
			continue
		}

		target, err := stagedPath(dst, header.Name)
		if err != nil {
			return n, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(target, 0755); err != nil {
				return n, errors.WithContext(err, "make directory")
			}
		case tar.TypeReg:
			if err := writeFile(fs, target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return n, errors.WithContext(err, "write "+header.Name)
			}
			n++
		default:
			log.WithField("entry", header.Name).Debug("Ignoring archive entry that isn't a regular file")
		}
	}
}

// stagedPath returns where the archive entry `name` should be extracted to.
// Entries that would be written outside of `dst` are rejected.
func stagedPath(dst, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if path.IsAbs(name) || filepath.VolumeName(name) != "" || hasParentRef(name) {
		return "", fmt.Errorf("archive entry %q escapes the staging directory", name)
	}
	return filepath.Join(dst, filepath.FromSlash(path.Clean(name))), nil
}

func hasParentRef(name string) bool {
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

func writeFile(fs afero.Fs, target string, contents io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0644
	}

	if err := fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}

	f, err := fs.OpenFile(target, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return errors.WithContext(err, "create")
	}
	defer f.Close()

	if _, err := io.Copy(f, contents); err != nil {
		return errors.WithContext(err, "copy")
	}
	return f.Close()
}
