package release

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safiul0073/CodeLift/pkg/errors"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		strict        bool
		expDescriptor Descriptor
		expErr        bool
	}{
		{
			name:   "Available",
			status: http.StatusOK,
			body: `{"is_update_available": true, "update_logs": ["Fixed login", "New dashboard"],
				"file_path": "https://releases.example.com/shop-1.3.0.zip", "version": "1.3.0"}`,
			expDescriptor: Descriptor{
				Available:   true,
				ChangeLog:   []string{"Fixed login", "New dashboard"},
				DownloadURL: "https://releases.example.com/shop-1.3.0.zip",
				Version:     "1.3.0",
			},
		},
		{
			name:          "NotAvailable",
			status:        http.StatusOK,
			body:          `{"is_update_available": false}`,
			expDescriptor: NoUpdate(),
		},
		{
			name:          "ServerError",
			status:        http.StatusInternalServerError,
			body:          `{"is_update_available": true}`,
			expDescriptor: NoUpdate(),
		},
		{
			name:          "Unparsable",
			status:        http.StatusOK,
			body:          `<html>maintenance</html>`,
			expDescriptor: NoUpdate(),
		},
		{
			name:   "StrictServerError",
			status: http.StatusBadGateway,
			strict: true,
			expErr: true,
		},
		{
			name:   "StrictUnparsable",
			status: http.StatusOK,
			body:   `not json`,
			strict: true,
			expErr: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				query := r.URL.Query()
				assert.Equal(t, "/api/v1/check-update", r.URL.Path)
				assert.Equal(t, "1.2.0", query.Get("version"))
				assert.Equal(t, "shop", query.Get("slug"))
				assert.Equal(t, "203.0.113.7", query.Get("ip"))

				w.WriteHeader(test.status)
				_, err := w.Write([]byte(test.body))
				assert.NoError(t, err)
			}))
			defer ts.Close()

			checker := Checker{
				Client:         ts.Client(),
				URL:            ts.URL + "/api/v1/check-update",
				Slug:           "shop",
				CurrentVersion: "1.2.0",
				Strict:         test.strict,
			}
			descriptor, err := checker.Check(context.Background(), "203.0.113.7")
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expDescriptor, descriptor)
		})
	}
}

func TestCheckUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	hook := logrusTest.NewGlobal()
	defer hook.Reset()

	descriptor, err := Checker{URL: url, Slug: "shop"}.Check(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, NoUpdate(), descriptor)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, url, entry.Data["url"])

	_, err = Checker{URL: url, Slug: "shop", Strict: true}.Check(context.Background(), "")
	assert.Error(t, err)
}

func TestNewerThan(t *testing.T) {
	tests := []struct {
		name       string
		descriptor Descriptor
		current    string
		exp        bool
		expErr     bool
	}{
		{"Newer", Descriptor{Available: true, Version: "1.3.0"}, "1.2.9", true, false},
		{"Same", Descriptor{Available: true, Version: "1.3.0"}, "v1.3.0", false, false},
		{"Older", Descriptor{Available: true, Version: "1.2.0"}, "1.3.0", false, false},
		{"Unavailable", Descriptor{Available: false, Version: "9.0.0"}, "1.0.0", false, false},
		{"NoVersion", Descriptor{Available: true}, "1.0.0", true, false},
		{"BadVersion", Descriptor{Available: true, Version: "latest"}, "1.0.0", false, true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			newer, err := test.descriptor.NewerThan(test.current)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.exp, newer)
		})
	}
}

func TestFetchHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/release.zip" {
			http.NotFound(w, r)
			return
		}
		_, err := w.Write([]byte("archive contents"))
		assert.NoError(t, err)
	}))
	defer ts.Close()

	fs := afero.NewMemMapFs()
	fetcher := NewFetcher(fs, ts.Client())

	dst := "/install/storage/app/update.zip"
	require.NoError(t, fetcher.Fetch(context.Background(), ts.URL+"/release.zip", dst))
	contents, err := afero.ReadFile(fs, dst)
	require.NoError(t, err)
	assert.Equal(t, "archive contents", string(contents))

	err = fetcher.Fetch(context.Background(), ts.URL+"/missing.zip", dst)
	var fetchErr errors.FetchFailed
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, ts.URL+"/missing.zip", fetchErr.URL)

	exists, err := afero.Exists(fs, dst)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFetchLocal(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/releases/1.3.0.zip", []byte("local"), 0644))
	fetcher := NewFetcher(fs, nil)

	for _, src := range []string{"/releases/1.3.0.zip", "file:///releases/1.3.0.zip"} {
		dst := "/install/storage/app/update.zip"
		require.NoError(t, fetcher.Fetch(context.Background(), src, dst), src)
		contents, err := afero.ReadFile(fs, dst)
		require.NoError(t, err)
		assert.Equal(t, "local", string(contents))
	}

	for _, src := range []string{"/releases/missing.zip", "ftp://example.com/a.zip", ""} {
		err := fetcher.Fetch(context.Background(), src, "/install/storage/app/update.zip")
		var fetchErr errors.FetchFailed
		assert.True(t, errors.As(err, &fetchErr), src)
	}
}

type archiveEntry struct {
	name     string
	contents string
	mode     os.FileMode
	dir      bool
}

func makeZip(t *testing.T, entries []archiveEntry) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range entries {
		header := &zip.FileHeader{Name: entry.name, Method: zip.Deflate}
		if entry.dir {
			header.Name += "/"
			header.SetMode(os.ModeDir | 0755)
		} else {
			header.SetMode(entry.mode)
		}

		w, err := zw.CreateHeader(header)
		require.NoError(t, err)
		if !entry.dir {
			_, err = w.Write([]byte(entry.contents))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func makeTarGz(t *testing.T, entries []archiveEntry) []byte {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for _, entry := range entries {
		header := &tar.Header{
			Name:     entry.name,
			Mode:     int64(entry.mode),
			Size:     int64(len(entry.contents)),
			Typeflag: tar.TypeReg,
		}
		if entry.dir {
			header.Typeflag = tar.TypeDir
			header.Mode = 0755
			header.Size = 0
		}
		require.NoError(t, tw.WriteHeader(header))
		if !entry.dir {
			_, err := tw.Write([]byte(entry.contents))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	entries := []archiveEntry{
		{name: "app", dir: true},
		{name: "app/Model.php", contents: "<?php // model", mode: 0644},
		{name: "artisan", contents: "#!/usr/bin/env php", mode: 0755},
		{name: "config/app.php", contents: "<?php return [];", mode: 0644},
	}

	for name, archive := range map[string][]byte{
		"Zip":   makeZip(t, entries),
		"TarGz": makeTarGz(t, entries),
	} {
		archive := archive
		t.Run(name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/storage/update.zip", archive, 0644))

			// Leftovers from an aborted attempt are removed.
			require.NoError(t, afero.WriteFile(fs, "/storage/update-temp/stale.php", []byte("stale"), 0644))

			require.NoError(t, Extract(fs, "/storage/update.zip", "/storage/update-temp"))

			for _, entry := range entries {
				if entry.dir {
					continue
				}
				contents, err := afero.ReadFile(fs, "/storage/update-temp/"+entry.name)
				require.NoError(t, err, entry.name)
				assert.Equal(t, entry.contents, string(contents))
			}

			info, err := fs.Stat("/storage/update-temp/artisan")
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

			exists, err := afero.Exists(fs, "/storage/update-temp/stale.php")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	for name, archive := range map[string][]byte{
		"ZipParent":   makeZip(t, []archiveEntry{{name: "../evil.php", contents: "x", mode: 0644}}),
		"ZipNested":   makeZip(t, []archiveEntry{{name: "app/../../evil.php", contents: "x", mode: 0644}}),
		"TarAbsolute": makeTarGz(t, []archiveEntry{{name: "/etc/evil", contents: "x", mode: 0644}}),
		"TarParent":   makeTarGz(t, []archiveEntry{{name: "../evil.php", contents: "x", mode: 0644}}),
	} {
		archive := archive
		t.Run(name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/storage/update.zip", archive, 0644))

			err := Extract(fs, "/storage/update.zip", "/storage/update-temp")
			var extractErr errors.ExtractionFailed
			require.True(t, errors.As(err, &extractErr), "got %v", err)

			for _, path := range []string{"/storage/evil.php", "/evil.php", "/etc/evil"} {
				exists, err := afero.Exists(fs, path)
				require.NoError(t, err)
				assert.False(t, exists, path)
			}
		})
	}
}

func TestExtractInvalidArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/storage/update.zip", []byte("<html>404</html>"), 0644))

	err := Extract(fs, "/storage/update.zip", "/storage/update-temp")
	var extractErr errors.ExtractionFailed
	assert.True(t, errors.As(err, &extractErr))

	err = Extract(fs, "/storage/missing.zip", "/storage/update-temp")
	assert.True(t, errors.As(err, &extractErr))
}
