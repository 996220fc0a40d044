package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"io/ioutil"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safiul0073/CodeLift/pkg/config"
	"github.com/safiul0073/CodeLift/pkg/sync"
)

type file struct {
	path, contents string
}

func testConfig() config.Config {
	return config.Config{
		BaseURL:           "https://releases.example.com",
		ApplicationName:   "shop",
		MaintenanceSecret: "hunter2",
		InstallRoot:       "/srv/shop",
		Commands: config.Commands{
			ExitMaintenance: []string{"php", "artisan", "up", "--token=hunter2"},
		},
	}.WithDefaults()
}

func TestSetupConfig(t *testing.T) {
	fs = afero.NewMemMapFs()

	assert.NoError(t, setupConfig("root", testConfig()))

	contents, err := afero.ReadFile(fs, "root/config.yaml")
	assert.NoError(t, err)
	assert.NotContains(t, string(contents), "hunter2")
	assert.Contains(t, string(contents), "maintenanceSecret: <redacted>")
	assert.Contains(t, string(contents), "--token=<redacted>")
	assert.Contains(t, string(contents), "--secret={secret}")
	assert.Contains(t, string(contents), "applicationName: shop")
}

func TestSetupTracking(t *testing.T) {
	cfg := testConfig()
	generatedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setup     func(t *testing.T)
		expFiles  []file
		expPrefix string
	}{
		{
			name: "NoManifest",
			expFiles: []file{{"root/tracking-summary",
				"No tracking manifest. The next update will resync every file.\n"}},
		},
		{
			name: "ValidManifest",
			setup: func(t *testing.T) {
				manifest := sync.NewManifest()
				manifest.GeneratedAt = generatedAt
				manifest.Add(sync.NewEntry("app.php", sync.Fingerprint{Hash: "abc", Size: 12}))
				manifest.Add(sync.NewEntry("routes/web.php", sync.Fingerprint{Hash: "def", Size: 30}))
				require.NoError(t, sync.NewTrackingStore(fs, cfg.TrackingPath()).Save(manifest))
			},
			expFiles: []file{{"root/tracking-summary",
				"2 files tracked (42 bytes), generated at 2024-03-01T12:00:00Z\n"}},
		},
		{
			name: "CorruptManifest",
			setup: func(t *testing.T) {
				require.NoError(t, setupFiles([]file{{cfg.TrackingPath(), "{not json"}}))
			},
			expFiles:  []file{{"root/" + config.TrackingFileName, "{not json"}},
			expPrefix: "Failed to load tracking manifest",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			if test.setup != nil {
				test.setup(t)
			}

			assert.NoError(t, setupTracking("root", cfg))
			assertFiles(t, test.expFiles, test.name)

			if test.expPrefix != "" {
				summary, err := afero.ReadFile(fs, "root/tracking-summary")
				assert.NoError(t, err)
				assert.True(t, strings.HasPrefix(string(summary), test.expPrefix), string(summary))
			}
		})
	}
}

func TestSetupSnapshots(t *testing.T) {
	cfg := testConfig()

	fs = afero.NewMemMapFs()
	assert.NoError(t, setupSnapshots("root", cfg))
	assertFiles(t, []file{{"root/backups", ""}}, "no backup directory")

	fs = afero.NewMemMapFs()
	assert.NoError(t, setupFiles([]file{
		{cfg.BackupDir() + "/20240301_120000-1a2b3c4d/files/app.php", "old"},
		{cfg.BackupDir() + "/20240302_120000-5e6f7a8b/files/routes/web.php", "old"},
	}))
	assert.NoError(t, setupSnapshots("root", cfg))
	assertFiles(t, []file{{"root/backups", `20240301_120000-1a2b3c4d/
20240301_120000-1a2b3c4d/files/
20240301_120000-1a2b3c4d/files/app.php
20240302_120000-5e6f7a8b/
20240302_120000-5e6f7a8b/files/
20240302_120000-5e6f7a8b/files/routes/
20240302_120000-5e6f7a8b/files/routes/web.php
`}}, "backups should be listed")
}

func TestSetupAppLog(t *testing.T) {
	cfg := testConfig()

	fs = afero.NewMemMapFs()
	err := setupAppLog("root", cfg)
	assert.EqualError(t, err, "open log: open /srv/shop/storage/logs/laravel.log: file does not exist")

	fs = afero.NewMemMapFs()
	assert.NoError(t, setupFiles([]file{{"/srv/shop/storage/logs/laravel.log", "log contents"}}))
	assert.NoError(t, setupAppLog("root", cfg))
	assertFiles(t, []file{{"root/app.log", "log contents"}}, "short logs are copied whole")

	fs = afero.NewMemMapFs()
	long := strings.Repeat("a", appLogTailBytes) + strings.Repeat("b", 10)
	assert.NoError(t, setupFiles([]file{{"/srv/shop/storage/logs/laravel.log", long}}))
	assert.NoError(t, setupAppLog("root", cfg))
	assertFiles(t, []file{{"root/app.log", long[10:]}}, "long logs are truncated")
}

func TestTarDirectory(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, setupFiles([]file{
		{"info/version", "codelift: v1.0.0\n"},
		{"info/nested/app.log", "log contents"},
	}))

	assert.NoError(t, tarDirectory("info", "out.tar.gz"))

	f, err := fs.Open("out.tar.gz")
	require.NoError(t, err)
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gzr)

	contents := map[string]string{}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		if header.Typeflag != tar.TypeReg {
			continue
		}
		b, err := ioutil.ReadAll(tr)
		require.NoError(t, err)
		contents[header.Name] = string(b)
	}

	assert.Equal(t, map[string]string{
		"codelift-bug-info/version":        "codelift: v1.0.0\n",
		"codelift-bug-info/nested/app.log": "log contents",
	}, contents)
}

func setupFiles(files []file) error {
	for _, f := range files {
		if err := afero.WriteFile(fs, f.path, []byte(f.contents), 0644); err != nil {
			return err
		}
	}
	return nil
}

func assertFiles(t *testing.T, files []file, msg string) {
	for _, f := range files {
		contents, err := afero.ReadFile(fs, f.path)
		assert.NoError(t, err, msg)
		assert.Equal(t, f.contents, string(contents), msg)
	}
}
