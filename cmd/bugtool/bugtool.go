package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/safiul0073/CodeLift/cmd/util"
	"github.com/safiul0073/CodeLift/pkg/config"
	"github.com/safiul0073/CodeLift/pkg/errors"
	"github.com/safiul0073/CodeLift/pkg/sync"
	"github.com/safiul0073/CodeLift/pkg/version"
)

// appLogTailBytes is how much of the end of the application log is included
// in the archive.
const appLogTailBytes = 256 * 1024

const redacted = "<redacted>"

// Mocked for unit testing.
var (
	fs                = afero.NewOsFs()
	stdout  io.Writer = os.Stdout
	timeNow           = time.Now
)

// New creates a new `bug-tool` command.
func New() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bug-tool",
		Short: "Generate an archive for debugging a failed update",
		Run:   func(_ *cobra.Command, _ []string) { main(out) },
	}
	cmd.Flags().StringVar(&out, "out", "", "path for archive")
	return cmd
}

func main(out string) {
	tmpdir, err := afero.TempDir(fs, "", "codelift-bug-tool")
	if err != nil {
		err = errors.NewFriendlyError("Failed to create out directory:\n%s", err)
		util.HandleFatalError(err)
	}

	// Wrap defer in a function to handle errors from fs.RemoveAll().
	defer func() {
		err := fs.RemoveAll(tmpdir)
		if err != nil {
			util.HandleFatalError(err)
		}
	}()

	setupInfo(tmpdir)

	if out == "" {
		out = fmt.Sprintf("codelift-bug-info-%s.tar.gz",
			timeNow().Format("Jan_02_2006-15-04-05"))
	}
	if err := tarDirectory(tmpdir, out); err != nil {
		err = errors.NewFriendlyError("Failed to tar:\n%s", err)
		util.HandleFatalError(err)
	}

	msg := `Created bug information archive at '%s'.
You may want to edit the archive if your installation contains sensitive information.
The archive contains:
 * The CodeLift config, with the maintenance secret removed.
 * The tracking manifest of the installation.
 * The backup snapshots left behind by failed updates.
 * The end of the application log.
 * The version of CodeLift.
`
	fmt.Fprintf(stdout, msg, out)
}

func setupInfo(root string) {
	if err := setupVersion(root); err != nil {
		log.WithError(err).Warn("Failed to setup version info")
	}

	cfg, err := util.ParseConfig()
	if err != nil {
		log.WithError(err).Error("Failed to parse config")
		return
	}

	if err := setupConfig(root, cfg); err != nil {
		log.WithError(err).Warn("Failed to setup config")
	}

	if err := setupTracking(root, cfg); err != nil {
		log.WithError(err).Warn("Failed to setup tracking manifest")
	}

	if err := setupSnapshots(root, cfg); err != nil {
		log.WithError(err).Warn("Failed to setup backup snapshots")
	}

	if err := setupAppLog(root, cfg); err != nil {
		log.WithError(err).Warn("Failed to setup application log")
	}
}

func setupVersion(root string) error {
	contents := fmt.Sprintf("codelift: %s\n", version.Version)
	return afero.WriteFile(fs, filepath.Join(root, "version"), []byte(contents), 0644)
}

func setupConfig(root string, cfg config.Config) error {
	secret := cfg.MaintenanceSecret
	cfg.MaintenanceSecret = redacted
	cfg.Commands.EnterMaintenance = redactArgs(cfg.Commands.EnterMaintenance, secret)
	cfg.Commands.ExitMaintenance = redactArgs(cfg.Commands.ExitMaintenance, secret)

	configBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}
	return afero.WriteFile(fs, filepath.Join(root, "config.yaml"), configBytes, 0644)
}

// redactArgs hides the secret in commands that were written with the
// secret inline rather than the placeholder.
func redactArgs(args []string, secret string) []string {
	if secret == "" {
		return args
	}

	var out []string
	for _, arg := range args {
		out = append(out, strings.Replace(arg, secret, redacted, -1))
	}
	return out
}

func setupTracking(root string, cfg config.Config) error {
	store := sync.NewTrackingStore(fs, cfg.TrackingPath())
	exists, err := store.Exists()
	if err != nil {
		return errors.WithContext(err, "stat")
	}
	if !exists {
		summary := "No tracking manifest. The next update will resync every file.\n"
		return afero.WriteFile(fs, filepath.Join(root, "tracking-summary"), []byte(summary), 0644)
	}

	// Copy the raw file first so that a corrupt manifest is still included.
	raw, err := afero.ReadFile(fs, store.Path())
	if err != nil {
		return errors.WithContext(err, "read")
	}
	if err := afero.WriteFile(fs, filepath.Join(root, config.TrackingFileName), raw, 0644); err != nil {
		return errors.WithContext(err, "write")
	}

	var summary string
	manifest, err := store.Load()
	if err != nil {
		summary = fmt.Sprintf("Failed to load tracking manifest: %s\n", err)
	} else {
		summary = manifest.Summary() + "\n"
	}
	return afero.WriteFile(fs, filepath.Join(root, "tracking-summary"), []byte(summary), 0644)
}

func setupSnapshots(root string, cfg config.Config) error {
	var snapshots []string
	backupDir := cfg.BackupDir()
	err := afero.Walk(fs, backupDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == backupDir {
			return nil
		}

		relPath, err := filepath.Rel(backupDir, path)
		if err != nil {
			return errors.WithContext(err, "get relative path")
		}
		if fi.IsDir() {
			relPath += "/"
		}
		snapshots = append(snapshots, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "list backups")
	}

	sort.Strings(snapshots)
	contents := strings.Join(snapshots, "\n")
	if contents != "" {
		contents += "\n"
	}
	return afero.WriteFile(fs, filepath.Join(root, "backups"), []byte(contents), 0644)
}

func setupAppLog(root string, cfg config.Config) error {
	logPath := filepath.Join(cfg.InstallRoot, "storage", "logs", "laravel.log")
	logFile, err := fs.Open(logPath)
	if err != nil {
		return errors.WithContext(err, "open log")
	}
	defer logFile.Close()

	fi, err := logFile.Stat()
	if err != nil {
		return errors.WithContext(err, "stat log")
	}
	if fi.Size() > appLogTailBytes {
		if _, err := logFile.Seek(fi.Size()-appLogTailBytes, io.SeekStart); err != nil {
			return errors.WithContext(err, "seek")
		}
	}

	outFile, err := fs.Create(filepath.Join(root, "app.log"))
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, logFile); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}

func tarDirectory(src, outPath string) error {
	out, err := fs.Create(outPath)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return afero.Walk(fs, src, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("make header %s", file))
		}

		relPath, err := filepath.Rel(src, file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("get relative path of %s to %s", file, src))
		}

		header.Name = filepath.ToSlash(filepath.Join("codelift-bug-info", relPath))
		if err := tw.WriteHeader(header); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write %s header", file))
		}

		// Only write contents if it's a file (i.e. not a directory).
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := fs.Open(file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("open %s", file))
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", file))
		}
		return nil
	})
}
