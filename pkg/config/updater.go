package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	goversion "github.com/hashicorp/go-version"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/safiul0073/CodeLift/pkg/errors"
)

const (
	// DefaultConfigPath is where the CLI looks for its configuration when no
	// path is given.
	DefaultConfigPath = "~/.codelift.yaml"

	// InitialConfigVersion is the first version of the config file. Files
	// that do not specify a version default to this version.
	InitialConfigVersion = "v1alpha1"

	// SupportedConfigVersion is the config version understood by this binary.
	SupportedConfigVersion = "v1alpha1"

	// TrackingFileName is the name of the tracking manifest, relative to the
	// installation root. Deleting it forces a full resync.
	TrackingFileName = ".auto-update-sync-state.json"

	// LockFileName is the name of the update lock, relative to the
	// installation root.
	LockFileName = ".auto-update.lock"

	// SecretPlaceholder is replaced by the maintenance secret in the
	// configured maintenance commands.
	SecretPlaceholder = "{secret}"

	defaultVersionCheckPath = "/api/v1/check-update"
	defaultUpdateLogPath    = "/api/v1/update-log"
	defaultTimeoutSeconds   = 60
)

// DefaultAlwaysOverwrite are paths that always converge to the shipped
// version, even when they were edited locally.
var DefaultAlwaysOverwrite = []string{"config/app.php"}

// Commands are the external commands run around an update. Each command is
// an argv list.
type Commands struct {
	EnterMaintenance    []string `json:"enterMaintenance,omitempty"`
	ExitMaintenance     []string `json:"exitMaintenance,omitempty"`
	InstallDependencies []string `json:"installDependencies,omitempty"`
	ClearCaches         []string `json:"clearCaches,omitempty"`
	Migrate             []string `json:"migrate,omitempty"`
}

// Config is the resolved configuration for updating one installation.
type Config struct {
	Version           string   `json:"version,omitempty"`
	BaseURL           string   `json:"baseURL"`
	VersionCheckPath  string   `json:"versionCheckPath,omitempty"`
	UpdateLogPath     string   `json:"updateLogPath,omitempty"`
	ApplicationName   string   `json:"applicationName"`
	CurrentVersion    string   `json:"currentVersion,omitempty"`
	MaintenanceSecret string   `json:"maintenanceSecret"`
	InstallRoot       string   `json:"installRoot,omitempty"`
	StorageDir        string   `json:"storageDir,omitempty"`
	TimeoutSeconds    int      `json:"timeoutSeconds,omitempty"`
	Exclude           []string `json:"exclude,omitempty"`
	AlwaysOverwrite   []string `json:"alwaysOverwrite,omitempty"`
	Commands          Commands `json:"commands,omitempty"`
}

func (c Config) getVersion() string {
	return c.Version
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// Parse reads the config at `path`, applies defaults and validates it.
func Parse(path string) (Config, error) {
	path, err := homedirExpand(path)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	cfg := Config{Version: InitialConfigVersion}
	if err := parseConfig(path, &cfg, SupportedConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Config{}, errors.NewFriendlyError("The CodeLift config "+
				"file doesn't exist at %q.", path)
		}
		return Config{}, errors.WithContext(err, "parse")
	}

	// Evaluate a relative installation root relative to the config file.
	if cfg.InstallRoot != "" {
		cfg.InstallRoot, err = homedir.Expand(cfg.InstallRoot)
		if err != nil {
			return Config{}, errors.WithContext(err, "expand install root")
		}
		if !filepath.IsAbs(cfg.InstallRoot) {
			cfg.InstallRoot = filepath.Join(filepath.Dir(path), cfg.InstallRoot)
		}
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Write writes the given config to `path`.
func Write(path string, cfg Config) error {
	cfg.Version = SupportedConfigVersion
	path, err := homedirExpand(path)
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0600); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// WithDefaults returns a copy of the config with unset optional fields
// filled in.
func (c Config) WithDefaults() Config {
	c.ApplicationName = strings.ToLower(strings.TrimSpace(c.ApplicationName))
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.VersionCheckPath == "" {
		c.VersionCheckPath = defaultVersionCheckPath
	}
	if c.UpdateLogPath == "" {
		c.UpdateLogPath = defaultUpdateLogPath
	}
	if c.InstallRoot == "" {
		c.InstallRoot = "."
	}
	c.InstallRoot = filepath.Clean(c.InstallRoot)
	if c.StorageDir == "" {
		c.StorageDir = filepath.Join(c.InstallRoot, "storage", "app")
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.AlwaysOverwrite == nil {
		c.AlwaysOverwrite = append([]string{}, DefaultAlwaysOverwrite...)
	}

	if c.Commands.EnterMaintenance == nil {
		c.Commands.EnterMaintenance = []string{"php", "artisan", "down", "--secret=" + SecretPlaceholder}
	}
	if c.Commands.ExitMaintenance == nil {
		c.Commands.ExitMaintenance = []string{"php", "artisan", "up"}
	}
	if c.Commands.InstallDependencies == nil {
		c.Commands.InstallDependencies = []string{"composer", "update"}
	}
	if c.Commands.ClearCaches == nil {
		c.Commands.ClearCaches = []string{"php", "artisan", "optimize:clear"}
	}
	if c.Commands.Migrate == nil {
		c.Commands.Migrate = []string{"php", "artisan", "migrate"}
	}
	return c
}

// Validate checks that the fields without defaults are set.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.MissingFieldError{Field: "baseURL"}
	}
	if c.ApplicationName == "" {
		return errors.MissingFieldError{Field: "applicationName"}
	}
	if c.MaintenanceSecret == "" {
		return errors.MissingFieldError{Field: "maintenanceSecret"}
	}
	if c.CurrentVersion != "" {
		if _, err := goversion.NewVersion(c.CurrentVersion); err != nil {
			return errors.NewFriendlyError("currentVersion %q is not a valid "+
				"version: %s", c.CurrentVersion, err)
		}
	}
	return nil
}

// Timeout is the deadline applied to each network call.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ArchivePath is where the downloaded release archive is stored.
func (c Config) ArchivePath() string {
	return filepath.Join(c.StorageDir, "update.zip")
}

// StagingDir is where the release archive is extracted.
func (c Config) StagingDir() string {
	return filepath.Join(c.StorageDir, "update-temp")
}

// BackupDir holds one directory per backup snapshot.
func (c Config) BackupDir() string {
	return filepath.Join(c.StorageDir, "update-backup")
}

// TrackingPath is the path of the tracking manifest.
func (c Config) TrackingPath() string {
	return filepath.Join(c.InstallRoot, TrackingFileName)
}

// LockPath is the path of the update lock file.
func (c Config) LockPath() string {
	return filepath.Join(c.InstallRoot, LockFileName)
}

// VersionCheckURL is the endpoint queried for new releases. A non-empty
// `override` replaces the configured path, or the whole URL if it's absolute.
func (c Config) VersionCheckURL(override string) string {
	switch {
	case strings.HasPrefix(override, "http://") || strings.HasPrefix(override, "https://"):
		return override
	case override != "":
		return c.BaseURL + override
	}
	return c.BaseURL + c.VersionCheckPath
}

// UpdateLogURL is the endpoint notified after a successful update.
func (c Config) UpdateLogURL() string {
	return c.BaseURL + c.UpdateLogPath
}
