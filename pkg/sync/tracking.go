package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/safiul0073/CodeLift/pkg/errors"
)

const (
	// EntryTypeFile is the only kind of artifact that's tracked.
	EntryTypeFile = "file"

	manifestDescription = "Do not delete this file. It tracks the state of " +
		"the update process. Deleting this file will trigger a full resync."
)

// Entry records the fingerprint of one file as it existed after the last
// update that touched it.
type Entry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// NewEntry creates a file entry for `relPath`.
func NewEntry(relPath string, fp Fingerprint) Entry {
	return Entry{
		Type: EntryTypeFile,
		Path: relPath,
		Size: fp.Size,
		Hash: fp.Hash,
	}
}

// Fingerprint returns the fingerprint recorded by the entry.
func (e Entry) Fingerprint() Fingerprint {
	return Fingerprint{Hash: e.Hash, Size: e.Size}
}

// Manifest maps relative paths to what was last applied at that path.
type Manifest struct {
	Description string           `json:"description"`
	GeneratedAt time.Time        `json:"generated_at"`
	Data        map[string]Entry `json:"data"`
}

// NewManifest returns an empty manifest.
func NewManifest() Manifest {
	return Manifest{
		Description: manifestDescription,
		Data:        map[string]Entry{},
	}
}

// Add records `e`, replacing any entry for the same path.
func (m Manifest) Add(e Entry) {
	m.Data[e.Path] = e
}

// Get returns the entry for `relPath`.
func (m Manifest) Get(relPath string) (Entry, bool) {
	e, ok := m.Data[relPath]
	return e, ok
}

// Paths returns the tracked paths in sorted order.
func (m Manifest) Paths() []string {
	var paths []string
	for p := range m.Data {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Summary is a one line description of the manifest.
func (m Manifest) Summary() string {
	var size int64
	for _, e := range m.Data {
		size += e.Size
	}
	return fmt.Sprintf("%d files tracked (%d bytes), generated at %s",
		len(m.Data), size, m.GeneratedAt.Format(time.RFC3339))
}

// UnmarshalJSON accepts `"data": []`, which is how an empty mapping is
// written by some producers of the file.
func (m *Manifest) UnmarshalJSON(b []byte) error {
	var raw struct {
		Description string          `json:"description"`
		GeneratedAt time.Time       `json:"generated_at"`
		Data        json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	m.Description = raw.Description
	m.GeneratedAt = raw.GeneratedAt
	m.Data = map[string]Entry{}

	data := bytes.TrimSpace(raw.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte("[]")) {
		return nil
	}
	return json.Unmarshal(data, &m.Data)
}

// validate enforces that every key is a clean relative path that stays
// within the installation root, and agrees with the entry it maps to.
func (m Manifest) validate() error {
	for key, e := range m.Data {
		if key == "" || path.IsAbs(key) || filepath.IsAbs(key) || path.Clean(key) != key ||
			key == ".." || strings.HasPrefix(key, "../") {
			return fmt.Errorf("invalid tracked path %q", key)
		}
		if e.Path != key {
			return fmt.Errorf("entry path %q does not match key %q", e.Path, key)
		}
		if e.Size < 0 {
			return fmt.Errorf("negative size for %q", key)
		}
	}
	return nil
}

// TrackingStore persists the Manifest.
type TrackingStore struct {
	fs   afero.Fs
	path string
}

// NewTrackingStore creates a store for the manifest at `path`.
func NewTrackingStore(fs afero.Fs, path string) *TrackingStore {
	return &TrackingStore{fs: fs, path: path}
}

// Path returns the location of the manifest.
func (store *TrackingStore) Path() string {
	return store.path
}

// Exists returns whether a manifest has been persisted.
func (store *TrackingStore) Exists() (bool, error) {
	return afero.Exists(store.fs, store.path)
}

// Load returns the persisted manifest, or an empty manifest if none exists.
// A manifest that exists but can't be parsed is a CorruptStateError.
func (store *TrackingStore) Load() (Manifest, error) {
	contents, err := afero.ReadFile(store.fs, store.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return Manifest{}, errors.WithContext(err, "read")
	}

	var m Manifest
	if err := json.Unmarshal(contents, &m); err != nil {
		return Manifest{}, errors.CorruptStateError{Path: store.path, Cause: err}
	}
	if err := m.validate(); err != nil {
		return Manifest{}, errors.CorruptStateError{Path: store.path, Cause: err}
	}
	if m.Description == "" {
		m.Description = manifestDescription
	}
	return m, nil
}

// Save atomically replaces the persisted manifest. Readers either see the
// previous manifest or the new one, never a partial write.
func (store *TrackingStore) Save(m Manifest) error {
	if m.Data == nil {
		m.Data = map[string]Entry{}
	}
	if m.Description == "" {
		m.Description = manifestDescription
	}

	contents, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	dir := filepath.Dir(store.path)
	if err := store.fs.MkdirAll(dir, 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}

	tmp, err := afero.TempFile(store.fs, dir, "."+filepath.Base(store.path)+"-*")
	if err != nil {
		return errors.WithContext(err, "create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		_ = store.fs.Remove(tmpPath)
		return errors.WithContext(err, "write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = store.fs.Remove(tmpPath)
		return errors.WithContext(err, "sync")
	}
	if err := tmp.Close(); err != nil {
		_ = store.fs.Remove(tmpPath)
		return errors.WithContext(err, "close")
	}

	if err := store.fs.Rename(tmpPath, store.path); err != nil {
		_ = store.fs.Remove(tmpPath)
		return errors.WithContext(err, "rename")
	}
	return nil
}

// Remove deletes the persisted manifest, if any.
func (store *TrackingStore) Remove() error {
	if err := store.fs.Remove(store.path); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove")
	}
	return nil
}
