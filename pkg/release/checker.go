// Package release talks to the remote release authority. It checks whether
// a new release is available, downloads release archives, and extracts them
// into a staging directory.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/safiul0073/CodeLift/pkg/errors"
)

// maxCheckResponseSize bounds how much of the check response is read.
const maxCheckResponseSize = 1 << 20

// Descriptor describes the release offered by the release authority.
type Descriptor struct {
	Available   bool     `json:"is_update_available"`
	ChangeLog   []string `json:"update_logs"`
	DownloadURL string   `json:"file_path,omitempty"`

	// Version is the version of the offered release, if the authority
	// reports it.
	Version string `json:"version,omitempty"`
}

// NoUpdate is the descriptor used when the release authority couldn't be
// reached or didn't give a usable answer.
func NoUpdate() Descriptor {
	return Descriptor{Available: false, ChangeLog: []string{}}
}

// NewerThan returns whether the descriptor's release is newer than
// `current`. Releases that don't report a version are trusted to be newer
// whenever they're available.
func (d Descriptor) NewerThan(current string) (bool, error) {
	if !d.Available {
		return false, nil
	}
	if d.Version == "" || current == "" {
		return true, nil
	}

	offered, err := goversion.NewVersion(d.Version)
	if err != nil {
		return false, errors.WithContext(err, "parse offered version")
	}

	installed, err := goversion.NewVersion(current)
	if err != nil {
		return false, errors.WithContext(err, "parse current version")
	}
	return offered.GreaterThan(installed), nil
}

// Checker queries the release authority for new releases.
type Checker struct {
	Client *http.Client

	// URL is the version check endpoint.
	URL string

	// Slug identifies the application to the release authority.
	Slug string

	CurrentVersion string

	// Strict makes Check return transport and decoding errors rather than
	// reporting that no update is available.
	Strict bool
}

// Check asks the release authority whether a release newer than
// CurrentVersion is available. `origin` is the network address the update
// is being requested from, and is reported to the authority.
func (c Checker) Check(ctx context.Context, origin string) (Descriptor, error) {
	descriptor, err := c.check(ctx, origin)
	if err != nil {
		if c.Strict {
			return Descriptor{}, err
		}
		log.WithError(err).WithField("url", c.URL).
			Warn("Failed to check for updates. Assuming no update is available.")
		return NoUpdate(), nil
	}
	return descriptor, nil
}

func (c Checker) check(ctx context.Context, origin string) (Descriptor, error) {
	endpoint, err := url.Parse(c.URL)
	if err != nil {
		return Descriptor{}, errors.WithContext(err, "parse url")
	}

	q := endpoint.Query()
	q.Set("version", c.CurrentVersion)
	q.Set("slug", c.Slug)
	q.Set("ip", origin)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Descriptor{}, errors.WithContext(err, "new request")
	}
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Descriptor{}, errors.WithContext(err, "get")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Descriptor{}, fmt.Errorf("server responded with %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCheckResponseSize))
	if err != nil {
		return Descriptor{}, errors.WithContext(err, "read response")
	}

	var descriptor Descriptor
	if err := json.Unmarshal(body, &descriptor); err != nil {
		return Descriptor{}, errors.WithContext(err, "decode response")
	}
	if descriptor.ChangeLog == nil {
		descriptor.ChangeLog = []string{}
	}

	log.WithField("available", descriptor.Available).
		WithField("version", descriptor.Version).
		Debug("Checked for updates")
	return descriptor, nil
}
