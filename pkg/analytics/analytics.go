// Package analytics reports completed updates back to the release authority,
// so that it knows which installations are running which release.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/safiul0073/CodeLift/pkg/errors"
	"github.com/safiul0073/CodeLift/pkg/version"
)

const contentType = "application/json"

// Event is the payload sent when an update completes.
type Event struct {
	Slug      string `json:"slug"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
}

// Notifier posts update events to the release authority.
type Notifier struct {
	url    string
	slug   string
	client *http.Client
}

// NewNotifier creates a Notifier that posts events for the application
// `slug` to `url`.
func NewNotifier(url, slug string, client *http.Client) Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return Notifier{url: url, slug: slug, client: client}
}

// Notify reports that the update requested from `origin` completed. The
// release authority responding with anything other than a 2xx status is an
// error.
func (n Notifier) Notify(ctx context.Context, origin, userAgent string) error {
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	body, err := json.Marshal(Event{
		Slug:      n.slug,
		IP:        origin,
		UserAgent: userAgent,
	})
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return errors.WithContext(err, "new request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.WithContext(err, "post")
	}
	// Drain and close the body to avoid leaking resources.
	defer resp.Body.Close()
	_, _ = io.Copy(ioutil.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server responded with %s", resp.Status)
	}

	log.WithField("slug", n.slug).Debug("Reported update to release server")
	return nil
}
