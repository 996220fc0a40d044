package release

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/safiul0073/CodeLift/pkg/errors"
)

// Fetcher retrieves release archives.
type Fetcher struct {
	fs     afero.Fs
	client *http.Client
}

// NewFetcher creates a Fetcher that writes archives to `fs`.
func NewFetcher(fs afero.Fs, client *http.Client) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return Fetcher{fs: fs, client: client}
}

// Fetch retrieves the archive at `src` and writes it to `dst`. `src` is
// either an http(s) URL, a file URL, or a local path. Any failure is
// returned as a FetchFailed error.
func (f Fetcher) Fetch(ctx context.Context, src, dst string) error {
	// The archive was already placed at the download location.
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}

	if err := f.fetch(ctx, src, dst); err != nil {
		_ = f.fs.Remove(dst)
		return errors.FetchFailed{URL: src, Cause: err}
	}
	return nil
}

func (f Fetcher) fetch(ctx context.Context, src, dst string) error {
	if src == "" {
		return errors.New("no archive location")
	}

	in, err := f.open(ctx, src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := f.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}

	out, err := f.fs.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.WithContext(err, "create archive file")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.WithContext(err, "write archive")
	}
	return out.Close()
}

func (f Fetcher) open(ctx context.Context, src string) (io.ReadCloser, error) {
	parsed, err := url.Parse(src)
	if err != nil || parsed.Scheme == "" || len(parsed.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return f.openLocal(src)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "file":
		return f.openLocal(parsed.Path)
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, errors.WithContext(err, "new request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.WithContext(err, "get")
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("server responded with %s", resp.Status)
	}
	return resp.Body, nil
}

func (f Fetcher) openLocal(path string) (io.ReadCloser, error) {
	file, err := f.fs.Open(path)
	if err != nil {
		return nil, errors.WithContext(err, "open")
	}
	return file, nil
}
