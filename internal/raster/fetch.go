package raster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammed-shakir/geotiff-overlay/internal/core/httpclient"
)

// ErrOutsideBaseDir is returned for a local locator that leaves BaseDir.
var ErrOutsideBaseDir = errors.New("path outside base dir")

// Fetcher loads the raw bytes of a raster.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// FetchConfig bounds a single fetch.
type FetchConfig struct {
	MaxBytes int64
	Timeout  time.Duration
	// BaseDir confines local reads: relative paths resolve under it, and
	// absolute paths or file:// URLs are accepted only when they point inside
	// it. Empty reads any path relative to the working directory.
	BaseDir string
}

// LocatorFetcher reads http(s) URLs, file:// URLs and local paths.
// Which remote hosts may be named is up to the caller.
type LocatorFetcher struct {
	client *http.Client
	cfg    FetchConfig
}

func NewFetcher(client *http.Client, cfg FetchConfig) *LocatorFetcher {
	if client == nil {
		client = httpclient.NewOutbound(cfg.Timeout, "")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 256 << 20
	}
	return &LocatorFetcher{client: client, cfg: cfg}
}

func (f *LocatorFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if strings.TrimSpace(locator) == "" {
		return nil, fmt.Errorf("empty locator")
	}
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	u, err := url.Parse(locator)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return f.fetchHTTP(ctx, u.String())
		case "file":
			return f.readFile(ctx, u.Path)
		}
	}
	return f.readFile(ctx, locator)
}

func (f *LocatorFetcher) fetchHTTP(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: status %d", target, resp.StatusCode)
	}
	if resp.ContentLength > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: content-length %d > %d", ErrTooLarge, resp.ContentLength, f.cfg.MaxBytes)
	}
	return f.readLimited(resp.Body)
}

func (f *LocatorFetcher) readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := f.open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = fh.Close() }()

	if st, err := fh.Stat(); err == nil && st.Size() > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, st.Size(), f.cfg.MaxBytes)
	}
	return f.readLimited(fh)
}

// open reads through an os.Root when BaseDir is set, which also refuses
// symlinks that point out of it.
func (f *LocatorFetcher) open(path string) (*os.File, error) {
	if f.cfg.BaseDir == "" {
		// #nosec G304 -- no BaseDir configured; ad-hoc locators are gated by the engine's source policy.
		return os.Open(filepath.Clean(path))
	}
	rel := path
	if filepath.IsAbs(path) {
		base, err := filepath.Abs(f.cfg.BaseDir)
		if err != nil {
			return nil, err
		}
		if rel, err = filepath.Rel(base, path); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrOutsideBaseDir, path)
		}
	}
	rel = filepath.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return nil, fmt.Errorf("%w: %q", ErrOutsideBaseDir, path)
	}
	root, err := os.OpenRoot(f.cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = root.Close() }()
	return root.Open(rel)
}

func (f *LocatorFetcher) readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if int64(len(b)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.cfg.MaxBytes)
	}
	return b, nil
}
