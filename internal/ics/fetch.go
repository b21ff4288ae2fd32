package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "calsched/internal/log"
)

// maxFeedBytes bounds a downloaded calendar.
const maxFeedBytes = 16 << 20

// Download is the body of a remote calendar and where it came from.
type Download struct {
	URL       string
	Body      []byte
	FromCache bool // reused cached body (304 or upstream failure)
}

type feedMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Downloader fetches remote ICS feeds for import. Bodies are cached on disk
// per URL and revalidated with ETag / Last-Modified, so re-importing an
// unchanged feed does not hit the network body path.
type Downloader struct {
	client   *http.Client
	cacheDir string
}

// NewDownloader returns a Downloader caching under cacheDir. An empty
// cacheDir disables the cache.
func NewDownloader(cacheDir string) *Downloader {
	return &Downloader{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// Fetch downloads rawURL. When the server is unreachable or answers with an
// error and a cached body exists, the cached body is returned instead.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (Download, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Download{}, fmt.Errorf("invalid calendar URL %q", redactURL(rawURL))
	}

	dir := d.entryDir(rawURL)
	var (
		meta   feedMeta
		cached []byte
	)
	if dir != "" {
		meta, _ = readMeta(dir)
		cached, _ = os.ReadFile(filepath.Join(dir, "body.ics"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Download{}, err
	}
	req.Header.Set("Accept", "text/calendar")
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("ics download start", "url", redactURL(rawURL))

	resp, err := d.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("ics download failed, using cached body", err, "url", redactURL(rawURL))
			return Download{URL: rawURL, Body: cached, FromCache: true}, nil
		}
		return Download{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
		if err != nil {
			return Download{}, err
		}
		if len(body) > maxFeedBytes {
			return Download{}, fmt.Errorf("calendar larger than %d bytes", maxFeedBytes)
		}
		if dir != "" {
			m := feedMeta{
				URL:          rawURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				FetchedAt:    time.Now().UTC(),
			}
			if err := writeCache(dir, m, body); err != nil {
				appLog.Error("ics cache save failed", err, "url", redactURL(rawURL))
			}
		}
		appLog.Info("ics download done", "url", redactURL(rawURL), "bytes", len(body))
		return Download{URL: rawURL, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return Download{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Info("ics download not modified, using cache", "url", redactURL(rawURL))
		return Download{URL: rawURL, Body: cached, FromCache: true}, nil

	default:
		if len(cached) > 0 {
			appLog.Error("ics download non-OK, using cached body", errors.New(resp.Status), "url", redactURL(rawURL))
			return Download{URL: rawURL, Body: cached, FromCache: true}, nil
		}
		return Download{}, fmt.Errorf("download %s: %s", redactURL(rawURL), resp.Status)
	}
}

func (d *Downloader) entryDir(rawURL string) string {
	if d.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(d.cacheDir, hex.EncodeToString(sum[:8]))
}

func readMeta(dir string) (feedMeta, error) {
	var m feedMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

func writeCache(dir string, m feedMeta, body []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; feed URLs often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
