package calendar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"timeblock/pkg/logx"
)

// Feed is a single ICS subscription.
type Feed struct {
	ID  string
	URL string
}

// fetchResult carries one feed's payload, either fresh or from the
// disk cache.
type fetchResult struct {
	feed      Feed
	body      []byte
	fromCache bool
}

// cacheMeta holds the conditional-request state for one feed URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// fetcher downloads ICS payloads with ETag/Last-Modified support and
// keeps the last good body on disk so a flaky feed still contributes
// its previously known busy intervals.
type fetcher struct {
	client   *http.Client
	cacheDir string
	log      logx.Logger
}

func newFetcher(cacheDir string, log logx.Logger) *fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
		log:      log,
	}
}

func (f *fetcher) fetch(ctx context.Context, feed Feed) (fetchResult, error) {
	if feed.URL == "" {
		return fetchResult{}, errors.New("calendar: feed URL is empty")
	}

	dir := f.cacheDirForURL(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fetchResult{}, err
	}

	meta, _ := loadCacheMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return fetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			f.log.Warn("feed unreachable, using cached body",
				logx.String("feed", feed.ID), logx.String("url", redactURL(feed.URL)), logx.Err(err))
			return fetchResult{feed: feed, body: cached, fromCache: true}, nil
		}
		return fetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fetchResult{}, readErr
		}
		newMeta := cacheMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := saveCache(dir, newMeta, body); err != nil {
			f.log.Warn("feed cache write failed",
				logx.String("feed", feed.ID), logx.Err(err))
		}
		return fetchResult{feed: feed, body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return fetchResult{}, errors.New("calendar: 304 without cached body")
		}
		return fetchResult{feed: feed, body: cached, fromCache: true}, nil

	default:
		if len(cached) > 0 {
			f.log.Warn("feed returned non-OK status, using cached body",
				logx.String("feed", feed.ID), logx.Int("status", resp.StatusCode))
			return fetchResult{feed: feed, body: cached, fromCache: true}, nil
		}
		return fetchResult{}, errors.New("calendar: " + resp.Status)
	}
}

func (f *fetcher) cacheDirForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func saveCache(dir string, meta cacheMeta, body []byte) error {
	// Body first, so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.Marshal(&meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only the scheme and host; feed URLs commonly carry
// private tokens in the path or query.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/..."
}
