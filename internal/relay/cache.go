// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/polychat/internal/util"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// cachePrefix names generation directories; the full name is
	// cachePrefix + version.
	cachePrefix = "assets-"

	// cacheMaxBody bounds what the proxy will buffer and store.
	cacheMaxBody = 32 * 1024 * 1024

	// cacheFetchTimeout bounds one upstream fetch.
	cacheFetchTimeout = 30 * time.Second

	// revalidatePerSecond caps background revalidation fetches so a burst
	// of asset hits does not hammer the origin.
	revalidatePerSecond = 4
)

// bypassFragments lists URL path fragments that must never be cached:
// API traffic and chat completion streams go straight to the network.
var bypassFragments = []string{"/api/", "chat/completions", "/messages"}

// ============================================================================
// CACHE
// ============================================================================

// Cache is a caching proxy for the asset origin. GET requests for documents
// are served network-first; other static assets are served stale-while-
// revalidate. Each cache version owns a directory; Activate promotes the
// current version by deleting every sibling generation.
type Cache struct {
	version  string
	root     string
	upstream *url.URL
	client   *http.Client
	logger   *slog.Logger
	limiter  *rate.Limiter
}

// cacheMeta sits next to each stored body.
type cacheMeta struct {
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
	StoredAt    int64  `json:"storedAt"`
}

// NewCache creates a cache proxy rooted at dir for the given version,
// fetching misses from upstream.
func NewCache(dir, version string, upstream *url.URL, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		version:  version,
		root:     dir,
		upstream: upstream,
		client:   &http.Client{Timeout: cacheFetchTimeout},
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(revalidatePerSecond), revalidatePerSecond),
	}
	if err := os.MkdirAll(c.dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return c, nil
}

// Version returns the active cache version string.
func (c *Cache) Version() string { return c.version }

// dir is the directory owned by the current version.
func (c *Cache) dir() string {
	return filepath.Join(c.root, cachePrefix+c.version)
}

// Activate deletes every generation directory other than the current one.
// Idempotent; safe to call on every startup and on skipWaiting.
func (c *Cache) Activate() {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		c.logger.Warn("read cache root", "error", err)
		return
	}
	keep := cachePrefix + c.version
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), cachePrefix) || e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			c.logger.Warn("prune stale cache generation", "name", e.Name(), "error", err)
			continue
		}
		c.logger.Info("pruned stale cache generation", "name", e.Name())
	}
}

// ============================================================================
// REQUEST HANDLING
// ============================================================================

func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if bypass(r) {
		c.passThrough(w, r)
		return
	}
	if isDocument(r.URL.Path) {
		c.networkFirst(w, r)
		return
	}
	c.staleWhileRevalidate(w, r)
}

// bypass reports whether the request must skip the cache entirely.
func bypass(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return true
	}
	for _, fragment := range bypassFragments {
		if strings.Contains(r.URL.Path, fragment) {
			return true
		}
	}
	return false
}

// isDocument reports whether the path serves an HTML document. Extension-
// less paths are app routes that resolve to the shell document.
func isDocument(p string) bool {
	if p == "/" || strings.HasSuffix(p, ".html") {
		return true
	}
	return path.Ext(p) == ""
}

// passThrough proxies the request without touching the cache. Failures
// surface as a bad gateway; there is no stale copy to fall back on.
func (c *Cache) passThrough(w http.ResponseWriter, r *http.Request) {
	resp, err := c.fetch(r)
	if err != nil {
		c.logger.Debug("passthrough fetch failed", "path", r.URL.Path, "error", err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// networkFirst fetches the document, refreshes the cached copy on success,
// and serves the cached copy when the network fails.
func (c *Cache) networkFirst(w http.ResponseWriter, r *http.Request) {
	resp, err := c.fetch(r)
	if err == nil {
		defer resp.Body.Close()
		if cacheable(resp) {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, cacheMaxBody))
			if readErr == nil {
				c.store(r.URL, resp.Header.Get("Content-Type"), body)
				serveBytes(w, resp.Header.Get("Content-Type"), body)
				return
			}
		}
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	meta, body, ok := c.load(r.URL)
	if !ok {
		http.Error(w, "offline and not cached", http.StatusBadGateway)
		return
	}
	serveBytes(w, meta.ContentType, body)
}

// staleWhileRevalidate serves the cached copy immediately when present and
// refreshes it in the background; on a miss it fetches, caches a good
// response, and serves it.
func (c *Cache) staleWhileRevalidate(w http.ResponseWriter, r *http.Request) {
	if meta, body, ok := c.load(r.URL); ok {
		serveBytes(w, meta.ContentType, body)
		if c.limiter.Allow() {
			go c.revalidate(r.Clone(r.Context()))
		}
		return
	}

	resp, err := c.fetch(r)
	if err != nil {
		c.logger.Debug("asset fetch failed", "path", r.URL.Path, "error", err)
		http.Error(w, "offline and not cached", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if !cacheable(resp) {
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, cacheMaxBody))
	if err != nil {
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}
	c.store(r.URL, resp.Header.Get("Content-Type"), body)
	serveBytes(w, resp.Header.Get("Content-Type"), body)
}

// revalidate refreshes one cached entry off the request path. Failures are
// logged and the stale copy stands.
func (c *Cache) revalidate(r *http.Request) {
	resp, err := c.fetch(r)
	if err != nil {
		c.logger.Debug("revalidate fetch failed", "path", r.URL.Path, "error", err)
		return
	}
	defer resp.Body.Close()

	if !cacheable(resp) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, cacheMaxBody))
	if err != nil {
		return
	}
	c.store(r.URL, resp.Header.Get("Content-Type"), body)
}

// cacheable mirrors the "200 basic response" rule: only plain 200s from
// our own origin get stored.
func cacheable(resp *http.Response) bool {
	return resp.StatusCode == http.StatusOK
}

// ============================================================================
// FETCH AND STORAGE
// ============================================================================

// fetch issues the upstream request corresponding to r.
func (c *Cache) fetch(r *http.Request) (*http.Response, error) {
	target := *c.upstream
	target.Path = singleJoin(c.upstream.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), requestBody(r))
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	req.Header.Del("Connection")
	return c.client.Do(req)
}

func requestBody(r *http.Request) io.Reader {
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil
	}
	return r.Body
}

// entryPath maps a request URL to its body file inside the generation dir.
func (c *Cache) entryPath(u *url.URL) string {
	sum := sha256.Sum256([]byte(u.Path + "?" + u.RawQuery))
	return filepath.Join(c.dir(), hex.EncodeToString(sum[:16]))
}

// store writes body and metadata; a failed write is logged and ignored.
// Writes are atomic so a reader never sees a half-written entry.
func (c *Cache) store(u *url.URL, contentType string, body []byte) {
	p := c.entryPath(u)
	meta, err := json.Marshal(cacheMeta{
		ContentType: contentType,
		URL:         u.String(),
		StoredAt:    time.Now().UnixMilli(),
	})
	if err == nil {
		err = util.AtomicWriteFile(p+".meta", meta, 0o644)
	}
	if err == nil {
		err = util.AtomicWriteFile(p, body, 0o644)
	}
	if err != nil {
		c.logger.Warn("cache store failed", "url", u.Path, "error", err)
	}
}

// load reads a cached entry; ok is false on any miss or read error.
func (c *Cache) load(u *url.URL) (cacheMeta, []byte, bool) {
	p := c.entryPath(u)
	rawMeta, err := os.ReadFile(p + ".meta")
	if err != nil {
		return cacheMeta{}, nil, false
	}
	var meta cacheMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return cacheMeta{}, nil, false
	}
	body, err := os.ReadFile(p)
	if err != nil {
		return cacheMeta{}, nil, false
	}
	return meta, body, true
}

// ============================================================================
// HELPER FUNCTIONS
// ============================================================================

func serveBytes(w http.ResponseWriter, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, bytes.NewReader(body))
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func singleJoin(a, b string) string {
	switch {
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	}
	return a + b
}
