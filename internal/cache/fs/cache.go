// Package fs persists fetched pages as one JSON document per cache key.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

// AppName names the per-user cache directory.
const AppName = "cvpr-scrape2plot"

// DefaultDir is the XDG cache location used when no directory is configured.
func DefaultDir() string {
	return filepath.Join(xdg.CacheHome, AppName, "pages")
}

// Cache implements crawler.Cache on the local filesystem. Writes go to a
// temp file that is renamed into place, so readers never see partial entries.
type Cache struct {
	dir string
}

// New creates dir if needed. An empty dir selects DefaultDir.
func New(dir string) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// Get reads the entry for key. Missing files are misses; corrupt files are
// reported as errors so the caller can refetch.
func (c *Cache) Get(ctx context.Context, key string) (crawler.CacheEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return crawler.CacheEntry{}, false, fmt.Errorf("cache get: %w", err)
	}
	path, err := c.path(key)
	if err != nil {
		return crawler.CacheEntry{}, false, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is confined to c.dir
	if errors.Is(err, os.ErrNotExist) {
		return crawler.CacheEntry{}, false, nil
	}
	if err != nil {
		return crawler.CacheEntry{}, false, fmt.Errorf("read cache entry: %w", err)
	}
	var entry crawler.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return crawler.CacheEntry{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return entry, true, nil
}

// Put writes entry under key.
func (c *Cache) Put(ctx context.Context, key string, entry crawler.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	path, err := c.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".entry-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// path shards entries by the first two key characters.
func (c *Cache) path(key string) (string, error) {
	if len(key) < 3 || strings.ContainsAny(key, `/\.`) {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(c.dir, key[:2], key+".json"), nil
}
