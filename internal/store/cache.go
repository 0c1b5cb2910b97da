package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// JSONCache is the typed response cache from §4.A's "Caching policy": a
// write policy of write-on-miss-never-refresh, and a read policy of
// either "always fresh" (maxAge <= 0) or "stale once mtime age exceeds
// maxAge". Corrupt JSON on disk is treated as a miss, matching §5's
// "JSON cache files may be truncated on mid-write crash and are treated
// as misses on next run".
type JSONCache struct {
	Dir string
}

// NewJSONCache returns a cache rooted at dir/json.
func NewJSONCache(root string) (*JSONCache, error) {
	dir := filepath.Join(root, "json")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &JSONCache{Dir: dir}, nil
}

func (c *JSONCache) path(key string) string {
	return filepath.Join(c.Dir, key+".json")
}

// Get attempts to load key into v, honoring maxAge (any maxAge <= 0
// means "never refresh once written"). It returns ok=false on a miss, a
// stale hit, or corrupt JSON.
func (c *JSONCache) Get(key string, maxAge time.Duration, v interface{}) (ok bool) {
	path := c.path(key)
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	if maxAge > 0 && time.Since(st.ModTime()) > maxAge {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false
	}
	return true
}

// Put writes v to the cache under key. Writes are atomic (temp file then
// rename) so a concurrent reader never observes a half-written file.
func (c *JSONCache) Put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.Dir, "cache-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.path(key))
}
