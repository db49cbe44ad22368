// Package historycache optionally persists fetched getHistory pages to disk
// so a repeated call with the same topic/cursor/direction/limit can be
// served without a round trip to the gateway. Adapted from the broker's
// replay artefact writer: the compression codec (snappy) is identical, the
// artefact is a single page instead of a streaming session.
package historycache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
)

// Page mirrors the decoded shape of a single getHistory response.
type Page struct {
	Items      []json.RawMessage `json:"items"`
	NextCursor *string           `json:"nextCursor"`
}

// Key identifies a cached page. Two requests with the same Key are
// considered equivalent.
type Key struct {
	Topic     string
	Cursor    string
	Limit     int
	Direction string
}

func (k Key) filename() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", k.Topic, k.Cursor, k.Limit, k.Direction)))
	return hex.EncodeToString(sum[:]) + ".sz"
}

// Cache is a directory-backed, snappy-compressed store of history pages.
type Cache struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// New constructs a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("historycache: directory must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, now: time.Now}, nil
}

// Get returns the cached page for key, if present.
func (c *Cache) Get(key Key) (Page, bool) {
	if c == nil {
		return Page{}, false
	}
	path := filepath.Join(c.dir, key.filename())

	c.mu.Lock()
	compressed, err := os.ReadFile(path)
	c.mu.Unlock()
	if err != nil {
		return Page{}, false
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Page{}, false
	}
	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return Page{}, false
	}
	return page, true
}

// Put stores page under key, compressing it with snappy before writing.
func (c *Cache) Put(key Key, page Page) error {
	if c == nil {
		return fmt.Errorf("historycache: cache not initialised")
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return err
	}
	compressed := snappy.Encode(nil, raw)
	path := filepath.Join(c.dir, key.filename())

	c.mu.Lock()
	defer c.mu.Unlock()
	return os.WriteFile(path, compressed, 0o644)
}

// Directory exposes the backing directory, primarily for the Cleaner.
func (c *Cache) Directory() string {
	if c == nil {
		return ""
	}
	return c.dir
}

// Entry describes one cached page for catalog/inspection tooling. The
// original Key is not recoverable from the filename alone, since it is a
// content hash rather than an encoding of its fields.
type Entry struct {
	Path       string
	ItemCount  int
	NextCursor *string
	ModTime    time.Time
}

// List decodes every cached page under the cache directory, for the history
// cache catalog tool.
func (c *Cache) List() ([]Entry, error) {
	if c == nil {
		return nil, fmt.Errorf("historycache: cache not initialised")
	}
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".sz" {
			continue
		}
		path := filepath.Join(c.dir, de.Name())
		compressed, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		raw, err := snappy.Decode(nil, compressed)
		if err != nil {
			continue
		}
		var page Page
		if err := json.Unmarshal(raw, &page); err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Path:       path,
			ItemCount:  len(page.Items),
			NextCursor: page.NextCursor,
			ModTime:    info.ModTime(),
		})
	}
	return entries, nil
}
