// Package historycatalog lists the cached getHistory pages under a history
// cache directory, for operators inspecting what a long-running client has
// persisted to disk.
package historycatalog

import (
	"encoding/json"
	"fmt"
	"sort"

	"erebus/pubsub/internal/historycache"
)

// Entry is one cached page's catalog row.
type Entry struct {
	Path       string  `json:"path"`
	ItemCount  int     `json:"item_count"`
	NextCursor *string `json:"next_cursor,omitempty"`
	ModTimeRFC string  `json:"mod_time"`
}

// List opens the cache rooted at dir and returns its entries sorted newest
// modification time first.
func List(dir string) ([]Entry, error) {
	cache, err := historycache.New(dir)
	if err != nil {
		return nil, fmt.Errorf("historycatalog: open cache: %w", err)
	}
	raw, err := cache.List()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, Entry{
			Path:       r.Path,
			ItemCount:  r.ItemCount,
			NextCursor: r.NextCursor,
			ModTimeRFC: r.ModTime.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTimeRFC > entries[j].ModTimeRFC })
	return entries, nil
}

// MarshalEntries produces a stable, indented JSON representation for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
