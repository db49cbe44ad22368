package historycache

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key := Key{Topic: "T2", Cursor: "", Limit: 5, Direction: "backward"}
	cursor := "c2"
	page := Page{Items: []json.RawMessage{json.RawMessage(`{"id":"m1"}`)}, NextCursor: &cursor}

	if err := c.Put(key, page); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got.Items) != 1 || got.NextCursor == nil || *got.NextCursor != "c2" {
		t.Fatalf("unexpected page: %+v", got)
	}
}

func TestGetMissesForUnknownKey(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.Get(Key{Topic: "T2"}); ok {
		t.Fatal("expected cache miss")
	}
}

func TestCleanerEvictsExpiredAndOverflowEntries(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		_ = c.Put(Key{Topic: "T2", Limit: i}, Page{})
		time.Sleep(5 * time.Millisecond)
	}

	cleaner := NewCleaner(dir, RetentionPolicy{MaxEntries: 1}, nil)
	cleaner.RunOnce()

	entries, err := filepathGlob(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 surviving entry, got %d", len(entries))
	}
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.sz"))
}
