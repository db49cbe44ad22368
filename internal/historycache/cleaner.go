package historycache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"erebus/pubsub/internal/logging"
)

// RetentionPolicy bounds how many cached pages (and for how long) are kept.
type RetentionPolicy struct {
	MaxEntries int
	MaxAge     time.Duration
}

// Cleaner periodically prunes cached pages according to a RetentionPolicy.
type Cleaner struct {
	mu     sync.Mutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
}

// NewCleaner constructs a Cleaner for the cache rooted at dir.
func NewCleaner(dir string, policy RetentionPolicy, log *logging.Logger) *Cleaner {
	if log == nil {
		log = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: log, now: time.Now}
}

// Run sweeps at the given interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.RunOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("historycache: retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}

	type file struct {
		path    string
		modTime time.Time
	}
	files := make([]file, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, file{path: filepath.Join(c.dir, entry.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	now := c.now()
	for i, f := range files {
		expired := c.policy.MaxAge > 0 && now.Sub(f.modTime) > c.policy.MaxAge
		overflow := c.policy.MaxEntries > 0 && i >= c.policy.MaxEntries
		if expired || overflow {
			if err := os.Remove(f.path); err != nil {
				c.log.Warn("historycache: retention removal failed", logging.Error(err), logging.String("path", f.path))
			}
		}
	}
}
