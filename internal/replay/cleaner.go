package replay

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"paddlearena/broker/internal/logging"
)

// RetentionPolicy defines how many replay bundles are retained on disk.
type RetentionPolicy struct {
	MaxMatches int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted replays.
type StorageStats struct {
	Bundles   int
	Bytes     int64
	LastSweep time.Time
}

// Cleaner prunes replay bundles according to a retention policy. Sweeps are
// scheduled externally; RunOnce performs a single pass.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided replay directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil || c.dir == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay sweep failed", logging.Error(err))
		return
	}

	type bundle struct {
		path string
		mod  time.Time
		size int64
	}
	bundles := make([]bundle, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		bundles = append(bundles, bundle{path: path, mod: info.ModTime(), size: dirSize(path)})
	}
	//1.- Newest first so retention by count keeps the most recent bundles.
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].mod.After(bundles[j].mod) })

	removed := 0
	if c.policy.MaxMatches > 0 && len(bundles) > c.policy.MaxMatches {
		for _, stale := range bundles[c.policy.MaxMatches:] {
			if err := os.RemoveAll(stale.path); err == nil {
				removed++
			}
		}
		bundles = bundles[:c.policy.MaxMatches]
	}
	if c.policy.MaxAge > 0 {
		cutoff := c.now().Add(-c.policy.MaxAge)
		kept := bundles[:0]
		for _, candidate := range bundles {
			if candidate.mod.Before(cutoff) {
				if err := os.RemoveAll(candidate.path); err == nil {
					removed++
					continue
				}
			}
			kept = append(kept, candidate)
		}
		bundles = kept
	}

	var bytes int64
	for _, remaining := range bundles {
		bytes += remaining.size
	}
	c.mu.Lock()
	c.stats = StorageStats{Bundles: len(bundles), Bytes: bytes, LastSweep: c.now()}
	c.mu.Unlock()
	if removed > 0 {
		c.log.Info("replay bundles pruned", logging.Int("removed", removed), logging.Int("kept", len(bundles)))
	}
}

// Stats returns the most recent sweep summary.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
