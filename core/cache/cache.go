// Package cache provides the content-addressed response cache that lets
// generation runs skip provider calls whose inputs have not changed.
//
// The cache has two tiers. The memory tier answers repeat lookups within
// a run; the disk tier survives restarts and feeds the memory tier on
// hit. Keys are derived from the full provider input, so any change to a
// prompt, template, or parameter set produces a distinct key and a clean
// miss.
package cache

import (
	"log/slog"
	"sync/atomic"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
)

// Stats counts cache outcomes for a run report.
type Stats struct {
	MemoryHits int64
	DiskHits   int64
	Misses     int64
	Puts       int64
}

// Cache is the two-tier response cache.
type Cache struct {
	memory *MemoryTier
	disk   *DiskTier

	memoryHits atomic.Int64
	diskHits   atomic.Int64
	misses     atomic.Int64
	puts       atomic.Int64
}

// Config configures both tiers.
type Config struct {
	Dir            string
	MemoryMaxBytes int64
	DiskMaxEntries int
	Logger         *slog.Logger
}

// New opens a cache rooted at cfg.Dir.
func New(cfg Config) (*Cache, error) {
	memory, err := NewMemoryTier(MemoryConfig{MaxBytes: cfg.MemoryMaxBytes})
	if err != nil {
		return nil, err
	}

	disk, err := NewDiskTier(DiskConfig{
		Dir:        cfg.Dir,
		MaxEntries: cfg.DiskMaxEntries,
		Logger:     cfg.Logger,
	})
	if err != nil {
		memory.Close()
		return nil, err
	}

	return &Cache{memory: memory, disk: disk}, nil
}

// Get looks the key up memory-first. Disk hits are promoted into the
// memory tier so repeat lookups within the run stay off disk.
func (c *Cache) Get(key string) (*artifact.Artifact, bool) {
	if a, ok := c.memory.Get(key); ok {
		c.memoryHits.Add(1)
		return a, true
	}

	if a, ok := c.disk.Get(key); ok {
		c.diskHits.Add(1)
		c.memory.Set(key, a)
		return a, true
	}

	c.misses.Add(1)
	return nil, false
}

// Put stores the artifact in both tiers. The memory write is settled
// before returning: ristretto admits through an async buffer, so without
// Wait an immediately repeated lookup could miss and re-invoke the
// provider. If admission still rejects the entry, the queued disk write
// is drained instead so the next Get lands a disk hit.
func (c *Cache) Put(key string, a *artifact.Artifact) {
	c.puts.Add(1)
	c.memory.Set(key, a)
	c.disk.Put(key, a)

	c.memory.Wait()
	if _, ok := c.memory.Get(key); !ok {
		c.disk.Flush()
	}
}

// Contains reports whether key is present in either tier.
func (c *Cache) Contains(key string) bool {
	if _, ok := c.memory.Get(key); ok {
		return true
	}
	return c.disk.Contains(key)
}

// Stats returns a snapshot of the hit counters.
func (c *Cache) Stats() Stats {
	return Stats{
		MemoryHits: c.memoryHits.Load(),
		DiskHits:   c.diskHits.Load(),
		Misses:     c.misses.Load(),
		Puts:       c.puts.Load(),
	}
}

// Flush blocks until queued disk writes have landed. Test hook.
func (c *Cache) Flush() {
	c.memory.Wait()
	c.disk.Flush()
}

// Close flushes pending disk writes and releases both tiers.
func (c *Cache) Close() {
	c.disk.Close()
	c.memory.Close()
}
