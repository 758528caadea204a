package cache

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

const (
	defaultDiskMaxEntries = 4096
	diskWriteQueueDepth   = 256
)

// DiskTier persists artifacts as gzip-compressed JSON files under
// <dir>/objects/<first two key bytes>/<key>.gz. An LRU index caps the
// entry count; evicted entries have their backing file removed.
//
// Writes are funneled through a single goroutine so generation work is
// never blocked on disk latency. Failures are surfaced as CacheIO log
// lines, not errors: a broken disk cache degrades to cache misses.
type DiskTier struct {
	dir    string
	index  *lru.Cache[string, int64]
	writes chan diskWrite
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

type diskWrite struct {
	key      string
	artifact *artifact.Artifact
	flushed  chan struct{}
}

// DiskConfig configures the disk tier.
type DiskConfig struct {
	Dir        string
	MaxEntries int
	Logger     *slog.Logger
}

// NewDiskTier opens the disk tier at cfg.Dir, rebuilding the LRU index
// from the files already present.
func NewDiskTier(cfg DiskConfig) (*DiskTier, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultDiskMaxEntries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &DiskTier{
		dir:    cfg.Dir,
		writes: make(chan diskWrite, diskWriteQueueDepth),
		done:   make(chan struct{}),
		logger: logger,
	}

	index, err := lru.NewWithEvict[string, int64](cfg.MaxEntries, t.onEvict)
	if err != nil {
		return nil, err
	}
	t.index = index

	if err := os.MkdirAll(filepath.Join(cfg.Dir, "objects"), 0o755); err != nil {
		return nil, errors.Wrap(errors.ClassCacheIO, "create cache directory", err)
	}
	t.loadIndex()

	go t.writeLoop()
	return t, nil
}

// loadIndex scans objects/ and seeds the LRU with existing entries.
// Order within a scan is arbitrary; the index converges as entries
// are touched.
func (t *DiskTier) loadIndex() {
	root := filepath.Join(t.dir, "objects")
	entries, err := os.ReadDir(root)
	if err != nil {
		t.logger.Warn("cache: index scan failed", "dir", root, "error", err)
		return
	}
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, shard.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			if filepath.Ext(name) != ".gz" {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			t.index.Add(name[:len(name)-len(".gz")], info.Size())
		}
	}
}

func (t *DiskTier) path(key string) string {
	shard := "00"
	if len(key) >= 2 {
		shard = key[:2]
	}
	return filepath.Join(t.dir, "objects", shard, key+".gz")
}

// Get reads and decompresses the artifact for key, if present.
func (t *DiskTier) Get(key string) (*artifact.Artifact, bool) {
	if _, ok := t.index.Get(key); !ok {
		return nil, false
	}

	f, err := os.Open(t.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("cache: read failed", "key", key, "error", errors.Wrap(errors.ClassCacheIO, "open cache entry", err))
		}
		t.index.Remove(key)
		return nil, false
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		t.logger.Warn("cache: corrupt entry", "key", key, "error", err)
		t.index.Remove(key)
		return nil, false
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		t.logger.Warn("cache: decompress failed", "key", key, "error", err)
		t.index.Remove(key)
		return nil, false
	}

	a, err := artifact.Decode(raw)
	if err != nil {
		t.logger.Warn("cache: decode failed", "key", key, "error", err)
		t.index.Remove(key)
		return nil, false
	}
	return a, true
}

// Put enqueues an asynchronous write. A full queue drops the write
// rather than stalling the caller.
func (t *DiskTier) Put(key string, a *artifact.Artifact) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	select {
	case t.writes <- diskWrite{key: key, artifact: a}:
	default:
		t.logger.Warn("cache: write queue full, dropping entry", "key", key)
	}
	t.mu.Unlock()
}

// Contains reports whether key is indexed, without touching recency.
func (t *DiskTier) Contains(key string) bool {
	return t.index.Contains(key)
}

// Len returns the number of indexed entries.
func (t *DiskTier) Len() int {
	return t.index.Len()
}

func (t *DiskTier) writeLoop() {
	defer close(t.done)
	for w := range t.writes {
		if w.flushed != nil {
			close(w.flushed)
			continue
		}
		t.write(w.key, w.artifact)
	}
}

func (t *DiskTier) write(key string, a *artifact.Artifact) {
	raw, err := a.Encode()
	if err != nil {
		t.logger.Warn("cache: encode failed", "key", key, "error", err)
		return
	}

	path := t.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.logger.Warn("cache: write failed", "key", key, "error", errors.Wrap(errors.ClassCacheIO, "create shard directory", err))
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		t.logger.Warn("cache: write failed", "key", key, "error", errors.Wrap(errors.ClassCacheIO, "create temp file", err))
		return
	}

	zw := gzip.NewWriter(tmp)
	_, werr := zw.Write(raw)
	if cerr := zw.Close(); werr == nil {
		werr = cerr
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp.Name())
		t.logger.Warn("cache: write failed", "key", key, "error", errors.Wrap(errors.ClassCacheIO, "write cache entry", werr))
		return
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		t.logger.Warn("cache: write failed", "key", key, "error", errors.Wrap(errors.ClassCacheIO, "commit cache entry", err))
		return
	}

	info, err := os.Stat(path)
	size := int64(len(raw))
	if err == nil {
		size = info.Size()
	}
	t.index.Add(key, size)
}

func (t *DiskTier) onEvict(key string, _ int64) {
	if err := os.Remove(t.path(key)); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("cache: evict failed", "key", key, "error", err)
	}
}

// Flush blocks until all queued writes have been applied. Test hook.
func (t *DiskTier) Flush() {
	done := make(chan struct{})
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.writes <- diskWrite{flushed: done}
	t.mu.Unlock()
	<-done
}

// Close drains pending writes and stops the writer goroutine.
func (t *DiskTier) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.writes)
	t.mu.Unlock()
	<-t.done
}
