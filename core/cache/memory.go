package cache

import (
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
)

const (
	defaultNumCounters = 1e6
	defaultMaxCost     = 256 << 20 // 256MB soft byte budget
	defaultBufferItems = 64
)

// MemoryTier is the first-consulted tier: a ristretto cache costed by
// artifact payload size.
type MemoryTier struct {
	cache  *ristretto.Cache
	mu     sync.RWMutex
	closed bool
}

// MemoryConfig configures the memory tier.
type MemoryConfig struct {
	MaxBytes    int64
	NumCounters int64
}

// NewMemoryTier creates the memory tier.
func NewMemoryTier(cfg MemoryConfig) (*MemoryTier, error) {
	maxCost := cfg.MaxBytes
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}
	numCounters := cfg.NumCounters
	if numCounters <= 0 {
		numCounters = defaultNumCounters
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, err
	}

	return &MemoryTier{cache: c}, nil
}

// Get returns the cached artifact for key, if resident.
func (m *MemoryTier) Get(key string) (*artifact.Artifact, bool) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, false
	}
	m.mu.RUnlock()

	value, found := m.cache.Get(key)
	if !found {
		return nil, false
	}

	a, ok := value.(*artifact.Artifact)
	if !ok {
		return nil, false
	}
	return a, true
}

// Set stores an artifact costed by payload size.
func (m *MemoryTier) Set(key string, a *artifact.Artifact) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}

	return m.cache.Set(key, a, a.Size())
}

// Wait flushes pending admissions so entries written by Set are visible
// to the next Get.
func (m *MemoryTier) Wait() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.cache.Wait()
}

// Close releases the tier.
func (m *MemoryTier) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cache.Close()
}
