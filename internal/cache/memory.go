package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/labviz/molcache/pkg/types"
)

// ErrEntryTooLarge is returned by Put when a payload exceeds the tier's
// whole capacity and could never be admitted.
var ErrEntryTooLarge = errors.New("entry larger than tier capacity")

// MemoryConfig configures the in-process tier
type MemoryConfig struct {
	MaxSize         int64         `yaml:"max_size"`
	MaxEntries      int           `yaml:"max_entries"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// MemoryTier is a byte- and count-bounded LRU held in process memory.
// It is the fast tier: Get never blocks on I/O.
type MemoryTier struct {
	mu          sync.Mutex
	config      MemoryConfig
	currentSize int64
	items       map[string]*memoryItem
	evictList   *list.List

	hits      uint64
	misses    uint64
	evictions uint64

	evictionHook

	now       func() time.Time
	stopCh    chan struct{}
	closeOnce sync.Once
}

type memoryItem struct {
	key       string
	data      []byte
	expiresAt time.Time
	element   *list.Element
}

// NewMemoryTier creates the tier and starts its expiry janitor.
func NewMemoryTier(config MemoryConfig) *MemoryTier {
	if config.MaxSize <= 0 {
		config.MaxSize = 512 << 20
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	m := &MemoryTier{
		config:    config,
		items:     make(map[string]*memoryItem),
		evictList: list.New(),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	go m.cleanupExpired()
	return m
}

// Name implements types.TierBackend.
func (m *MemoryTier) Name() string { return "memory" }

// Get returns a copy of the payload.
func (m *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		m.misses++
		return nil, false, nil
	}
	if m.isExpired(item) {
		m.removeItem(item)
		m.misses++
		return nil, false, nil
	}

	m.evictList.MoveToFront(item.element)
	m.hits++

	out := make([]byte, len(item.data))
	copy(out, item.data)
	return out, true, nil
}

// Put stores a copy of data. A zero ttl uses the tier default.
func (m *MemoryTier) Put(_ context.Context, key string, data []byte, ttl time.Duration) error {
	size := int64(len(data))
	if size > m.config.MaxSize {
		return ErrEntryTooLarge
	}
	if ttl <= 0 {
		ttl = m.config.TTL
	}

	m.mu.Lock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	if item, ok := m.items[key]; ok {
		m.currentSize += size - int64(len(item.data))
		item.data = buf
		item.expiresAt = expiresAt
		m.evictList.MoveToFront(item.element)
	} else {
		item := &memoryItem{key: key, data: buf, expiresAt: expiresAt}
		item.element = m.evictList.PushFront(item)
		m.items[key] = item
		m.currentSize += size
	}

	evicted := m.evictIfNeeded()
	m.mu.Unlock()

	m.notify(evicted)
	return nil
}

// Delete removes key. Absent keys are ignored.
func (m *MemoryTier) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[key]; ok {
		m.removeItem(item)
	}
	return nil
}

// TierStats implements types.StatsReporter.
func (m *MemoryTier) TierStats() types.TierStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := types.TierStats{
		Backend:   m.Name(),
		Entries:   int64(len(m.items)),
		Bytes:     m.currentSize,
		Capacity:  m.config.MaxSize,
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
	}
	if total := m.hits + m.misses; total > 0 {
		s.HitRate = float64(m.hits) / float64(total)
	}
	s.Utilization = float64(m.currentSize) / float64(m.config.MaxSize)
	return s
}

// Close stops the janitor.
func (m *MemoryTier) Close() error {
	m.closeOnce.Do(func() { close(m.stopCh) })
	return nil
}

func (m *MemoryTier) isExpired(item *memoryItem) bool {
	return !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt)
}

func (m *MemoryTier) removeItem(item *memoryItem) {
	m.evictList.Remove(item.element)
	delete(m.items, item.key)
	m.currentSize -= int64(len(item.data))
}

// evictIfNeeded returns the evicted keys.
func (m *MemoryTier) evictIfNeeded() []string {
	var evicted []string
	for m.currentSize > m.config.MaxSize && m.evictList.Len() > 0 {
		evicted = append(evicted, m.evictOldest())
	}
	if m.config.MaxEntries > 0 {
		for len(m.items) > m.config.MaxEntries && m.evictList.Len() > 0 {
			evicted = append(evicted, m.evictOldest())
		}
	}
	return evicted
}

func (m *MemoryTier) evictOldest() string {
	item := m.evictList.Back().Value.(*memoryItem)
	m.removeItem(item)
	m.evictions++
	return item.key
}

func (m *MemoryTier) cleanupExpired() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			var expired []string
			m.mu.Lock()
			for _, item := range m.items {
				if m.isExpired(item) {
					m.removeItem(item)
					expired = append(expired, item.key)
				}
			}
			m.mu.Unlock()
			m.notify(expired)
		}
	}
}
