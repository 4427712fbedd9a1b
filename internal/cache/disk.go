package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/labviz/molcache/pkg/types"
)

// DiskConfig configures the on-disk tier
type DiskConfig struct {
	Directory       string        `yaml:"directory"`
	MaxSize         int64         `yaml:"max_size"`
	TTL             time.Duration `yaml:"ttl"`
	Compression     bool          `yaml:"compression"`
	IndexFile       string        `yaml:"index_file"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
}

// DiskTier stores one file per key under a directory, with a JSON index
// that survives restarts. Payloads are checksummed; a corrupt or expired
// file is a miss and is removed.
type DiskTier struct {
	mu          sync.RWMutex
	config      DiskConfig
	currentSize int64
	index       map[string]*diskItem

	hits      uint64
	misses    uint64
	evictions uint64

	evictionHook

	now    func() time.Time
	stopCh chan struct{}
	closed bool
}

type diskItem struct {
	Key        string    `json:"key"`
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	RawSize    int64     `json:"raw_size"`
	CreatedAt  time.Time `json:"created_at"`
	AccessTime time.Time `json:"access_time"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Compressed bool      `json:"compressed"`
	Checksum   string    `json:"checksum"`
}

// NewDiskTier opens or creates the cache directory and loads its index.
func NewDiskTier(config DiskConfig) (*DiskTier, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("disk tier: directory is required")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 4 << 30
	}
	if config.IndexFile == "" {
		config.IndexFile = "index.json"
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = time.Minute
	}

	if err := os.MkdirAll(config.Directory, 0750); err != nil {
		return nil, fmt.Errorf("disk tier: create directory: %w", err)
	}

	d := &DiskTier{
		config: config,
		index:  make(map[string]*diskItem),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	if err := d.loadIndex(); err != nil {
		return nil, fmt.Errorf("disk tier: load index: %w", err)
	}

	go d.cleanupExpired()
	go d.syncIndex()

	return d, nil
}

// Name implements types.TierBackend.
func (d *DiskTier) Name() string { return "disk" }

// Get reads and verifies the payload for key.
func (d *DiskTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	d.mu.RLock()
	item, ok := d.index[key]
	var snapshot diskItem
	if ok {
		snapshot = *item
	}
	d.mu.RUnlock()

	if !ok {
		d.countMiss()
		return nil, false, nil
	}
	if d.isExpired(&snapshot) {
		_ = d.Delete(ctx, key)
		d.countMiss()
		return nil, false, nil
	}

	data, err := d.readFile(&snapshot)
	if err != nil {
		// Missing or corrupt payloads are dropped and reported as a miss.
		d.mu.Lock()
		if cur, ok := d.index[key]; ok && cur.Checksum == snapshot.Checksum {
			d.removeItem(cur)
		}
		d.misses++
		d.mu.Unlock()
		return nil, false, nil
	}

	d.mu.Lock()
	if cur, ok := d.index[key]; ok {
		cur.AccessTime = d.now()
	}
	d.hits++
	d.mu.Unlock()

	return data, true, nil
}

// Put writes data to a temporary file and renames it into place.
func (d *DiskTier) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = d.config.TTL
	}

	now := d.now()
	item := &diskItem{
		Key:        key,
		File:       d.filePath(key),
		RawSize:    int64(len(data)),
		CreatedAt:  now,
		AccessTime: now,
		Compressed: d.config.Compression,
		Checksum:   checksum(data),
	}
	if ttl > 0 {
		item.ExpiresAt = now.Add(ttl)
	}

	size, err := d.writeFile(item, data)
	if err != nil {
		return fmt.Errorf("disk tier: write %s: %w", key, err)
	}
	item.Size = size
	if size > d.config.MaxSize {
		_ = os.Remove(item.File)
		return ErrEntryTooLarge
	}

	d.mu.Lock()
	if old, ok := d.index[key]; ok {
		// Same file path: the rename already replaced the payload.
		d.currentSize -= old.Size
		delete(d.index, key)
	}
	d.index[key] = item
	d.currentSize += size
	evicted := d.evictIfNeeded()
	d.mu.Unlock()

	d.notify(evicted)
	return nil
}

// Delete removes key. Absent keys are ignored.
func (d *DiskTier) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if item, ok := d.index[key]; ok {
		d.removeItem(item)
	}
	return nil
}

// TierStats implements types.StatsReporter.
func (d *DiskTier) TierStats() types.TierStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := types.TierStats{
		Backend:   d.Name(),
		Entries:   int64(len(d.index)),
		Bytes:     d.currentSize,
		Capacity:  d.config.MaxSize,
		Hits:      d.hits,
		Misses:    d.misses,
		Evictions: d.evictions,
	}
	if total := d.hits + d.misses; total > 0 {
		s.HitRate = float64(d.hits) / float64(total)
	}
	s.Utilization = float64(d.currentSize) / float64(d.config.MaxSize)
	return s
}

// Close stops background goroutines and writes the index.
func (d *DiskTier) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	close(d.stopCh)
	return d.saveIndex()
}

func (d *DiskTier) countMiss() {
	d.mu.Lock()
	d.misses++
	d.mu.Unlock()
}

func (d *DiskTier) isExpired(item *diskItem) bool {
	return !item.ExpiresAt.IsZero() && !d.now().Before(item.ExpiresAt)
}

func (d *DiskTier) filePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.config.Directory, hex.EncodeToString(sum[:16])+".mc")
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (d *DiskTier) writeFile(item *diskItem, data []byte) (int64, error) {
	payload := data
	if item.Compressed {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return 0, err
		}
		if err := zw.Close(); err != nil {
			return 0, err
		}
		payload = buf.Bytes()
	}

	tmp, err := os.CreateTemp(d.config.Directory, ".put-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, item.File); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return int64(len(payload)), nil
}

func (d *DiskTier) readFile(item *diskItem) ([]byte, error) {
	file, err := os.Open(item.File)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var reader io.Reader = file
	if item.Compressed {
		zr, err := gzip.NewReader(file)
		if err != nil {
			return nil, err
		}
		defer func() { _ = zr.Close() }()
		reader = zr
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if checksum(data) != item.Checksum {
		return nil, fmt.Errorf("checksum mismatch for %s", item.Key)
	}
	return data, nil
}

func (d *DiskTier) removeItem(item *diskItem) {
	_ = os.Remove(item.File)
	delete(d.index, item.Key)
	d.currentSize -= item.Size
}

// evictIfNeeded returns the evicted keys.
func (d *DiskTier) evictIfNeeded() []string {
	var evicted []string
	for d.currentSize > d.config.MaxSize && len(d.index) > 0 {
		var oldest *diskItem
		for _, item := range d.index {
			if oldest == nil || item.AccessTime.Before(oldest.AccessTime) {
				oldest = item
			}
		}
		d.removeItem(oldest)
		d.evictions++
		evicted = append(evicted, oldest.Key)
	}
	return evicted
}

func (d *DiskTier) indexPath() string {
	return filepath.Join(d.config.Directory, filepath.Base(d.config.IndexFile))
}

func (d *DiskTier) loadIndex() error {
	file, err := os.Open(d.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = file.Close() }()

	var items map[string]*diskItem
	if err := json.NewDecoder(file).Decode(&items); err != nil {
		return err
	}
	for key, item := range items {
		if _, err := os.Stat(item.File); err != nil {
			continue
		}
		d.index[key] = item
		d.currentSize += item.Size
	}
	return nil
}

// saveIndex must be called with d.mu held.
func (d *DiskTier) saveIndex() error {
	path := d.indexPath()
	tmpPath := path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(file).Encode(d.index); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (d *DiskTier) cleanupExpired() {
	ticker := time.NewTicker(d.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			var expired []string
			d.mu.Lock()
			for _, item := range d.index {
				if d.isExpired(item) {
					d.removeItem(item)
					expired = append(expired, item.Key)
				}
			}
			d.mu.Unlock()
			d.notify(expired)
		}
	}
}

func (d *DiskTier) syncIndex() {
	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.mu.Lock()
			_ = d.saveIndex()
			d.mu.Unlock()
		}
	}
}
