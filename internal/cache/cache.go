// Package cache provides caching for overlay tiles and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	QueryCacheSize  int
}

// Manager manages tile and query caches.
type Manager struct {
	tileCache  *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TileTTL <= 0 {
		cfg.TileTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 256
	}

	tileCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       32 * 1024,
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		tileCache.Close()
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		tileCache:  tileCache,
		queryCache: queryCache,
	}, nil
}

// GetTile retrieves a tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores a tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// PurgeQueries drops every cached query result.
func (m *Manager) PurgeQueries() {
	m.queryCache.Purge()
}

// OverlayTileKey generates a cache key for an annotation overlay tile.
// revision changes whenever annotations or filters of the dataset change.
func OverlayTileKey(datasetID string, level, x, y, xy, z, t int, revision uint64) string {
	return fmt.Sprintf("overlay:%s:%d/%d/%d:%d,%d,%d:r%d", datasetID, level, x, y, xy, z, t, revision)
}

// VisibleKey generates a cache key for the visible annotation ids under a
// filter set, given its JSON encoding.
func VisibleKey(datasetID string, filtersJSON []byte, annotationRevision uint64) string {
	h := sha256.New()
	h.Write(filtersJSON)
	return fmt.Sprintf("visible:%s:r%d:%s", datasetID, annotationRevision, hex.EncodeToString(h.Sum(nil))[:16])
}

// HistogramKey generates a cache key for a property histogram.
func HistogramKey(datasetID, propertyID string, buckets int, valuesRevision uint64) string {
	return fmt.Sprintf("hist:%s:%s:%d:r%d", datasetID, propertyID, buckets, valuesRevision)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	capacity := m.tileCache.Capacity()
	return map[string]interface{}{
		"tile_cache_len":      m.tileCache.Len(),
		"tile_cache_cap":      capacity,
		"tile_cache_cap_text": humanize.Bytes(uint64(capacity)),
		"query_cache_len":     m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.tileCache.Close()
}
