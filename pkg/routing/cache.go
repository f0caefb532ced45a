package routing

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const cacheShards = 16

// Cache is the process-wide route cache. Entries expire after a TTL and
// are lazy-deleted on read; a periodic sweeper reclaims the rest. The
// map is sharded by key hash so concurrent Problem builds do not
// serialize on a single lock.
type Cache struct {
	shards    [cacheShards]cacheShard
	ttl       time.Duration
	hits      int64
	misses    int64
	closeChan chan struct{}
	sweeperWG sync.WaitGroup
	closeOnce sync.Once
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	route     Route
	expiresAt time.Time
}

// CacheStats reports hit/miss counters.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// NewCache creates a route cache with the given entry TTL and sweeper
// interval.
func NewCache(ttl, cleanupInterval time.Duration) *Cache {
	c := &Cache{
		ttl:       ttl,
		closeChan: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]cacheEntry)
	}

	c.sweeperWG.Add(1)
	go c.sweeper(cleanupInterval)

	return c
}

func (c *Cache) shard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.shards[h.Sum32()%cacheShards]
}

// Get returns the cached route for key if present and unexpired.
func (c *Cache) Get(key string) (Route, bool) {
	s := c.shard(key)

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return Route{}, false
	}

	if time.Now().After(entry.expiresAt) {
		// Lazy delete of the expired entry
		s.mu.Lock()
		if current, still := s.entries[key]; still && time.Now().After(current.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		atomic.AddInt64(&c.misses, 1)
		return Route{}, false
	}

	atomic.AddInt64(&c.hits, 1)
	return entry.route, true
}

// Set stores a route under key with the cache's TTL.
func (c *Cache) Set(key string, route Route) {
	s := c.shard(key)

	s.mu.Lock()
	s.entries[key] = cacheEntry{route: route, expiresAt: time.Now().Add(c.ttl)}
	s.mu.Unlock()
}

// Len returns the total number of live entries across shards.
func (c *Cache) Len() int {
	total := 0
	for i := range c.shards {
		c.shards[i].mu.RLock()
		total += len(c.shards[i].entries)
		c.shards[i].mu.RUnlock()
	}
	return total
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}

// Close stops the sweeper and waits for it to drain.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
	})
	c.sweeperWG.Wait()
}

func (c *Cache) sweeper(interval time.Duration) {
	defer c.sweeperWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeChan:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, entry := range s.entries {
			if now.After(entry.expiresAt) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}
