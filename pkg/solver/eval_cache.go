package solver

import (
	"container/list"
	"sync"
	"sync/atomic"
)

type evalResult struct {
	objectives [NumObjectives]float64
	penalty    float64
}

// evalCache is a bounded LRU memo from allocation content hash to
// evaluation result. It is scoped to a single solver run and shared by
// the evaluation workers, so access is mutex-guarded.
type evalCache struct {
	mu       sync.Mutex
	limit    int
	entries  map[uint64]*list.Element
	order    *list.List
	hitCount int64
}

type evalCacheEntry struct {
	key    uint64
	result evalResult
}

func newEvalCache(limit int) *evalCache {
	return &evalCache{
		limit:   limit,
		entries: make(map[uint64]*list.Element),
		order:   list.New(),
	}
}

func (c *evalCache) get(key uint64) (evalResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return evalResult{}, false
	}
	c.order.MoveToFront(elem)
	atomic.AddInt64(&c.hitCount, 1)
	return elem.Value.(*evalCacheEntry).result, true
}

func (c *evalCache) put(key uint64, result evalResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*evalCacheEntry).result = result
		return
	}

	elem := c.order.PushFront(&evalCacheEntry{key: key, result: result})
	c.entries[key] = elem

	for c.order.Len() > c.limit {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*evalCacheEntry).key)
	}
}

func (c *evalCache) hits() int64 {
	return atomic.LoadInt64(&c.hitCount)
}

func (c *evalCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
