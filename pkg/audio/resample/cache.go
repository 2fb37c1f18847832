package resample

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// fingerprintSamples caps how much of the input contributes to the cache
// key. Hashing a bounded prefix keeps lookups cheap for large buffers while
// still discriminating between distinct chunks in practice.
const fingerprintSamples = 4096

type cacheKey struct {
	fingerprint uint64
	length      int
	srcRate     int
	dstRate     int
	method      Method
}

// conversionCache memoizes whole-buffer conversions with first-in first-out
// eviction. Entries are stored and returned as copies so callers may mutate
// results freely.
type conversionCache struct {
	mu      sync.Mutex
	max     int
	entries map[cacheKey][]int16
	order   []cacheKey

	hits   uint64
	misses uint64
}

func newConversionCache(max int) *conversionCache {
	return &conversionCache{
		max:     max,
		entries: make(map[cacheKey][]int16, max),
		order:   make([]cacheKey, 0, max),
	}
}

func makeCacheKey(samples []int16, srcRate, dstRate int, m Method) cacheKey {
	n := len(samples)
	if n > fingerprintSamples {
		n = fingerprintSamples
	}
	d := xxhash.New()
	var buf [2]byte
	for _, s := range samples[:n] {
		binary.LittleEndian.PutUint16(buf[:], uint16(s))
		d.Write(buf[:])
	}
	return cacheKey{
		fingerprint: d.Sum64(),
		length:      len(samples),
		srcRate:     srcRate,
		dstRate:     dstRate,
		method:      m,
	}
}

func (c *conversionCache) get(k cacheKey) ([]int16, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	out := make([]int16, len(v))
	copy(out, v)
	return out, true
}

func (c *conversionCache) put(k cacheKey, v []int16) {
	if c.max <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; ok {
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	stored := make([]int16, len(v))
	copy(stored, v)
	c.entries[k] = stored
	c.order = append(c.order, k)
}

func (c *conversionCache) stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

func (c *conversionCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey][]int16, c.max)
	c.order = c.order[:0]
	c.hits, c.misses = 0, 0
}
