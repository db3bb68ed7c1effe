// Package rescache caches recent interpretation results keyed by an event
// fingerprint at minute granularity, so near-duplicate events skip the full
// decision path.
package rescache

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"edgesentry/internal/bounded"
	"edgesentry/internal/model"
)

// Fingerprint hashes the identity-relevant event fields with the timestamp
// collapsed to its minute bucket.
func Fingerprint(ev model.PerceptionEvent) uint32 {
	h := fnv.New32a()
	h.Write([]byte(ev.EntityType))
	h.Write([]byte{'|'})
	h.Write([]byte(ev.Location))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(ev.Behaviors, ",")))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(ev.Timestamp/60000, 10)))
	return h.Sum32()
}

type entry struct {
	result model.InterpretationResult
	at     time.Time
}

type Cache struct {
	inner *bounded.Cache[uint32, entry]
	ttl   time.Duration
	hits  atomic.Uint64
	miss  atomic.Uint64
	now   func() time.Time
}

func New(capacity int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		inner: bounded.NewCache[uint32, entry](capacity),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Lookup returns the cached result for a near-duplicate event. An entry
// older than the TTL counts as a miss but is left in place; Record
// overwrites it unconditionally.
func (c *Cache) Lookup(ev model.PerceptionEvent) (model.InterpretationResult, bool) {
	e, ok := c.inner.Get(Fingerprint(ev))
	if !ok || c.now().Sub(e.at) >= c.ttl {
		c.miss.Add(1)
		return model.InterpretationResult{}, false
	}
	c.hits.Add(1)
	return e.result, true
}

func (c *Cache) Record(ev model.PerceptionEvent, result model.InterpretationResult) {
	c.inner.Set(Fingerprint(ev), entry{result: result, at: c.now()})
}

func (c *Cache) Len() int {
	return c.inner.Len()
}

func (c *Cache) Clear() {
	c.inner.Clear()
	c.hits.Store(0)
	c.miss.Store(0)
}

func (c *Cache) Hits() uint64 {
	return c.hits.Load()
}

func (c *Cache) Misses() uint64 {
	return c.miss.Load()
}

// HitRate reports hits over total lookups, zero when nothing was looked up.
func (c *Cache) HitRate() float64 {
	h := c.hits.Load()
	m := c.miss.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}
