package compressor

import (
	"container/list"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/store"
	"github.com/vendorgate/gateway/internal/translator"
)

// CacheKey builds the compressor cache key: conversationId + ":" +
// sha256Short of the first 500 chars of each compressed message, joined by
// "|" (spec.md §4.6 "Cache").
func CacheKey(conversationID string, turns []translator.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		parts = append(parts, truncateChars(t.Text, 500))
	}
	joined := strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("%s:%x", conversationID, sum[:8])
}

// cacheRecord is what L2/L3 persist: the summary plus when it was written,
// so TTL expiry can be evaluated independent of tier.
type cacheRecord struct {
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// Cache is the compressor's three-tier cache: L1 is an unbounded
// in-memory map populated by Put and by promotion of L2/L3 hits; L2 is an LRU with a
// byte budget, entry cap, and per-entry TTL; L3 is a durable KV store,
// pruned lazily in small batches (spec.md §4.6 "Cache").
type Cache struct {
	l1mu sync.Mutex
	l1   map[string]cacheRecord

	l2 *lruTier

	l3    store.Store
	l3ttl time.Duration
}

// NewCache creates a three-tier cache backed by l3 (pass a store.MemoryStore
// or a store.SQLiteStore; either satisfies store.Store).
func NewCache(l3 store.Store) *Cache {
	return &Cache{
		l1:    make(map[string]cacheRecord),
		l2:    newLRUTier(config.L2CacheByteBudget, config.L2CacheMaxEntries, config.DefaultCacheTTL),
		l3:    l3,
		l3ttl: config.DefaultCacheTTL,
	}
}

// Get reads L1 then L2 then L3, promoting hits found in a lower tier back up
// (spec.md §4.6 "Read order L1 → L2 → L3").
func (c *Cache) Get(key string) (string, bool) {
	c.l1mu.Lock()
	if rec, ok := c.l1[key]; ok {
		c.l1mu.Unlock()
		return rec.Summary, true
	}
	c.l1mu.Unlock()

	if rec, ok := c.l2.get(key); ok {
		c.promoteL1(key, rec)
		return rec.Summary, true
	}

	if c.l3 != nil {
		if raw, ok, err := c.l3.Get(store.NSStats + "compressor/" + key); err == nil && ok {
			var rec cacheRecord
			if json.Unmarshal(raw, &rec) == nil && time.Since(rec.Timestamp) < c.l3ttl {
				c.promoteL1(key, rec)
				c.l2.put(key, rec)
				return rec.Summary, true
			}
		}
	}

	return "", false
}

// Put writes to L2 and L3 (L1 is populated only on compute, via promoteL1
// from Compress, matching spec.md §4.6: "Writes go to L2 and L3").
func (c *Cache) Put(key, summary string) {
	rec := cacheRecord{Summary: summary, Timestamp: time.Now()}
	c.promoteL1(key, rec)
	c.l2.put(key, rec)

	if c.l3 != nil {
		if raw, err := json.Marshal(rec); err == nil {
			_ = c.l3.Set(store.NSStats+"compressor/"+key, raw)
		}
	}
}

func (c *Cache) promoteL1(key string, rec cacheRecord) {
	c.l1mu.Lock()
	c.l1[key] = rec
	c.l1mu.Unlock()
}

// Sweep prunes expired L3 entries in batches of at most L3SweepBatchSize; the
// gateway's snapshot loop calls it every config.DefaultSnapshotInterval
// (spec.md §4.6 "L3... is pruned lazily (≤ 50 per sweep)").
func (c *Cache) Sweep(now time.Time) {
	if c.l3 == nil {
		return
	}
	keys, err := c.l3.List(store.NSStats + "compressor/")
	if err != nil {
		return
	}

	pruned := 0
	for _, key := range keys {
		if pruned >= config.L3SweepBatchSize {
			return
		}
		raw, ok, err := c.l3.Get(key)
		if err != nil || !ok {
			continue
		}
		var rec cacheRecord
		if json.Unmarshal(raw, &rec) != nil || now.Sub(rec.Timestamp) >= c.l3ttl {
			_ = c.l3.Delete(key)
			pruned++
		}
	}
}

// lruTier is a byte-budgeted, entry-capped, per-entry-TTL LRU (spec.md
// §4.6: "L2 is LRU with byte budget 100 MiB / 500 entries / per-entry
// TTL"). Hand-rolled on container/list, matching the idiom already
// established for translator.SessionConversationMap and
// translator.ToolConvertCache.
type lruTier struct {
	mu        sync.Mutex
	ll        *list.List
	items     map[string]*list.Element
	byteBudget int
	bytesUsed  int
	maxEntries int
	ttl        time.Duration
}

type lruEntry struct {
	key     string
	record  cacheRecord
	storedAt time.Time
	size    int
}

func newLRUTier(byteBudget, maxEntries int, ttl time.Duration) *lruTier {
	return &lruTier{
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		byteBudget: byteBudget,
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (t *lruTier) get(key string) (cacheRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.items[key]
	if !ok {
		return cacheRecord{}, false
	}
	entry := el.Value.(*lruEntry)
	if time.Since(entry.storedAt) >= t.ttl {
		t.removeLocked(el)
		return cacheRecord{}, false
	}
	t.ll.MoveToFront(el)
	return entry.record, true
}

func (t *lruTier) put(key string, rec cacheRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := len(rec.Summary)

	if el, ok := t.items[key]; ok {
		t.removeLocked(el)
	}

	el := t.ll.PushFront(&lruEntry{key: key, record: rec, storedAt: time.Now(), size: size})
	t.items[key] = el
	t.bytesUsed += size

	for (t.bytesUsed > t.byteBudget || t.ll.Len() > t.maxEntries) && t.ll.Len() > 0 {
		oldest := t.ll.Back()
		if oldest == el && t.ll.Len() == 1 {
			break
		}
		t.removeLocked(oldest)
	}
}

func (t *lruTier) removeLocked(el *list.Element) {
	entry := el.Value.(*lruEntry)
	t.bytesUsed -= entry.size
	t.ll.Remove(el)
	delete(t.items, entry.key)
}
