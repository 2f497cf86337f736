// Package cache implements the capacity-bounded, recency-ordered file
// cache shared by the static file server. It is the Go-native
// translation of the original implementation's hand-rolled doubly
// linked list: a container/list intrusive recency chain backed by a
// map for O(1) lookup, so that the list owns entries and the map
// holds a stable handle into it (see the module's design notes on
// avoiding reference cycles in a safe-ownership language).
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/docker/go-units"
	digest "github.com/opencontainers/go-digest"

	"github.com/cachetier/cachetier/pkg/logging"
)

// entry is the intrusive recency-list payload. It is never exposed
// directly to callers; View is the copy taken under lock.
type entry struct {
	filename     string
	content      []byte
	size         int64
	lastAccessed time.Time
	digest       digest.Digest
}

// View is a point-in-time, lock-free copy of a cache entry. Callers
// must never be handed the cache's own backing array; View.Content is
// always a fresh copy taken while the cache lock was held.
type View struct {
	Filename     string
	Content      []byte
	Size         int64
	LastAccessed time.Time
	Digest       digest.Digest
}

// Cache is a capacity-bounded, filename-keyed LRU cache. All mutation
// happens under a single mutex; critical sections never perform I/O
// (callers read files and serve responses outside the lock), matching
// the "never hold the cache lock across send" invariant this package's
// callers rely on.
type Cache struct {
	log      logging.Logger
	capacity int

	mu    sync.Mutex
	ll    *list.List // front = MRU, back = LRU
	index map[string]*list.Element
}

// New creates a cache with the given capacity. A non-positive capacity
// means the cache never admits anything (every Get misses, every Add
// is a no-op that still evicts nothing since there's nothing to keep).
func New(log logging.Logger, capacity int) *Cache {
	return &Cache{
		log:      log,
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Capacity returns the cache's configured entry limit.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Len returns the number of entries currently resident.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Get looks up filename, promoting it to most-recently-used on a hit
// and returning a copy of its bytes. The cache lock is held for the
// scan, the recency update, and the copy, then released; the caller
// never touches cache-owned memory outside the lock.
func (c *Cache) Get(filename string) (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[filename]
	if !ok {
		return View{}, false
	}

	e := el.Value.(*entry)
	e.lastAccessed = time.Now()
	c.ll.MoveToFront(el)

	return copyView(e), true
}

// Add admits filename with the given bytes, evicting the
// least-recently-used entry first if the cache is at capacity. A
// filename already present is replaced (freeing the old entry and
// inserting the new one at the head) rather than rejected or
// duplicated — the spec's own recommendation for the add_to_cache
// collision case the original source left ambiguous. Admission is
// best-effort: if capacity is non-positive the call is a silent no-op.
func (c *Cache) Add(filename string, content []byte) View {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{
		filename:     filename,
		content:      append([]byte(nil), content...),
		size:         int64(len(content)),
		lastAccessed: time.Now(),
		digest:       digest.FromBytes(content),
	}

	if existing, ok := c.index[filename]; ok {
		c.ll.Remove(existing)
		delete(c.index, filename)
	} else if c.capacity > 0 && c.ll.Len() >= c.capacity {
		c.evictLRU()
	}

	if c.capacity <= 0 {
		return copyView(e)
	}

	el := c.ll.PushFront(e)
	c.index[filename] = el

	if c.log != nil {
		c.log.Debugf("Added %q to cache (size: %s)", filename, units.HumanSize(float64(e.size)))
	}

	return copyView(e)
}

// evictLRU removes the tail of the recency list. The caller must hold
// the lock.
func (c *Cache) evictLRU() {
	back := c.ll.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.ll.Remove(back)
	delete(c.index, e.filename)
	if c.log != nil {
		c.log.Debugf("Evicting %q from cache (size: %s)", e.filename, units.HumanSize(float64(e.size)))
	}
}

func copyView(e *entry) View {
	return View{
		Filename:     e.filename,
		Content:      append([]byte(nil), e.content...),
		Size:         e.size,
		LastAccessed: e.lastAccessed,
		Digest:       e.digest,
	}
}
