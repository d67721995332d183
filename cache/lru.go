// Package cache implements the byte-budgeted preview caches.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Key addresses one cache entry.  Source is the identity of the image the
// entry was derived from; Invalidate drops every key with that Source.
type Key struct {
	Source      string
	Fingerprint uint64
}

type entry struct {
	key        Key
	value      interface{}
	size       int64
	lastAccess time.Time
	tick       uint64
}

// TierStats is a point-in-time snapshot of one tier.
type TierStats struct {
	Name      string
	Entries   int
	Bytes     int64
	Budget    int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Tier is a least-recently-used cache bounded by the total size of its
// values.  Recency is a strictly increasing tick, so two entries never share
// a position; the list front is the most recently used entry.
type Tier struct {
	name   string
	budget int64

	mu       sync.Mutex
	used     int64
	tick     uint64
	ll       *list.List
	items    map[Key]*list.Element
	bySource map[string]map[Key]struct{}

	hits, misses, evictions uint64
}

// NewTier returns an empty tier holding at most budget bytes.
func NewTier(name string, budget int64) *Tier {
	return &Tier{
		name:     name,
		budget:   budget,
		ll:       list.New(),
		items:    make(map[Key]*list.Element),
		bySource: make(map[string]map[Key]struct{}),
	}
}

func (t *Tier) Name() string  { return t.name }
func (t *Tier) Budget() int64 { return t.budget }

// Get returns the value for key and refreshes its recency.
func (t *Tier) Get(key Key) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.items[key]
	if !ok {
		t.misses++
		return nil, false
	}
	t.hits++
	t.touchLocked(el)
	return el.Value.(*entry).value, true
}

// peek returns the value for key without touching recency or counters.
func (t *Tier) peek(key Key) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.items[key]; ok {
		return el.Value.(*entry).value, true
	}
	return nil, false
}

// Put stores value under key, replacing any previous value, then evicts
// least recently used entries until the tier fits its budget.  A value
// larger than the whole budget is refused and Put returns false; any older
// value under key is dropped so it is never served after a newer Put.
func (t *Tier) Put(key Key, value interface{}, size int64) bool {
	if size < 0 {
		size = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if size > t.budget {
		if el, ok := t.items[key]; ok {
			t.removeLocked(el)
		}
		return false
	}

	if el, ok := t.items[key]; ok {
		e := el.Value.(*entry)
		t.used += size - e.size
		e.value, e.size = value, size
		t.touchLocked(el)
	} else {
		e := &entry{key: key, value: value, size: size}
		el := t.ll.PushFront(e)
		t.items[key] = el
		t.used += size
		t.touchLocked(el)
		keys := t.bySource[key.Source]
		if keys == nil {
			keys = make(map[Key]struct{})
			t.bySource[key.Source] = keys
		}
		keys[key] = struct{}{}
	}

	for t.used > t.budget {
		oldest := t.ll.Back()
		if oldest == nil {
			break
		}
		t.removeLocked(oldest)
		t.evictions++
	}
	return true
}

// Invalidate deletes every entry derived from source and returns how many
// were removed.
func (t *Tier) Invalidate(source string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := t.bySource[source]
	n := len(keys)
	for k := range keys {
		if el, ok := t.items[k]; ok {
			t.removeLocked(el)
		}
	}
	return n
}

// Clear drops every entry.  Counters are kept.
func (t *Tier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ll.Init()
	t.items = make(map[Key]*list.Element)
	t.bySource = make(map[string]map[Key]struct{})
	t.used = 0
}

func (t *Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *Tier) Bytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

func (t *Tier) Stats() TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TierStats{
		Name:      t.name,
		Entries:   len(t.items),
		Bytes:     t.used,
		Budget:    t.budget,
		Hits:      t.hits,
		Misses:    t.misses,
		Evictions: t.evictions,
	}
}

func (t *Tier) touchLocked(el *list.Element) {
	t.tick++
	e := el.Value.(*entry)
	e.tick = t.tick
	e.lastAccess = time.Now()
	t.ll.MoveToFront(el)
}

func (t *Tier) removeLocked(el *list.Element) {
	e := t.ll.Remove(el).(*entry)
	delete(t.items, e.key)
	t.used -= e.size
	if keys := t.bySource[e.key.Source]; keys != nil {
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(t.bySource, e.key.Source)
		}
	}
}
