// Package lru implements the intrusive, O(1) doubly linked list that
// backs MemoryTier. Nodes live in a flat arena addressed by index rather
// than by pointer, so the list never needs reference counting or weak
// back-links to break cycles — the same reasoning that makes the
// teacher's fastcache prefer a flat byte-slice layout over a pointer-
// chasing map.
package lru

const nilIndex = -1

// Entry is one resident value, as described by the cache's data model: a
// non-empty key, an opaque owned value, and a caller-supplied cost.
type Entry struct {
	Key   string
	Value any
	Cost  uint64

	prev, next int
}

// List is the intrusive LRU list plus the key->index map that makes
// lookup, insertion, and removal O(1). Head is most-recently-used, tail
// least-recently-used; ties are broken by insertion order.
type List struct {
	nodes     []Entry
	index     map[string]int
	free      []int
	head      int
	tail      int
	totalCost uint64
}

// New returns an empty list.
func New() *List {
	return &List{
		index: make(map[string]int),
		head:  nilIndex,
		tail:  nilIndex,
	}
}

// Len returns the number of resident entries.
func (l *List) Len() int { return len(l.index) }

// TotalCost returns the sum of Cost across every resident entry.
func (l *List) TotalCost() uint64 { return l.totalCost }

func (l *List) alloc() int {
	if n := len(l.free); n > 0 {
		idx := l.free[n-1]
		l.free = l.free[:n-1]
		return idx
	}
	l.nodes = append(l.nodes, Entry{})
	return len(l.nodes) - 1
}

// Lookup returns the entry for key, and whether it was present. The
// returned Entry is a snapshot copy; mutate recency/value through
// SetValue or MoveToHead.
func (l *List) Lookup(key string) (Entry, bool) {
	idx, ok := l.index[key]
	if !ok {
		return Entry{}, false
	}
	return l.nodes[idx], true
}

// Contains reports whether key is resident, without affecting order.
func (l *List) Contains(key string) bool {
	_, ok := l.index[key]
	return ok
}

// InsertAtHead inserts a new entry at the head. The caller must ensure
// key is not already present; use MoveToHead plus a value/cost update for
// overwriting an existing key.
func (l *List) InsertAtHead(key string, value any, cost uint64) {
	idx := l.alloc()
	l.nodes[idx] = Entry{Key: key, Value: value, Cost: cost, prev: nilIndex, next: l.head}
	if l.head != nilIndex {
		l.nodes[l.head].prev = idx
	}
	l.head = idx
	if l.tail == nilIndex {
		l.tail = idx
	}
	l.index[key] = idx
	l.totalCost += cost
}

// SetValue overwrites the value and cost of an already-resident key and
// moves it to the head, matching MemoryTier.set's overwrite semantics.
// It is a no-op (returns false) if key is absent.
func (l *List) SetValue(key string, value any, cost uint64) bool {
	idx, ok := l.index[key]
	if !ok {
		return false
	}
	l.totalCost = l.totalCost - l.nodes[idx].Cost + cost
	l.nodes[idx].Value = value
	l.nodes[idx].Cost = cost
	l.moveToHeadIdx(idx)
	return true
}

// MoveToHead moves an already-resident key to the head. Idempotent when
// key is already the head; no-op if key is absent.
func (l *List) MoveToHead(key string) {
	if idx, ok := l.index[key]; ok {
		l.moveToHeadIdx(idx)
	}
}

func (l *List) moveToHeadIdx(idx int) {
	if l.head == idx {
		return
	}
	l.unlink(idx)
	n := &l.nodes[idx]
	n.prev = nilIndex
	n.next = l.head
	if l.head != nilIndex {
		l.nodes[l.head].prev = idx
	}
	l.head = idx
	if l.tail == nilIndex {
		l.tail = idx
	}
}

// unlink splices idx out of the list without touching the index map or
// freeing it; the caller is responsible for both.
func (l *List) unlink(idx int) {
	n := l.nodes[idx]
	if n.prev != nilIndex {
		l.nodes[n.prev].next = n.next
	} else if l.head == idx {
		l.head = n.next
	}
	if n.next != nilIndex {
		l.nodes[n.next].prev = n.prev
	} else if l.tail == idx {
		l.tail = n.prev
	}
}

// Remove deletes key from the list, if present.
func (l *List) Remove(key string) {
	idx, ok := l.index[key]
	if !ok {
		return
	}
	l.unlink(idx)
	l.totalCost -= l.nodes[idx].Cost
	delete(l.index, key)
	l.nodes[idx] = Entry{}
	l.free = append(l.free, idx)
}

// RemoveTail evicts the least-recently-used entry and returns its key.
// It is a no-op returning ("", false) on an empty list.
func (l *List) RemoveTail() (string, bool) {
	if l.tail == nilIndex {
		return "", false
	}
	key := l.nodes[l.tail].Key
	l.Remove(key)
	return key, true
}

// Clear drops every entry and zeroes the running totals.
func (l *List) Clear() {
	l.nodes = nil
	l.free = nil
	l.index = make(map[string]int)
	l.head = nilIndex
	l.tail = nilIndex
	l.totalCost = 0
}
