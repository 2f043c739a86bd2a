// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package header

import "iter"

const (
	// Buckets is the number of hash buckets in a Table. Must be a power of two.
	Buckets = 64

	// PoolSize is the number of nodes preallocated with every Table.
	PoolSize = 16

	bucketMask = Buckets - 1
)

type node struct {
	id       ID
	name     []byte
	value    []byte
	concat   []byte // owned; backs value once a second value was joined
	poolable bool
	next     *node
}

// Table is an open hash of header name/value pairs.
//
// Names and values passed to Insert and Add are borrowed: the Table keeps the
// slices as given and the caller must keep their backing memory unchanged until
// Clear. Joined multi-value results are owned by the Table.
//
// A Table is not safe for concurrent use.
type Table struct {
	buckets [Buckets]*node
	pool    [PoolSize]node
	free    *node
	ready   bool
	size    int
	heap    int
}

// NewTable returns an empty Table. The zero Table is also ready to use, but
// must not be copied after first use.
func NewTable() *Table {
	t := &Table{}
	t.initPool()
	return t
}

func (t *Table) initPool() {
	t.ready = true
	t.free = nil
	for i := len(t.pool) - 1; i >= 0; i-- {
		t.pool[i] = node{poolable: true, next: t.free}
		t.free = &t.pool[i]
	}
}

func (t *Table) alloc() *node {
	if !t.ready {
		t.initPool()
	}
	if t.free != nil {
		n := t.free
		t.free = n.next
		n.next = nil
		return n
	}
	t.heap++
	return &node{}
}

func (t *Table) release(n *node) {
	n.name, n.value, n.concat = nil, nil, nil
	n.id = 0
	if !n.poolable {
		n.next = nil
		t.heap--
		return
	}
	n.next = t.free
	t.free = n
}

func (t *Table) lookup(id ID, name []byte) *node {
	for n := t.buckets[id&bucketMask]; n != nil; n = n.next {
		if n.id == id && EqualFold(n.name, name) {
			return n
		}
	}
	return nil
}

func (t *Table) push(id ID, name, value []byte) {
	n := t.alloc()
	n.id = id
	n.name = name
	n.value = value
	b := id & bucketMask
	n.next = t.buckets[b]
	t.buckets[b] = n
	t.size++
}

// Insert sets name to value, replacing any value already stored for name.
func (t *Table) Insert(name, value []byte) {
	t.InsertHashed(Hash(name), name, value)
}

// InsertHashed is Insert with a precomputed ID. id must equal Hash(name).
func (t *Table) InsertHashed(id ID, name, value []byte) {
	if n := t.lookup(id, name); n != nil {
		n.concat = nil
		n.name = name
		n.value = value
		return
	}
	t.push(id, name, value)
}

// Add appends value to name, joining multiple values with a comma.
// Set-Cookie values are never joined; each one is stored separately.
func (t *Table) Add(name, value []byte) {
	t.AddHashed(Hash(name), name, value)
}

// AddHashed is Add with a precomputed ID. id must equal Hash(name).
func (t *Table) AddHashed(id ID, name, value []byte) {
	if id == IDSetCookie && EqualFold(name, setCookie) {
		t.push(id, name, value)
		return
	}
	n := t.lookup(id, name)
	if n == nil {
		t.push(id, name, value)
		return
	}

	size := len(n.value) + 1 + len(value)
	if n.concat == nil {
		buf := make([]byte, 0, size)
		buf = append(buf, n.value...)
		n.concat = buf
	} else if cap(n.concat) < size {
		buf := make([]byte, len(n.concat), 2*size)
		copy(buf, n.concat)
		n.concat = buf
	}
	n.concat = append(n.concat, ',')
	n.concat = append(n.concat, value...)
	n.value = n.concat
}

var setCookie = []byte("Set-Cookie")

// Get returns the value stored for name.
func (t *Table) Get(name []byte) ([]byte, bool) {
	return t.GetHashed(Hash(name), name)
}

// GetString is Get for string names.
func (t *Table) GetString(name string) (string, bool) {
	v, ok := t.Get([]byte(name))
	return string(v), ok
}

// GetHashed is Get with a precomputed ID.
func (t *Table) GetHashed(id ID, name []byte) ([]byte, bool) {
	if n := t.lookup(id, name); n != nil {
		return n.value, true
	}
	return nil, false
}

// GetByID returns the value of the first entry with the given ID. It skips the
// name comparison, so it is only meaningful for IDs of known names.
func (t *Table) GetByID(id ID) ([]byte, bool) {
	for n := t.buckets[id&bucketMask]; n != nil; n = n.next {
		if n.id == id {
			return n.value, true
		}
	}
	return nil, false
}

// Delete removes every entry stored for name.
func (t *Table) Delete(name []byte) {
	id := Hash(name)
	b := id & bucketMask
	prev := &t.buckets[b]
	for n := *prev; n != nil; n = *prev {
		if n.id == id && EqualFold(n.name, name) {
			*prev = n.next
			t.size--
			t.release(n)
			continue
		}
		prev = &n.next
	}
}

// Clear removes all entries. The Table is ready for reuse.
func (t *Table) Clear() {
	for i := range t.buckets {
		n := t.buckets[i]
		for n != nil {
			next := n.next
			t.release(n)
			n = next
		}
		t.buckets[i] = nil
	}
	t.size = 0
}

// Len returns the number of entries. Set-Cookie entries count individually.
func (t *Table) Len() int {
	return t.size
}

// Stats returns how many live entries came from the pool and from the heap.
func (t *Table) Stats() (pooled, heap int) {
	return t.size - t.heap, t.heap
}

// Cursor tracks an iteration over a Table. The zero Cursor starts at the beginning.
type Cursor struct {
	bucket int
	node   *node
}

// Next advances c and returns the entry it lands on. Entries come in bucket order,
// then chain order. ok is false once the table is exhausted; the Cursor then
// restarts from the beginning.
func (t *Table) Next(c *Cursor) (name, value []byte, ok bool) {
	if c.node != nil {
		c.node = c.node.next
		if c.node == nil {
			c.bucket++
		}
	}
	for c.node == nil {
		if c.bucket >= Buckets {
			*c = Cursor{}
			return nil, nil, false
		}
		c.node = t.buckets[c.bucket]
		if c.node == nil {
			c.bucket++
		}
	}
	return c.node.name, c.node.value, true
}

// All iterates over every entry in the same order as Next.
func (t *Table) All() iter.Seq2[[]byte, []byte] {
	return func(yield func(name, value []byte) bool) {
		var c Cursor
		for {
			name, value, ok := t.Next(&c)
			if !ok || !yield(name, value) {
				return
			}
		}
	}
}
