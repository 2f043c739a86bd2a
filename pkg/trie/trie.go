// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package trie maps a fixed set of byte strings to small integer IDs.
//
// Construction happens in two phases. A Builder grows a mutable tree, one node per
// byte, and hands out IDs in insertion order. Compress then flattens the tree into a
// single array where every node's children sit next to each other, so a lookup is a
// walk over array indices with no pointers involved. The Builder is consumed by
// Compress and cannot be used afterwards.
//
// Lookups are exact and case-sensitive: prefixes and superstrings of inserted keys
// are reported as ErrNotFound.
package trie

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrNotFound is returned when a key was not inserted into the trie.
	ErrNotFound = errors.New("trie: key not found")

	// ErrConsumed is returned when a Builder is used after Compress.
	ErrConsumed = errors.New("trie: builder already compressed")

	// ErrEmptyKey is returned when inserting an empty key.
	ErrEmptyKey = errors.New("trie: empty key")

	// ErrTooManyKeys is returned when IDs no longer fit in 16 bits.
	ErrTooManyKeys = errors.New("trie: too many keys")
)

const (
	flagChild    uint8 = 1 << 0
	flagTerminal uint8 = 1 << 1
)

type buildNode struct {
	b        byte
	terminal bool
	id       uint16
	children []*buildNode // sorted by b
}

func (n *buildNode) child(b byte) *buildNode {
	i := sort.Search(len(n.children), func(i int) bool { return n.children[i].b >= b })
	if i < len(n.children) && n.children[i].b == b {
		return n.children[i]
	}
	return nil
}

func (n *buildNode) addChild(b byte) *buildNode {
	i := sort.Search(len(n.children), func(i int) bool { return n.children[i].b >= b })
	if i < len(n.children) && n.children[i].b == b {
		return n.children[i]
	}
	c := &buildNode{b: b}
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = c
	return c
}

// Builder is the mutable construction trie.
type Builder struct {
	root  *buildNode
	keys  int
	nodes int
}

// NewBuilder returns an empty construction trie.
func NewBuilder() *Builder {
	return &Builder{root: &buildNode{}, nodes: 1}
}

// Insert adds key and returns its ID. Inserting an existing key returns the ID
// it was first given.
func (b *Builder) Insert(key []byte) (uint16, error) {
	if b.root == nil {
		return 0, ErrConsumed
	}
	if len(key) == 0 {
		return 0, ErrEmptyKey
	}

	cur := b.root
	for _, c := range key {
		next := cur.child(c)
		if next == nil {
			next = cur.addChild(c)
			b.nodes++
		}
		cur = next
	}
	if cur.terminal {
		return cur.id, nil
	}
	if b.keys > math.MaxUint16 {
		return 0, ErrTooManyKeys
	}
	cur.terminal = true
	cur.id = uint16(b.keys)
	b.keys++
	return cur.id, nil
}

// InsertString is Insert for strings.
func (b *Builder) InsertString(key string) (uint16, error) {
	return b.Insert([]byte(key))
}

// Len returns the number of distinct keys inserted so far.
func (b *Builder) Len() int {
	return b.keys
}

// node is one entry of the compressed array. child is the index of the first
// node of this node's sibling run of children and n is the length of that run.
type node struct {
	flags uint8
	b     byte
	n     uint16
	id    uint16
	child uint32
}

// Trie is the immutable compressed trie. Index 0 is the root.
type Trie struct {
	nodes []node
	keys  int
}

// Compress flattens the builder into a Trie. The builder is released and any
// further call on it returns ErrConsumed.
func (b *Builder) Compress() (*Trie, error) {
	if b.root == nil {
		return nil, ErrConsumed
	}

	t := &Trie{
		nodes: make([]node, 1, b.nodes),
		keys:  b.keys,
	}

	// Breadth-first: children of the node at queue[i] are appended as one run,
	// so every sibling run is contiguous in t.nodes.
	queue := []*buildNode{b.root}
	for i := 0; i < len(queue); i++ {
		src := queue[i]
		dst := &t.nodes[i]
		dst.b = src.b
		if src.terminal {
			dst.flags |= flagTerminal
			dst.id = src.id
		}
		if len(src.children) > 0 {
			dst.flags |= flagChild
			dst.child = uint32(len(t.nodes))
			dst.n = uint16(len(src.children))
			for _, c := range src.children {
				t.nodes = append(t.nodes, node{})
				queue = append(queue, c)
			}
			// t.nodes may have been reallocated by append.
			dst = &t.nodes[i]
		}
		src.children = nil
	}

	b.root = nil
	return t, nil
}

// Build inserts keys in order and compresses the result.
func Build(keys []string) (*Trie, error) {
	b := NewBuilder()
	for _, k := range keys {
		if _, err := b.InsertString(k); err != nil {
			return nil, err
		}
	}
	return b.Compress()
}

// Get returns the ID of key, or ErrNotFound.
func (t *Trie) Get(key []byte) (uint16, error) {
	if t == nil || len(t.nodes) == 0 || len(key) == 0 {
		return 0, ErrNotFound
	}

	cur := 0
	for _, c := range key {
		n := &t.nodes[cur]
		if n.flags&flagChild == 0 {
			return 0, ErrNotFound
		}
		start := int(n.child)
		end := start + int(n.n)
		if end > len(t.nodes) {
			return 0, ErrNotFound
		}
		next := -1
		for i := start; i < end; i++ {
			if t.nodes[i].b == c {
				next = i
				break
			}
			// Runs are sorted by byte.
			if t.nodes[i].b > c {
				break
			}
		}
		if next < 0 {
			return 0, ErrNotFound
		}
		cur = next
	}

	n := &t.nodes[cur]
	if n.flags&flagTerminal == 0 {
		return 0, ErrNotFound
	}
	return n.id, nil
}

// GetString is Get for strings.
func (t *Trie) GetString(key string) (uint16, error) {
	return t.Get([]byte(key))
}

// Len returns the number of keys stored.
func (t *Trie) Len() int {
	return t.keys
}

// Nodes returns the number of entries in the compressed array.
func (t *Trie) Nodes() int {
	return len(t.nodes)
}
