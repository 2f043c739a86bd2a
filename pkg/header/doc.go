// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package header stores HTTP header fields for the parsers.
//
// # Table
//
// Table is an open hash with a fixed number of buckets. Every entry is keyed by an
// ID, the hash of the case-folded header name, and by the name itself, so two
// different names that happen to share an ID stay apart. Parsers compute the ID
// while scanning the name byte by byte with Hasher and pass it to InsertHashed or
// AddHashed, which saves a second pass over the name.
//
//	Add("Accept", "text/html")
//	Add("Accept", "application/json")
//	Get("accept") // "text/html,application/json"
//
// Set-Cookie is the one field that is never joined. Each Add creates its own entry;
// Get returns the most recent one and Next/All return all of them.
//
// # Allocation
//
// Each Table carries PoolSize preallocated nodes. Once the pool is empty further
// nodes come from the heap and are marked as non-poolable, so Clear returns pool
// nodes to the free list and leaves heap nodes to the garbage collector.
//
// # Known names
//
// Known returns a compressed trie of the standard and common field names. Its IDs
// are positions in KnownNames and are unrelated to table IDs: the trie is exact and
// case-sensitive while table IDs fold case.
package header
