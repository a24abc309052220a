/*
Package hamt provides a persistent hash map implemented as a hash array
mapped trie, the structure presented in the Ideal Hash Trees paper by
Phil Bagwell:

http://lampwww.epfl.ch/papers/idealhashtrees.pdf

A Map is a snapshot value: updating operations leave every other live
handle unchanged and return (or rebind to) a new version that shares
the unchanged majority of the tree with its predecessor. Full 64-bit
hash collisions are held in dedicated collision nodes, an idea borrowed
from Clojure's map implementation.

Internally every node carries an atomic reference count. An update
copies the nodes along its path that other handles can still observe,
but edits uniquely-owned nodes in place, which makes repeated updates
through a single handle cheap without compromising any snapshot.
*/
package hamt

import (
	"bytes"
	"fmt"
	"hash/maphash"
	"strings"
)

var seed = maphash.MakeSeed()

// StringHash returns the hash used for string keys by default.
func StringHash(key string) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	h.WriteString(key)
	return h.Sum64()
}

// BytesHash returns the hash used for []byte keys by default.
func BytesHash(key []byte) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	h.Write(key)
	return h.Sum64()
}

// String is a string with a Hash method, for use as a Map key type.
type String string

func (s String) Hash() uint64 {
	return StringHash(string(s))
}

// Hasher is implemented by key types that know how to hash themselves.
type Hasher interface {
	comparable
	Hash() uint64
}

// Map is a persistent hash map from Key to Value. The zero value is
// not ready for use; create maps with New, NewWithFuncs or
// NewComparable.
//
// A single handle must not be used from multiple goroutines
// concurrently, but distinct handles sharing structure may be: the
// only shared mutable state is the nodes' reference counts.
type Map[Key, Value any] struct {
	root     *interior[Key, Value] // nil when the map is empty
	size     int
	hashFunc func(Key) uint64
	eqFunc   func(Key, Key) bool
}

// New returns a new empty Map keyed by a self-hashing type.
func New[Key Hasher, Value any]() *Map[Key, Value] {
	return NewWithFuncs[Key, Value](func(k1, k2 Key) bool {
		return k1 == k2
	}, Key.Hash)
}

// NewComparable returns a new empty Map for any comparable key type,
// hashed with hash/maphash.
func NewComparable[Key comparable, Value any]() *Map[Key, Value] {
	return NewWithFuncs[Key, Value](func(k1, k2 Key) bool {
		return k1 == k2
	}, func(k Key) uint64 {
		return maphash.Comparable(seed, k)
	})
}

// NewWithFuncs is like New except that it uses explicit functions for
// comparison and hashing instead of relying on comparison and hashing
// on the key value itself. A nil eqFunc or hashFunc is allowed for
// string and []byte keys, for which defaults are supplied.
func NewWithFuncs[Key, Value any](
	eqFunc func(k1, k2 Key) bool,
	hashFunc func(Key) uint64,
) *Map[Key, Value] {
	if eqFunc == nil {
		var k Key
		switch (interface{}(k)).(type) {
		case string:
			eqFunc = interface{}(func(k1, k2 string) bool {
				return k1 == k2
			}).(func(Key, Key) bool)
		case []byte:
			eqFunc = interface{}(bytes.Equal).(func(Key, Key) bool)
		default:
			panic(fmt.Errorf("no equality type known for %T", k))
		}
	}
	if hashFunc == nil {
		var k Key
		switch (interface{}(k)).(type) {
		case string:
			hashFunc = interface{}(StringHash).(func(Key) uint64)
		case []byte:
			hashFunc = interface{}(BytesHash).(func(Key) uint64)
		default:
			panic(fmt.Errorf("no hash type known for %T", k))
		}
	}
	return &Map[Key, Value]{
		eqFunc:   eqFunc,
		hashFunc: hashFunc,
	}
}

// Len returns the number of entries in the map.
func (m *Map[Key, Value]) Len() int {
	return m.size
}

// Get returns the value stored under key and reports whether the key
// is present. It never changes the map and performs no allocation.
func (m *Map[Key, Value]) Get(key Key) (Value, bool) {
	if m.root == nil {
		return z[Value](), false
	}
	hash := m.hashFunc(key)
	n := m.root
	for level := 0; ; level++ {
		flag, pos := flagPos(hash, level, n.mask)
		if n.mask&flag == 0 {
			return z[Value](), false
		}
		e := &n.entries[pos]
		if e.child == nil {
			if e.hash == hash && m.eqFunc(e.key, key) {
				return e.value, true
			}
			return z[Value](), false
		}
		switch c := e.child.(type) {
		case *interior[Key, Value]:
			n = c
		case *bucket[Key, Value]:
			if c.hash != hash {
				return z[Value](), false
			}
			for i := range c.items {
				if m.eqFunc(c.items[i].key, key) {
					return c.items[i].value, true
				}
			}
			return z[Value](), false
		default:
			panic("hamt: map is in an invalid state")
		}
	}
}

// Clone returns a new handle on the same map contents. It is O(1): the
// two handles share the entire tree and evolve independently from this
// point on, each copying whatever nodes the other can still observe.
func (m *Map[Key, Value]) Clone() *Map[Key, Value] {
	if m.root != nil {
		m.root.retain()
	}
	m1 := *m
	return &m1
}

// With returns a new map that stores value under key. The receiver is
// left unchanged.
func (m *Map[Key, Value]) With(key Key, value Value) *Map[Key, Value] {
	m1, _ := m.WithSize(key, value)
	return m1
}

// WithSize is like With but additionally reports whether the map grew,
// which is false when an entry for the key already existed and was
// replaced.
func (m *Map[Key, Value]) WithSize(key Key, value Value) (*Map[Key, Value], bool) {
	m1 := m.Clone()
	grew := m1.Set(key, value)
	return m1, grew
}

// Without returns a new map lacking any entry for key, and reports
// whether an entry was removed. The receiver is left unchanged.
func (m *Map[Key, Value]) Without(key Key) (*Map[Key, Value], bool) {
	m1 := m.Clone()
	removed := m1.Delete(key)
	return m1, removed
}

// Set stores value under key, rebinding the handle to the updated
// version of the map. Nodes this handle owns uniquely are edited in
// place; nodes shared with other handles are copied, so no other
// handle ever observes the update. It reports whether the map grew.
func (m *Map[Key, Value]) Set(key Key, value Value) bool {
	hash := m.hashFunc(key)
	if m.root == nil {
		idx := slotIndex(hash, 0)
		m.root = newInterior(1<<idx, []entry[Key, Value]{leafEntry(hash, key, value)})
		m.size = 1
		return true
	}
	root, grew := m.insert(m.root, hash, 0, key, value, true)
	if root != m.root {
		m.root.release()
		m.root = root
	}
	if grew {
		m.size++
	}
	return grew
}

// Delete removes the entry stored under key, rebinding the handle to
// the updated version of the map, and reports whether an entry was
// removed. As with Set, no other handle observes the update.
func (m *Map[Key, Value]) Delete(key Key) bool {
	if m.root == nil {
		return false
	}
	hash := m.hashFunc(key)
	r, removed := m.remove(m.root, hash, 0, key, true)
	if !removed {
		return false
	}
	switch r.kind {
	case removalNone:
		// The root was edited in place.
	case removalReplace:
		m.root.release()
		m.root = r.child
	case removalCollapse:
		// A single leaf remains. The root, alone, is allowed to be an
		// interior node holding one leaf slot.
		idx := slotIndex(r.leaf.hash, 0)
		m.root.release()
		m.root = newInterior(1<<idx, []entry[Key, Value]{r.leaf})
	case removalKill:
		m.root.release()
		m.root = nil
	}
	m.size--
	return true
}

// String returns a debug rendering of the map. Entry order is
// unspecified, as for iteration.
func (m *Map[Key, Value]) String() string {
	var sb strings.Builder
	sb.WriteString("map[")
	first := true
	for k, v := range m.All() {
		if !first {
			sb.WriteString(" ")
		}
		first = false
		fmt.Fprintf(&sb, "%v:%v", k, v)
	}
	sb.WriteString("]")
	return sb.String()
}

// insert adds or replaces the entry for key below n, which sits at the
// given level. owned reports whether every node from the root down to
// and including n's parent is uniquely owned by this handle; only then
// may n itself be considered for editing in place. It returns the node
// to install at n's position, which is n itself when the edit happened
// in place, and reports whether the map grew.
func (m *Map[Key, Value]) insert(n *interior[Key, Value], hash uint64, level int, key Key, value Value, owned bool) (*interior[Key, Value], bool) {
	owned = owned && n.unique()
	flag, pos := flagPos(hash, level, n.mask)

	if n.mask&flag == 0 {
		e := leafEntry(hash, key, value)
		if owned {
			n.insertEntryInPlace(flag, pos, e)
			return n, true
		}
		return n.copyWithEntry(flag, pos, e), true
	}

	e := &n.entries[pos]
	if e.child == nil {
		if e.hash == hash && m.eqFunc(e.key, key) {
			ne := leafEntry(hash, key, value)
			if owned {
				n.setEntryInPlace(pos, ne)
				return n, false
			}
			return n.copyWithEntry(flag, pos, ne), false
		}
		// The slot holds a leaf for a different key: both entries move
		// one level down, into a collision node if the hashes are
		// fully equal and a fresh subtree otherwise.
		var c node[Key, Value]
		if e.hash == hash {
			c = newBucket(hash, []item[Key, Value]{
				{key: key, value: value},
				{key: e.key, value: e.value},
			})
		} else {
			c = splitLeaves(level+1, leafEntry(hash, key, value), *e)
		}
		ce := childEntry[Key, Value](c)
		if owned {
			n.setEntryInPlace(pos, ce)
			return n, true
		}
		return n.copyWithEntry(flag, pos, ce), true
	}

	switch c := e.child.(type) {
	case *interior[Key, Value]:
		nc, grew := m.insert(c, hash, level+1, key, value, owned)
		if nc == c {
			return n, grew
		}
		ce := childEntry[Key, Value](nc)
		if owned {
			n.setEntryInPlace(pos, ce)
			return n, grew
		}
		return n.copyWithEntry(flag, pos, ce), grew
	case *bucket[Key, Value]:
		if c.hash == hash {
			nb, grew := m.bucketWith(c, key, value, owned)
			if nb == c {
				return n, grew
			}
			ce := childEntry[Key, Value](nb)
			if owned {
				n.setEntryInPlace(pos, ce)
				return n, grew
			}
			return n.copyWithEntry(flag, pos, ce), grew
		}
		// A key with a different hash reached the bucket's slot: push
		// the bucket one level down and place the new leaf beside it.
		c.retain()
		nc := splitBucket(c, level+1, leafEntry(hash, key, value))
		ce := childEntry[Key, Value](nc)
		if owned {
			n.setEntryInPlace(pos, ce)
			return n, true
		}
		return n.copyWithEntry(flag, pos, ce), true
	default:
		panic("hamt: map is in an invalid state")
	}
}

// bucketWith returns b with (key, value) stored, reusing b itself when
// it is uniquely owned along an owned spine.
func (m *Map[Key, Value]) bucketWith(b *bucket[Key, Value], key Key, value Value, owned bool) (*bucket[Key, Value], bool) {
	owned = owned && b.unique()
	for i := range b.items {
		if m.eqFunc(b.items[i].key, key) {
			if owned {
				b.items[i].value = value
				return b, false
			}
			items := make([]item[Key, Value], len(b.items))
			copy(items, b.items)
			items[i] = item[Key, Value]{key: key, value: value}
			return newBucket(b.hash, items), false
		}
	}
	if owned {
		b.items = append(b.items, item[Key, Value]{key: key, value: value})
		return b, true
	}
	items := make([]item[Key, Value], len(b.items)+1)
	copy(items, b.items)
	items[len(b.items)] = item[Key, Value]{key: key, value: value}
	return newBucket(b.hash, items), true
}

// splitLeaves builds the chain of interior nodes that separates two
// leaves whose hashes differ, starting at the given level. The chain
// is a single-slot node per level until the hash slices diverge, at
// which point both leaves are placed in their respective slots.
func splitLeaves[Key, Value any](level int, a, b entry[Key, Value]) *interior[Key, Value] {
	ai := slotIndex(a.hash, level)
	bi := slotIndex(b.hash, level)
	switch {
	case ai == bi:
		// Differing hashes always diverge by lastLevel, where the
		// slices cover the remaining bits.
		c := splitLeaves(level+1, a, b)
		return newInterior(1<<ai, []entry[Key, Value]{childEntry[Key, Value](c)})
	case ai < bi:
		return newInterior(1<<ai|1<<bi, []entry[Key, Value]{a, b})
	default:
		return newInterior(1<<ai|1<<bi, []entry[Key, Value]{b, a})
	}
}

// splitBucket builds the chain of interior nodes that separates a
// collision bucket from a leaf whose hash differs from the bucket's,
// starting at the given level. It assumes ownership of one reference
// to b.
func splitBucket[Key, Value any](b *bucket[Key, Value], level int, lf entry[Key, Value]) *interior[Key, Value] {
	bi := slotIndex(b.hash, level)
	li := slotIndex(lf.hash, level)
	switch {
	case bi == li:
		c := splitBucket(b, level+1, lf)
		return newInterior(1<<bi, []entry[Key, Value]{childEntry[Key, Value](c)})
	case bi < li:
		return newInterior(1<<bi|1<<li, []entry[Key, Value]{childEntry[Key, Value](b), lf})
	default:
		return newInterior(1<<bi|1<<li, []entry[Key, Value]{lf, childEntry[Key, Value](b)})
	}
}

// removal tells the parent level what to do after a removal in the
// subtree below one of its slots.
type removal[Key, Value any] struct {
	kind  removalKind
	child *interior[Key, Value] // removalReplace
	leaf  entry[Key, Value]     // removalCollapse
}

type removalKind uint8

const (
	// removalNone: nothing to install, either because the key was not
	// found or because the subtree was edited in place. The two cases
	// are told apart by the separate removed result.
	removalNone removalKind = iota
	// removalReplace: install child in place of the subtree.
	removalReplace
	// removalCollapse: the subtree shrank to a single leaf, which the
	// parent inlines into its slot, possibly collapsing further.
	removalCollapse
	// removalKill: the subtree became empty; clear the parent slot.
	removalKill
)

// remove deletes the entry for key below n, which sits at the given
// level. owned has the same meaning as for insert. The boolean result
// reports whether an entry was removed.
func (m *Map[Key, Value]) remove(n *interior[Key, Value], hash uint64, level int, key Key, owned bool) (removal[Key, Value], bool) {
	owned = owned && n.unique()
	flag, pos := flagPos(hash, level, n.mask)
	if n.mask&flag == 0 {
		return removal[Key, Value]{}, false
	}

	e := &n.entries[pos]
	if e.child == nil {
		if e.hash != hash || !m.eqFunc(e.key, key) {
			return removal[Key, Value]{}, false
		}
		return m.dropSlot(n, flag, pos, owned), true
	}

	switch c := e.child.(type) {
	case *interior[Key, Value]:
		r, removed := m.remove(c, hash, level+1, key, owned)
		if !removed {
			return removal[Key, Value]{}, false
		}
		switch r.kind {
		case removalNone:
			return removal[Key, Value]{}, true
		case removalReplace:
			return m.installEntry(n, flag, pos, childEntry[Key, Value](r.child), owned), true
		case removalCollapse:
			if len(n.entries) == 1 {
				// Inlining the leaf would leave a single-leaf interior
				// node below the root; collapse this level as well.
				return r, true
			}
			return m.installEntry(n, flag, pos, r.leaf, owned), true
		case removalKill:
			return m.dropSlot(n, flag, pos, owned), true
		default:
			panic("hamt: map is in an invalid state")
		}
	case *bucket[Key, Value]:
		if c.hash != hash {
			return removal[Key, Value]{}, false
		}
		at := -1
		for i := range c.items {
			if m.eqFunc(c.items[i].key, key) {
				at = i
				break
			}
		}
		if at < 0 {
			return removal[Key, Value]{}, false
		}
		if len(c.items) == 2 {
			// The collision is resolved: the surviving pair becomes a
			// plain leaf again.
			other := c.items[1-at]
			lf := leafEntry(c.hash, other.key, other.value)
			if len(n.entries) == 1 {
				return removal[Key, Value]{kind: removalCollapse, leaf: lf}, true
			}
			return m.installEntry(n, flag, pos, lf, owned), true
		}
		if owned && c.unique() {
			c.items = append(c.items[:at], c.items[at+1:]...)
			return removal[Key, Value]{}, true
		}
		items := make([]item[Key, Value], 0, len(c.items)-1)
		items = append(items, c.items[:at]...)
		items = append(items, c.items[at+1:]...)
		return m.installEntry(n, flag, pos, childEntry[Key, Value](newBucket(c.hash, items)), owned), true
	default:
		panic("hamt: map is in an invalid state")
	}
}

// installEntry places e in n's slot designated by flag, in place when
// owned and by copy otherwise, and wraps the outcome for the parent.
func (m *Map[Key, Value]) installEntry(n *interior[Key, Value], flag uint32, pos int, e entry[Key, Value], owned bool) removal[Key, Value] {
	if owned {
		n.setEntryInPlace(pos, e)
		return removal[Key, Value]{}
	}
	return removal[Key, Value]{kind: removalReplace, child: n.copyWithEntry(flag, pos, e)}
}

// dropSlot removes the slot designated by flag from n and decides what
// the parent should install, collapsing n when only a single leaf
// would remain.
func (m *Map[Key, Value]) dropSlot(n *interior[Key, Value], flag uint32, pos int, owned bool) removal[Key, Value] {
	switch {
	case len(n.entries) == 1:
		return removal[Key, Value]{kind: removalKill}
	case len(n.entries) == 2:
		if other := n.entries[1-pos]; other.child == nil {
			return removal[Key, Value]{kind: removalCollapse, leaf: other}
		}
	}
	if owned {
		n.removeEntryInPlace(flag, pos)
		return removal[Key, Value]{}
	}
	return removal[Key, Value]{kind: removalReplace, child: n.copyWithoutEntry(flag, pos)}
}

// z returns the zero value of V.
func z[V any]() V {
	var v V
	return v
}
