package hamt

import (
	"math/bits"
	"sync/atomic"
)

const (
	// bitsPerLevel is the number of hash bits consumed per tree level,
	// giving interior nodes up to 2^bitsPerLevel slots.
	bitsPerLevel = 5

	// lastLevel is the deepest tree level. Levels 0 through 11 consume
	// five hash bits each; at lastLevel the shift is 60, so the slot
	// index is the top four bits of the hash. Two distinct keys whose
	// slots still collide at lastLevel share the full 64-bit hash and
	// are stored in a collision node.
	lastLevel = 64 / bitsPerLevel

	levelMask = 1<<bitsPerLevel - 1
)

// slotIndex returns the slot selected by hash at the given level.
func slotIndex(hash uint64, level int) uint32 {
	return uint32(hash>>(bitsPerLevel*level)) & levelMask
}

// flagPos returns the bitmap flag for the slot selected by hash at the
// given level, and the position of that slot within the dense entry
// slice of a node with bitmap bmp.
func flagPos(hash uint64, level int, bmp uint32) (uint32, int) {
	flag := uint32(1) << slotIndex(hash, level)
	pos := bits.OnesCount32(bmp & (flag - 1))
	return flag, pos
}

// shared is the atomic reference count embedded in every node. A node
// may be edited in place only while the count is exactly 1; all other
// edits must copy the node first so that every other referent keeps
// observing the old version.
type shared struct {
	refs atomic.Int32
}

func (s *shared) retain() {
	s.refs.Add(1)
}

func (s *shared) release() {
	if s.refs.Add(-1) < 0 {
		panic("hamt: node released more often than retained")
	}
}

// unique reports whether the caller holds the only reference to the
// node. The caller must itself hold a reference, so the result cannot
// be invalidated concurrently: new references are only ever created by
// whoever holds an existing one.
func (s *shared) unique() bool {
	return s.refs.Load() == 1
}

// node is either an *interior node or a collision *bucket.
type node[Key, Value any] interface {
	retain()
	release()
	unique() bool
}

// entry is one occupied slot of an interior node: either an inline
// key-value leaf, or a reference to a child node one level further
// down. child is nil for leaves.
type entry[Key, Value any] struct {
	child node[Key, Value]

	// Leaf fields, meaningful only when child is nil. The hash is
	// cached so that displacing the leaf during an insertion does not
	// need a second hash computation.
	hash  uint64
	key   Key
	value Value
}

func leafEntry[Key, Value any](hash uint64, key Key, value Value) entry[Key, Value] {
	return entry[Key, Value]{hash: hash, key: key, value: value}
}

func childEntry[Key, Value any](n node[Key, Value]) entry[Key, Value] {
	return entry[Key, Value]{child: n}
}

// interior is a branching node. mask has one bit set per occupied slot;
// the entries slice is dense, with the entry for slot i stored at
// position popcount(mask & (1<<i - 1)).
type interior[Key, Value any] struct {
	shared
	mask    uint32
	entries []entry[Key, Value]
}

func newInterior[Key, Value any](mask uint32, entries []entry[Key, Value]) *interior[Key, Value] {
	n := &interior[Key, Value]{mask: mask, entries: entries}
	n.refs.Store(1)
	return n
}

// copyWithEntry returns a copy of n with e stored in the slot
// designated by flag, either replacing the entry at pos (when the slot
// is occupied) or inserted as a new slot at pos. Children carried over
// into the copy gain a reference; e's reference, if any, is donated by
// the caller, and a replaced child keeps belonging to n alone.
func (n *interior[Key, Value]) copyWithEntry(flag uint32, pos int, e entry[Key, Value]) *interior[Key, Value] {
	var es []entry[Key, Value]
	if n.mask&flag != 0 {
		es = make([]entry[Key, Value], len(n.entries))
		copy(es, n.entries)
	} else {
		es = make([]entry[Key, Value], len(n.entries)+1)
		copy(es, n.entries[:pos])
		copy(es[pos+1:], n.entries[pos:])
	}
	es[pos] = e
	for i := range es {
		if i != pos && es[i].child != nil {
			es[i].child.retain()
		}
	}
	return newInterior(n.mask|flag, es)
}

// copyWithoutEntry returns a copy of n lacking the slot designated by
// flag. The removed slot's child, if any, keeps belonging to n alone.
func (n *interior[Key, Value]) copyWithoutEntry(flag uint32, pos int) *interior[Key, Value] {
	es := make([]entry[Key, Value], len(n.entries)-1)
	copy(es, n.entries[:pos])
	copy(es[pos:], n.entries[pos+1:])
	for i := range es {
		if es[i].child != nil {
			es[i].child.retain()
		}
	}
	return newInterior(n.mask&^flag, es)
}

// setEntryInPlace replaces the entry at pos, releasing any child the
// old entry referenced. The caller must own n uniquely.
func (n *interior[Key, Value]) setEntryInPlace(pos int, e entry[Key, Value]) {
	if old := n.entries[pos].child; old != nil && old != e.child {
		old.release()
	}
	n.entries[pos] = e
}

// insertEntryInPlace adds e as a new slot designated by flag. The
// caller must own n uniquely and the slot must be empty.
func (n *interior[Key, Value]) insertEntryInPlace(flag uint32, pos int, e entry[Key, Value]) {
	n.entries = append(n.entries, entry[Key, Value]{})
	copy(n.entries[pos+1:], n.entries[pos:])
	n.entries[pos] = e
	n.mask |= flag
}

// removeEntryInPlace removes the slot designated by flag, releasing its
// child if it had one. The caller must own n uniquely.
func (n *interior[Key, Value]) removeEntryInPlace(flag uint32, pos int) {
	if c := n.entries[pos].child; c != nil {
		c.release()
	}
	n.entries = append(n.entries[:pos], n.entries[pos+1:]...)
	n.mask &^= flag
}

// bucket holds the entries of keys sharing a full 64-bit hash, beyond
// which no further slicing can separate them. A bucket always holds at
// least two items; a bucket that shrinks to one is collapsed back into
// a leaf by the removal path.
type bucket[Key, Value any] struct {
	shared
	hash  uint64
	items []item[Key, Value]
}

// item is a single key-value pair inside a bucket.
type item[Key, Value any] struct {
	key   Key
	value Value
}

func newBucket[Key, Value any](hash uint64, items []item[Key, Value]) *bucket[Key, Value] {
	b := &bucket[Key, Value]{hash: hash, items: items}
	b.refs.Store(1)
	return b
}
