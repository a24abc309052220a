package hamt

import "iter"

// Iter is a single-pass iterator over the entries of a Map. It yields
// every entry exactly once, in an unspecified but deterministic order:
// depth first, visiting the slots of each node in ascending slot-index
// order and the items of a collision node in storage order.
//
// The iterator holds a reference to the tree it traverses, so the map
// handle it came from may be updated, or discarded entirely, while
// iteration is in progress; the iterator keeps seeing the snapshot it
// started from. A second pass requires a fresh iterator.
type Iter[Key, Value any] struct {
	// stack simulates the recursion stack that we'd have if we were
	// doing a conventional recursive iteration through the data
	// structure. Its depth is bounded by the depth of the tree.
	stack []iterFrame[Key, Value]
	key   Key
	value Value
	ok    bool
}

type iterFrame[Key, Value any] struct {
	n    node[Key, Value]
	next int
}

// Iterator returns an iterator over the entries of the map as they are
// at the time of the call.
func (m *Map[Key, Value]) Iterator() *Iter[Key, Value] {
	it := &Iter[Key, Value]{}
	if m.root != nil {
		// The extra reference stops handle updates from editing any
		// node of this snapshot in place while it is being traversed.
		m.root.retain()
		it.stack = append(it.stack, iterFrame[Key, Value]{n: m.root})
	}
	return it
}

// Next advances the iterator to the next entry and reports whether one
// was found.
func (it *Iter[Key, Value]) Next() bool {
	for len(it.stack) > 0 {
		f := &it.stack[len(it.stack)-1]
		switch n := f.n.(type) {
		case *interior[Key, Value]:
			if f.next >= len(n.entries) {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}
			e := &n.entries[f.next]
			f.next++
			if e.child == nil {
				it.key, it.value, it.ok = e.key, e.value, true
				return true
			}
			it.stack = append(it.stack, iterFrame[Key, Value]{n: e.child})
		case *bucket[Key, Value]:
			if f.next >= len(n.items) {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}
			it.key, it.value, it.ok = n.items[f.next].key, n.items[f.next].value, true
			f.next++
			return true
		default:
			panic("hamt: map is in an invalid state")
		}
	}
	it.ok = false
	return false
}

// Key returns the key of the current entry, or the zero value if Next
// has not been called or the iterator is exhausted.
func (it *Iter[Key, Value]) Key() Key {
	if !it.ok {
		return z[Key]()
	}
	return it.key
}

// Value returns the value of the current entry, or the zero value if
// Next has not been called or the iterator is exhausted.
func (it *Iter[Key, Value]) Value() Value {
	if !it.ok {
		return z[Value]()
	}
	return it.value
}

// All returns an iterator over the (key, value) entries of the map as
// they are at the time of the call. The sequence may be ranged over
// more than once; each pass traverses a fresh iterator on the same
// snapshot.
func (m *Map[Key, Value]) All() iter.Seq2[Key, Value] {
	m1 := m.Clone()
	return func(yield func(Key, Value) bool) {
		for it := m1.Iterator(); it.Next(); {
			if !yield(it.key, it.value) {
				return
			}
		}
	}
}

// Keys returns an iterator over the keys of the map as they are at the
// time of the call.
func (m *Map[Key, Value]) Keys() iter.Seq[Key] {
	all := m.All()
	return func(yield func(Key) bool) {
		for k := range all {
			if !yield(k) {
				return
			}
		}
	}
}

// Values returns an iterator over the values of the map as they are at
// the time of the call.
func (m *Map[Key, Value]) Values() iter.Seq[Value] {
	all := m.All()
	return func(yield func(Value) bool) {
		for _, v := range all {
			if !yield(v) {
				return
			}
		}
	}
}
