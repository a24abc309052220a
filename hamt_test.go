package hamt_test

import (
	"math/rand"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/rogpeppe/hamt"
)

func TestEmpty(t *testing.T) {
	m := hamt.NewComparable[int, int]()
	qt.Assert(t, qt.Equals(m.Len(), 0))

	_, ok := m.Get(3)
	qt.Assert(t, qt.IsFalse(ok))

	qt.Assert(t, qt.IsFalse(m.Delete(3)))

	m1, removed := m.Without(3)
	qt.Assert(t, qt.IsFalse(removed))
	qt.Assert(t, qt.Equals(m1.Len(), 0))
}

func TestSetGet(t *testing.T) {
	m := hamt.NewComparable[int, int]()
	for i := 1; i <= 8; i++ {
		qt.Assert(t, qt.IsTrue(m.Set(i, i)))
	}
	qt.Assert(t, qt.Equals(m.Len(), 8))

	v, ok := m.Get(5)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 5))

	_, ok = m.Get(9)
	qt.Assert(t, qt.IsFalse(ok))

	got := make(map[int]int)
	for k, v := range m.All() {
		_, dup := got[k]
		qt.Assert(t, qt.IsFalse(dup))
		got[k] = v
	}
	qt.Assert(t, qt.DeepEquals(got, map[int]int{
		1: 1, 2: 2, 3: 3, 4: 4, 5: 5, 6: 6, 7: 7, 8: 8,
	}))
}

func TestReplace(t *testing.T) {
	m := hamt.NewComparable[string, int]()
	qt.Assert(t, qt.IsTrue(m.Set("k", 1)))
	qt.Assert(t, qt.IsFalse(m.Set("k", 2)))
	qt.Assert(t, qt.Equals(m.Len(), 1))

	v, ok := m.Get("k")
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 2))

	m1, grew := m.WithSize("k", 3)
	qt.Assert(t, qt.IsFalse(grew))
	qt.Assert(t, qt.Equals(m1.Len(), 1))

	// The receiver still holds the old value.
	v, _ = m.Get("k")
	qt.Assert(t, qt.Equals(v, 2))
	v, _ = m1.Get("k")
	qt.Assert(t, qt.Equals(v, 3))
}

func TestWithoutPersistence(t *testing.T) {
	m := hamt.NewComparable[int, int]()
	for i := 0; i <= 1000; i++ {
		m.Set(i, i)
	}
	qt.Assert(t, qt.Equals(m.Len(), 1001))

	m1, removed := m.Without(500)
	qt.Assert(t, qt.IsTrue(removed))
	qt.Assert(t, qt.Equals(m1.Len(), 1000))
	qt.Assert(t, qt.Equals(m.Len(), 1001))

	_, ok := m1.Get(500)
	qt.Assert(t, qt.IsFalse(ok))

	v, ok := m.Get(500)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 500))

	// A sample of the other keys is still present in the new map.
	for i := 0; i <= 1000; i += 97 {
		if i == 500 {
			continue
		}
		v, ok := m1.Get(i)
		qt.Assert(t, qt.IsTrue(ok))
		qt.Assert(t, qt.Equals(v, i))
	}
}

func TestWithLeavesReceiverUnchanged(t *testing.T) {
	m := hamt.NewComparable[int, string]()
	m.Set(1, "one")

	m1 := m.With(2, "two")
	qt.Assert(t, qt.Equals(m.Len(), 1))
	qt.Assert(t, qt.Equals(m1.Len(), 2))

	_, ok := m.Get(2)
	qt.Assert(t, qt.IsFalse(ok))

	v, ok := m1.Get(1)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, "one"))
}

func TestRemoveTwice(t *testing.T) {
	m := hamt.NewComparable[int, int]()
	m.Set(7, 7)

	m1, removed := m.Without(7)
	qt.Assert(t, qt.IsTrue(removed))

	m2, removed := m1.Without(7)
	qt.Assert(t, qt.IsFalse(removed))
	qt.Assert(t, qt.Equals(m2.Len(), 0))
}

func TestCloneSnapshot(t *testing.T) {
	const n = 100
	rng := rand.New(rand.NewSource(1))

	keys := make([]uint64, 0, n)
	seen := make(map[uint64]bool)
	for len(keys) < n {
		k := rng.Uint64()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	m := hamt.NewComparable[uint64, uint64]()
	ref := make(map[uint64]uint64)
	for _, k := range keys {
		m.Set(k, k*2)
		ref[k] = k * 2
	}

	snap := m.Clone()
	for i := 0; i < n; i++ {
		// Roughly half the removals target present keys.
		if rng.Intn(2) == 0 {
			m.Delete(keys[rng.Intn(n)])
		} else {
			m.Delete(rng.Uint64())
		}
	}

	// The snapshot still answers exactly like the reference map.
	qt.Assert(t, qt.Equals(snap.Len(), n))
	for _, k := range keys {
		v, ok := snap.Get(k)
		qt.Assert(t, qt.IsTrue(ok))
		qt.Assert(t, qt.Equals(v, ref[k]))
	}
}

func TestRandomAgainstReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := hamt.NewComparable[uint32, int]()
	ref := make(map[uint32]int)

	for i := 0; i < 20000; i++ {
		k := uint32(rng.Intn(4000))
		switch rng.Intn(3) {
		case 0, 1:
			_, present := ref[k]
			grew := m.Set(k, i)
			qt.Assert(t, qt.Equals(grew, !present))
			ref[k] = i
		case 2:
			_, present := ref[k]
			removed := m.Delete(k)
			qt.Assert(t, qt.Equals(removed, present))
			delete(ref, k)
		}
		if m.Len() != len(ref) {
			t.Fatalf("size mismatch after %d ops: got %d want %d", i+1, m.Len(), len(ref))
		}
	}

	for k, want := range ref {
		v, ok := m.Get(k)
		qt.Assert(t, qt.IsTrue(ok))
		qt.Assert(t, qt.Equals(v, want))
	}
}

func TestSelfHashingKey(t *testing.T) {
	m := hamt.New[hamt.String, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	v, ok := m.Get("a")
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 1))

	_, ok = m.Get("c")
	qt.Assert(t, qt.IsFalse(ok))
}

func TestNewWithFuncsDefaults(t *testing.T) {
	m := hamt.NewWithFuncs[string, int](nil, nil)
	m.Set("x", 1)
	v, ok := m.Get("x")
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 1))

	mb := hamt.NewWithFuncs[[]byte, int](nil, nil)
	mb.Set([]byte("x"), 2)
	v, ok = mb.Get([]byte("x"))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 2))

	qt.Assert(t, qt.PanicMatches(func() {
		hamt.NewWithFuncs[int, int](nil, nil)
	}, `no equality type known for int`))
}

func TestString(t *testing.T) {
	m := hamt.NewComparable[string, int]()
	qt.Assert(t, qt.Equals(m.String(), "map[]"))
	m.Set("a", 1)
	qt.Assert(t, qt.Equals(m.String(), "map[a:1]"))
}
