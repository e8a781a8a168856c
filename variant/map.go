package variant

import (
	"cmp"
	"fmt"
	"math"
	"sort"
)

// Entry is one key/value pair of a Map.
type Entry struct {
	Key   Value
	Value Value
}

// Map is a key-ordered association from Values to Values. Keys are kept
// sorted by Compare; setting an existing key replaces its value.
type Map struct {
	entries []Entry
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{}
}

// MapOf builds a map from alternating keys and values.
func MapOf(kv ...Value) *Map {
	if len(kv)%2 != 0 {
		panic("variant.MapOf: odd number of arguments")
	}
	m := NewMap()
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i], kv[i+1])
	}
	return m
}

func (m *Map) search(key Value) (int, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return Compare(m.entries[i].Key, key) >= 0
	})
	return i, i < len(m.entries) && Compare(m.entries[i].Key, key) == 0
}

// Set associates value with key.
func (m *Map) Set(key, value Value) {
	i, found := m.search(key)
	if found {
		m.entries[i].Value = value
		return
	}
	m.entries = append(m.entries, Entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = Entry{Key: key, Value: value}
}

// Get returns the value stored under key.
func (m *Map) Get(key Value) (Value, bool) {
	if m == nil {
		return Null, false
	}
	i, found := m.search(key)
	if !found {
		return Null, false
	}
	return m.entries[i].Value, true
}

// GetString is Get with a String key.
func (m *Map) GetString(key string) (Value, bool) {
	return m.Get(String(key))
}

// Delete removes key and reports whether it was present.
func (m *Map) Delete(key Value) bool {
	i, found := m.search(key)
	if !found {
		return false
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	return true
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in key order. The slice must not be modified.
func (m *Map) Entries() []Entry {
	if m == nil {
		return nil
	}
	return m.entries
}

// Equal reports whether m and other hold equal entries.
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, e := range m.Entries() {
		o := other.entries[i]
		if !Equal(e.Key, o.Key) || !Equal(e.Value, o.Value) {
			return false
		}
	}
	return true
}

// Compare is a total order over Values: first by kind, then by content.
// Ints and Floats form one numeric kind ordered by value, so Int(2) and
// Float(2) are the same map key. Objects order by address.
func Compare(a, b Value) int {
	if a.isNumber() && b.isNumber() {
		return compareNumbers(a, b)
	}
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	switch a.kind {
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		}
		return 1
	case KindString, KindSymbol:
		return cmp.Compare(a.s, b.s)
	case KindList:
		for i := 0; i < len(a.list) && i < len(b.list); i++ {
			if c := Compare(a.list[i], b.list[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(a.list), len(b.list))
	case KindMap:
		ae, be := a.m.Entries(), b.m.Entries()
		for i := 0; i < len(ae) && i < len(be); i++ {
			if c := Compare(ae[i].Key, be[i].Key); c != 0 {
				return c
			}
			if c := Compare(ae[i].Value, be[i].Value); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(ae), len(be))
	case KindObject:
		if a.obj == b.obj {
			return 0
		}
		return cmp.Compare(fmt.Sprintf("%p", a.obj), fmt.Sprintf("%p", b.obj))
	}
	return 0
}

// compareNumbers orders two Int or Float values exactly, without rounding
// the int through float64. NaN sorts before every other number.
func compareNumbers(a, b Value) int {
	switch {
	case a.kind == KindInt && b.kind == KindInt:
		return cmp.Compare(a.i, b.i)
	case a.kind == KindFloat && b.kind == KindFloat:
		return cmp.Compare(a.f, b.f)
	case a.kind == KindInt:
		return compareIntFloat(a.i, b.f)
	}
	return -compareIntFloat(b.i, a.f)
}

func compareIntFloat(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		return 1
	case f >= 1<<63:
		return -1
	case f < -(1 << 63):
		return 1
	}
	t := math.Trunc(f)
	if c := cmp.Compare(i, int64(t)); c != 0 {
		return c
	}
	return cmp.Compare(0, f-t)
}
