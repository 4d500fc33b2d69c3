package interp

import "sort"

// varArray is an AWK associative array: string keys to values. Keys
// iterate in insertion order by default, or in sorted order when the
// sorted-keys configuration (the -t switch) is on.
type varArray struct {
	items  map[string]value
	keys   []string
	sorted bool
}

func newArray(sorted bool) *varArray {
	return &varArray{items: make(map[string]value), sorted: sorted}
}

func (a *varArray) get(key string) (value, bool) {
	v, ok := a.items[key]
	return v, ok
}

// getOrCreate returns the element, creating it if absent: per the
// POSIX spec, "any other reference to a nonexistent array element
// [apart from "in" expressions] shall automatically create it".
func (a *varArray) getOrCreate(key string) value {
	v, ok := a.items[key]
	if !ok {
		a.set(key, v)
	}
	return v
}

func (a *varArray) set(key string, v value) {
	if _, ok := a.items[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.items[key] = v
}

func (a *varArray) contains(key string) bool {
	_, ok := a.items[key]
	return ok
}

func (a *varArray) delete(key string) {
	if _, ok := a.items[key]; !ok {
		return
	}
	delete(a.items, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
}

func (a *varArray) clear() {
	a.items = make(map[string]value)
	a.keys = a.keys[:0]
}

func (a *varArray) size() int {
	return len(a.items)
}

// keyList returns a snapshot of the keys for iteration (so that
// for-in loops aren't confused by deletes inside the body).
func (a *varArray) keyList() []string {
	keys := make([]string, len(a.keys))
	copy(keys, a.keys)
	if a.sorted {
		sort.Strings(keys)
	}
	return keys
}
