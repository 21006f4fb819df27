package service

import "sort"

// StringSet is a set of strings (all elements are unique)
type StringSet map[string]struct{}

// NewStringSet creates a set from a list of strings
func NewStringSet(ss ...string) StringSet {
	set := make(StringSet, len(ss))
	for _, s := range ss {
		set.Push(s)
	}
	return set
}

// Push adds the string to the set if not already exists
func (ss StringSet) Push(s string) {
	ss[s] = struct{}{}
}

// Pop removes the string from the set
func (ss StringSet) Pop(s string) {
	delete(ss, s)
}

// Slice returns a sorted slice from the set
func (ss StringSet) Slice() []string {
	sl := make([]string, 0, len(ss))
	for k := range ss {
		sl = append(sl, k)
	}
	sort.Strings(sl)
	return sl
}

// Exists returns true if the string already exists in the Set
func (ss StringSet) Exists(s string) bool {
	_, ok := ss[s]
	return ok
}

// Union returns a new set with the elements of both sets
func (ss StringSet) Union(other StringSet) StringSet {
	union := make(StringSet, len(ss)+len(other))
	for k := range ss {
		union.Push(k)
	}
	for k := range other {
		union.Push(k)
	}
	return union
}
