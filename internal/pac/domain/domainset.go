package domain

import "sort"

// DomainSet is a set of reduced registrable domains.
type DomainSet map[string]struct{}

// NewDomainSet returns a set holding names.
func NewDomainSet(names ...string) DomainSet {
	s := make(DomainSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts name; empty names are ignored.
func (s DomainSet) Add(name string) {
	if name == "" {
		return
	}
	s[name] = struct{}{}
}

// Has reports membership.
func (s DomainSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Len returns the number of domains.
func (s DomainSet) Len() int { return len(s) }

// Sorted returns the domains in lexical order.
func (s DomainSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
