package compiler

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/pac-server/internal/pac/domain"
	"github.com/haukened/pac-server/internal/pac/repos/suffix"
)

// reduction is a memoized Reduce result.
type reduction struct {
	name string
	ok   bool
}

// Reducer collapses hostnames to registrable domains using a suffix table.
// Results are memoized; a Reducer is bound to one table for its lifetime.
type Reducer struct {
	table suffix.Table
	memo  *lru.Cache[string, reduction]
}

// NewReducer returns a Reducer over table. memoSize <= 0 disables memoization.
func NewReducer(table suffix.Table, memoSize int) (*Reducer, error) {
	r := &Reducer{table: table}
	if memoSize > 0 {
		memo, err := lru.New[string, reduction](memoSize)
		if err != nil {
			return nil, err
		}
		r.memo = memo
	}
	return r, nil
}

// Reduce returns the registrable domain of host: the shortest suffix of host
// that is not itself a public suffix while all of its own suffixes are.
// "www.example.co.uk" reduces to "example.co.uk". ok is false when the top
// label is not a known suffix or when every suffix up to the full host is
// listed, in which case host has no registrable boundary.
func (r *Reducer) Reduce(host string) (name string, ok bool) {
	if r.memo != nil {
		if v, hit := r.memo.Get(host); hit {
			return v.name, v.ok
		}
	}
	name, ok = reduce(r.table, host)
	if r.memo != nil {
		r.memo.Add(host, reduction{name: name, ok: ok})
	}
	return name, ok
}

func reduce(table suffix.Table, host string) (string, bool) {
	if host == "" {
		return "", false
	}
	labels := strings.Split(host, ".")
	for _, l := range labels {
		if l == "" {
			return "", false
		}
	}

	n := len(labels)
	if !table.Contains(labels[n-1]) {
		return "", false
	}
	for i := n - 2; i >= 0; i-- {
		candidate := strings.Join(labels[i:], ".")
		if !table.Contains(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// ReduceAll reduces every host and collects the distinct results.
func (r *Reducer) ReduceAll(hosts []string) domain.DomainSet {
	set := make(domain.DomainSet, len(hosts))
	for _, h := range hosts {
		if name, ok := r.Reduce(h); ok {
			set.Add(name)
		}
	}
	return set
}
