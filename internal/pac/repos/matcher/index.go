// Package matcher evaluates hosts against the fast-mode domain set the same
// way the generated PAC script does, for the check endpoint.
package matcher

import (
	"sync"

	"github.com/haukened/pac-server/internal/pac/common/utils"
	"github.com/haukened/pac-server/internal/pac/domain"
)

// Index composes a Bloom pre-filter, a decision cache and the authoritative
// domain set. Reads go bloom → cache → set; Update swaps everything at once.
type Index struct {
	mu      sync.RWMutex
	set     domain.DomainSet
	bloom   BloomFilter
	cache   DecisionCache
	factory BloomFactory
	fpRate  float64
}

// NewIndex constructs an empty Index. fpRate is the target false-positive
// rate used when the Bloom filter is rebuilt.
func NewIndex(cache DecisionCache, factory BloomFactory, fpRate float64) *Index {
	return &Index{set: domain.NewDomainSet(), cache: cache, factory: factory, fpRate: fpRate}
}

// Update replaces the domain set, rebuilds the Bloom filter and purges the
// decision cache.
func (x *Index) Update(set domain.DomainSet) {
	if set == nil {
		set = domain.NewDomainSet()
	}
	bf := x.factory.New(uint64(set.Len()), x.fpRate)
	for name := range set {
		bf.Add([]byte(name))
	}

	x.mu.Lock()
	x.set = set
	x.bloom = bf
	x.cache.Purge()
	x.mu.Unlock()
}

// Decide reports whether host would be sent to the proxy: true when host or
// one of its parent domains is in the set.
func (x *Index) Decide(host string) domain.Decision {
	cn := utils.CanonicalHost(host)
	candidates := utils.ParentDomains(cn)

	x.mu.RLock()
	defer x.mu.RUnlock()

	if !x.mightContainAny(candidates) {
		return domain.DirectDecision(cn)
	}
	if d, ok := x.cache.Get(cn); ok {
		return d
	}

	dec := domain.DirectDecision(cn)
	for _, c := range candidates {
		if x.set.Has(c) {
			dec = domain.Decision{Host: cn, Proxied: true, MatchedDomain: c}
			break
		}
	}
	x.cache.Put(cn, dec)
	return dec
}

// mightContainAny returns false only when the Bloom filter rules out every
// candidate. Without a filter it defers to the set.
func (x *Index) mightContainAny(candidates []string) bool {
	if x.bloom == nil {
		return true
	}
	for _, c := range candidates {
		if x.bloom.MightContain([]byte(c)) {
			return true
		}
	}
	return false
}

// Stats returns index counters.
func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	hits, misses, evictions := x.cache.Stats()
	return Stats{
		Domains:   x.set.Len(),
		Cached:    x.cache.Len(),
		Hits:      hits,
		Misses:    misses,
		Evictions: evictions,
	}
}
