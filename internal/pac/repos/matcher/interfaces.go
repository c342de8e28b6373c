package matcher

import "github.com/haukened/pac-server/internal/pac/domain"

// BloomFilter is the minimal interface the index needs from a Bloom filter.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory builds filters sized for capacity at the target false-positive rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// DecisionCache caches decisions by canonical host with basic metrics.
type DecisionCache interface {
	Get(host string) (domain.Decision, bool)
	Put(host string, d domain.Decision)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// Stats exposes index counters.
type Stats struct {
	Domains   int    `json:"domains"`
	Cached    int    `json:"cached"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}
