package lru

import (
	"testing"

	"github.com/haukened/pac-server/internal/pac/domain"
)

func TestDecisionCache_HitMissAndPut(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	d := domain.Decision{Host: "www.example.com", Proxied: true, MatchedDomain: "example.com"}

	if _, ok := c.Get("www.example.com"); ok {
		t.Fatalf("expected miss before put")
	}
	c.Put("www.example.com", d)

	got, ok := c.Get("www.example.com")
	if !ok || got != d {
		t.Fatalf("unexpected get: ok=%v got=%+v", ok, got)
	}
	hits, misses, _ := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("stats hits=%d misses=%d, want 1/1", hits, misses)
	}
}

func TestDecisionCache_EvictionAndPurge(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	c.Put("a.com", domain.Decision{Proxied: true})
	c.Put("b.com", domain.Decision{Proxied: true})
	c.Put("c.com", domain.Decision{Proxied: true})
	if got := c.Len(); got != 2 {
		t.Fatalf("len=%d want=2", got)
	}
	if _, ok := c.Get("a.com"); ok {
		t.Fatalf("expected a.com to be evicted")
	}

	c.Purge()
	if got := c.Len(); got != 0 {
		t.Fatalf("len after purge=%d want=0", got)
	}
	_, _, evictions := c.Stats()
	if evictions != 3 {
		t.Fatalf("evictions=%d want=3", evictions)
	}
}

func TestDisabledCache(t *testing.T) {
	c, err := New(0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	c.Put("a.com", domain.Decision{Proxied: true})
	if _, ok := c.Get("a.com"); ok {
		t.Fatalf("disabled cache must always miss")
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("disabled cache must be empty")
	}
	if h, m, e := c.Stats(); h|m|e != 0 {
		t.Fatalf("disabled cache must report zero stats")
	}
}
