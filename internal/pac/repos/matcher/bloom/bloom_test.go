package bloom

import (
	"fmt"
	"testing"
)

func TestSize(t *testing.T) {
	tests := []struct {
		n     uint64
		p     float64
		wantM uint64
		wantK uint8
	}{
		{1000, 0.01, 9586, 7},
		{0, 0.01, 10, 7},
		{1000, 0, 9586, 7},   // invalid p falls back to 1%
		{1000, 1.5, 9586, 7}, // invalid p falls back to 1%
		{100, 0.001, 1438, 10},
	}
	for _, tt := range tests {
		m, k := Size(tt.n, tt.p)
		if m != tt.wantM || k != tt.wantK {
			t.Errorf("Size(%d, %v) = (%d, %d), want (%d, %d)", tt.n, tt.p, m, k, tt.wantM, tt.wantK)
		}
	}
}

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := NewFactory().New(500, 0.01)
	for i := 0; i < 500; i++ {
		f.Add([]byte(fmt.Sprintf("domain-%d.com", i)))
	}
	for i := 0; i < 500; i++ {
		if !f.MightContain([]byte(fmt.Sprintf("domain-%d.com", i))) {
			t.Fatalf("false negative for domain-%d.com", i)
		}
	}

	fp := 0
	for i := 0; i < 10000; i++ {
		if f.MightContain([]byte(fmt.Sprintf("other-%d.org", i))) {
			fp++
		}
	}
	if fp > 500 { // 5%, well above the 1% target
		t.Fatalf("too many false positives: %d/10000", fp)
	}
}
