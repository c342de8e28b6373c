package refresher

import (
	"context"
	"time"

	"github.com/haukened/pac-server/internal/pac/domain"
	"github.com/haukened/pac-server/internal/pac/services/compiler"
)

// Compiler renders a PAC script for a request.
type Compiler interface {
	Compile(ctx context.Context, req compiler.Request) (compiler.Result, error)
}

// ArtifactWriter atomically replaces a served file.
type ArtifactWriter interface {
	Write(name string, data []byte) error
}

// SnapshotStore persists the metadata and domain set of a published script.
type SnapshotStore interface {
	Save(snap domain.Snapshot, domains domain.DomainSet) (domain.Snapshot, error)
}

// Index receives the domain set of every published fast-mode script.
type Index interface {
	Update(set domain.DomainSet)
}

// Metrics records refresh outcomes.
type Metrics interface {
	RefreshSucceeded(d time.Duration, at time.Time, rules, domains, size int, version uint64)
	RefreshFailed(d time.Duration)
	RefreshSkipped()
}

type nopMetrics struct{}

func (nopMetrics) RefreshSucceeded(time.Duration, time.Time, int, int, int, uint64) {}
func (nopMetrics) RefreshFailed(time.Duration)                                      {}
func (nopMetrics) RefreshSkipped()                                                  {}
