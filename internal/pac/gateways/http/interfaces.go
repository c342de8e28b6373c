package http

import (
	"context"
	"os"

	"github.com/haukened/pac-server/internal/pac/domain"
	"github.com/haukened/pac-server/internal/pac/repos/matcher"
)

// ArtifactReader opens served files by name.
type ArtifactReader interface {
	Open(name string) (*os.File, error)
}

// Refresher is the part of the refresh service the gateway drives.
type Refresher interface {
	Trigger(ctx context.Context) (domain.Snapshot, error)
	Latest() (domain.Snapshot, bool)
	Mode() domain.Mode
	Artifact() string
}

// Checker answers host checks against the published domain set.
type Checker interface {
	Decide(host string) domain.Decision
	Stats() matcher.Stats
}

// Metrics records request outcomes.
type Metrics interface {
	Checked(proxied bool)
	Request(route, code string)
}

type nopMetrics struct{}

func (nopMetrics) Checked(bool)           {}
func (nopMetrics) Request(string, string) {}
