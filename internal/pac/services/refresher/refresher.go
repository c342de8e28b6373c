// Package refresher runs the compile pipeline on an interval and publishes
// each successful result: the script file, its snapshot and the check index.
package refresher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/haukened/pac-server/internal/pac/common/clock"
	"github.com/haukened/pac-server/internal/pac/common/log"
	"github.com/haukened/pac-server/internal/pac/domain"
	"github.com/haukened/pac-server/internal/pac/services/compiler"
)

var (
	// ErrInProgress is returned when a refresh is already running.
	ErrInProgress = errors.New("refresh already in progress")
	// ErrRateLimited is returned by Trigger when manual refreshes come too fast.
	ErrRateLimited = errors.New("refresh rate limited")
)

// cycleMargin is added to the fetch timeout of both sources to bound a cycle.
const cycleMargin = 5 * time.Second

// Refresher owns the publish cycle. At most one cycle runs at a time.
type Refresher struct {
	// run is held for the whole cycle; TryLock makes refreshes single-flight.
	run sync.Mutex

	compiler  Compiler
	artifacts ArtifactWriter
	store     SnapshotStore
	index     Index
	metrics   Metrics
	logger    log.Logger
	clock     clock.Clock
	limiter   *rate.Limiter

	request  compiler.Request
	artifact string
	interval time.Duration
	timeout  time.Duration

	mu     sync.RWMutex
	latest *domain.Snapshot
}

// Options holds the collaborators and settings for New.
type Options struct {
	Compiler  Compiler
	Artifacts ArtifactWriter
	Store     SnapshotStore
	Index     Index
	Metrics   Metrics
	Logger    log.Logger
	Clock     clock.Clock

	Request compiler.Request
	// Artifact is the file name the script is written under.
	Artifact string
	// Interval between scheduled cycles.
	Interval time.Duration
	// FetchTimeout bounds each source fetch; a cycle gets twice that plus a margin.
	FetchTimeout time.Duration
	// TriggerEvery is the minimum spacing of manual refreshes; zero disables the limit.
	TriggerEvery time.Duration
}

// New creates a Refresher. Nil Metrics and Logger fall back to no-ops,
// a nil Clock to the real one.
func New(opts Options) *Refresher {
	r := &Refresher{
		compiler:  opts.Compiler,
		artifacts: opts.Artifacts,
		store:     opts.Store,
		index:     opts.Index,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		clock:     opts.Clock,
		request:   opts.Request,
		artifact:  opts.Artifact,
		interval:  opts.Interval,
		timeout:   opts.FetchTimeout,
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if r.logger == nil {
		r.logger = log.NewNoopLogger()
	}
	if r.clock == nil {
		r.clock = clock.RealClock{}
	}
	if opts.TriggerEvery > 0 {
		r.limiter = rate.NewLimiter(rate.Every(opts.TriggerEvery), 1)
	} else {
		r.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return r
}

// Mode returns the render mode of every cycle.
func (r *Refresher) Mode() domain.Mode { return r.request.Mode }

// Artifact returns the file name the script is published under.
func (r *Refresher) Artifact() string { return r.artifact }

// Seed sets the latest snapshot without running a cycle, e.g. from the
// persisted store at startup.
func (r *Refresher) Seed(snap domain.Snapshot) {
	r.mu.Lock()
	r.latest = &snap
	r.mu.Unlock()
}

// Latest returns the snapshot of the last successful cycle.
func (r *Refresher) Latest() (domain.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return domain.Snapshot{}, false
	}
	return *r.latest, true
}

// Run refreshes immediately and then on every interval until ctx is done.
// Failed cycles are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info(map[string]any{
		"interval": r.interval.String(),
		"mode":     r.request.Mode.String(),
		"source":   r.request.Source,
	}, "refresher_started")

	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(nil, "refresher_stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	if _, err := r.RefreshOnce(ctx); err != nil && !errors.Is(err, ErrInProgress) && ctx.Err() == nil {
		r.logger.Warn(map[string]any{"error": err}, "refresh failed, keeping previous script")
	}
}

// Trigger runs a manual refresh, subject to the trigger rate limit.
func (r *Refresher) Trigger(ctx context.Context) (domain.Snapshot, error) {
	if !r.limiter.Allow() {
		return domain.Snapshot{}, ErrRateLimited
	}
	return r.RefreshOnce(ctx)
}

// RefreshOnce runs one cycle: compile, write the script, save the snapshot
// and update the index. It returns ErrInProgress without doing anything when
// another cycle is running. On failure the published script is untouched.
func (r *Refresher) RefreshOnce(ctx context.Context) (domain.Snapshot, error) {
	if !r.run.TryLock() {
		r.metrics.RefreshSkipped()
		return domain.Snapshot{}, ErrInProgress
	}
	defer r.run.Unlock()

	start := r.clock.Now()
	snap, set, err := r.cycle(ctx)
	elapsed := r.clock.Now().Sub(start)
	if err != nil {
		r.metrics.RefreshFailed(elapsed)
		return domain.Snapshot{}, err
	}

	r.Seed(snap)
	r.metrics.RefreshSucceeded(elapsed, snap.UpdatedAt, snap.Rules, snap.Domains, snap.Bytes, snap.Version)
	r.logger.Info(map[string]any{
		"version":  snap.Version,
		"rules":    snap.Rules,
		"domains":  snap.Domains,
		"bytes":    snap.Bytes,
		"sha256":   snap.SHA256,
		"duration": elapsed.String(),
	}, "pac_published")

	if set != nil {
		r.index.Update(set)
	}
	return snap, nil
}

func (r *Refresher) cycle(ctx context.Context) (domain.Snapshot, domain.DomainSet, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*r.timeout+cycleMargin)
		defer cancel()
	}

	res, err := r.compiler.Compile(ctx, r.request)
	if err != nil {
		return domain.Snapshot{}, nil, fmt.Errorf("compiling: %w", err)
	}

	if err := r.artifacts.Write(r.artifact, res.Script); err != nil {
		return domain.Snapshot{}, nil, err
	}

	sum := sha256.Sum256(res.Script)
	snap := domain.Snapshot{
		Mode:      res.Mode,
		Source:    r.request.Source,
		Artifact:  r.artifact,
		UpdatedAt: r.clock.Now().UTC(),
		Rules:     res.Rules,
		Domains:   res.Domains.Len(),
		Bytes:     len(res.Script),
		SHA256:    hex.EncodeToString(sum[:]),
	}

	// The script is already live; a failed save only loses the metadata.
	saved, err := r.store.Save(snap, res.Domains)
	if err != nil {
		r.logger.Error(map[string]any{"error": err}, "snapshot_save_failed")
		return snap, res.Domains, nil
	}
	return saved, res.Domains, nil
}
