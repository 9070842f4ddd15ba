package assetlock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"pkt.systems/pslog"

	"github.com/n8lab/assetlock/client"
	"github.com/n8lab/assetlock/finder"
)

// AnyAsset is the search term that routes an acquisition to the
// any-available path, bypassing normal finder term matching.
const AnyAsset = "any"

// Workflow is the caller-supplied test logic executed against an acquired
// asset by RunWorkflow.
type Workflow func(context.Context, *Asset) error

// Allocator orchestrates finders and the lock client: it discovers
// candidates, drives the claim protocol, tracks what this process already
// holds, and hands out exclusively owned Asset handles. Construct one per
// process and share it; concurrency across processes is arbitrated entirely
// by the remote lock service.
type Allocator struct {
	controller *client.Client
	finders    []finder.Finder
	session    *LockSession
	shared     *SharedConfig
	metrics    *Metrics
	logger     pslog.Base
	anyCounter atomic.Int64
}

// AllocatorOption customises allocator construction.
type AllocatorOption func(*Allocator)

// WithFinders registers the finders tried, in order, per acquisition.
func WithFinders(finders ...finder.Finder) AllocatorOption {
	return func(a *Allocator) {
		a.finders = append(a.finders, finders...)
	}
}

// WithLogger supplies a logger for allocation diagnostics.
func WithLogger(logger pslog.Base) AllocatorOption {
	return func(a *Allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics attaches claim counters.
func WithMetrics(m *Metrics) AllocatorOption {
	return func(a *Allocator) {
		a.metrics = m
	}
}

// WithSharedConfig sets the store claimed asset settings are merged into.
func WithSharedConfig(c *SharedConfig) AllocatorOption {
	return func(a *Allocator) {
		if c != nil {
			a.shared = c
		}
	}
}

// New builds an allocator around an existing lock client.
func New(controller *client.Client, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		controller: controller,
		session:    newLockSession(),
		shared:     NewSharedConfig(),
		logger:     pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Session exposes the process-local claim bookkeeping.
func (a *Allocator) Session() *LockSession {
	return a.session
}

// SharedConfig exposes the store asset settings are merged into on claim.
func (a *Allocator) SharedConfig() *SharedConfig {
	return a.shared
}

// FindAsset locates and exclusively claims the asset identified by term.
// The special term "any" claims any available asset instead.
func (a *Allocator) FindAsset(ctx context.Context, term string) (*Asset, error) {
	return a.findAsset(ctx, term, "")
}

// FindAssetWithLock is FindAsset with an explicit lock name overriding
// whatever the matching finder derives.
func (a *Allocator) FindAssetWithLock(ctx context.Context, term, lockName string) (*Asset, error) {
	return a.findAsset(ctx, term, lockName)
}

func (a *Allocator) findAsset(ctx context.Context, term, explicitLock string) (*Asset, error) {
	if a.session.Contains(term) {
		a.logger.Debug("allocator.find.already_held", "term", term, "session", a.session.ID())
		return nil, &AlreadyAllocatedError{ID: term}
	}
	if term == AnyAsset {
		return a.FindAnyAvailableAsset(ctx)
	}

	// Exhaustion bookkeeping: distinguishing the final error requires
	// tracking whether any candidate was structurally found at all, and
	// whether every found candidate was one this process already holds.
	found, held := 0, 0

	for _, f := range a.finders {
		if !f.Find(ctx, term) {
			continue
		}
		if !f.HasMultipleAssetChoices() {
			found++
			lock := explicitLock
			if lock == "" {
				lock = f.LockName()
			}
			if lock == "" {
				lock = term
			}
			if a.session.Contains(lock) {
				held++
				continue
			}
			if asset, ok := a.claim(ctx, f.AssetDataFile(), lock, term, term); ok {
				return asset, nil
			}
			continue
		}
		for _, ch := range f.MultipleAssetsDataFiles() {
			found++
			if a.session.Contains(ch.LockName) {
				held++
				continue
			}
			lock := ch.LockName
			if lock == "" {
				lock = term
			}
			if asset, ok := a.claim(ctx, ch.DataFile, lock, term, term); ok {
				return asset, nil
			}
		}
	}

	return nil, a.exhausted(term, found, held)
}

// FindAnyAvailableAsset claims any currently free candidate reported by the
// registered finders. Candidates without a derived lock name get a generated
// placeholder identifier so repeated "any" requests in one process never
// collide on identifier alone.
func (a *Allocator) FindAnyAvailableAsset(ctx context.Context) (*Asset, error) {
	found, held := 0, 0
	for _, f := range a.finders {
		if !f.FindAny(ctx) {
			continue
		}
		choices := f.MultipleAssetsDataFiles()
		if len(choices) == 0 {
			choices = []finder.Choice{{DataFile: f.AssetDataFile(), LockName: f.LockName()}}
		}
		for _, ch := range choices {
			found++
			lock := ch.LockName
			if lock == "" {
				lock = a.nextPlaceholder()
			}
			if a.session.Contains(lock) {
				held++
				continue
			}
			if asset, ok := a.claim(ctx, ch.DataFile, lock, lock, ""); ok {
				return asset, nil
			}
		}
	}
	return nil, a.exhausted(AnyAsset, found, held)
}

func (a *Allocator) nextPlaceholder() string {
	return fmt.Sprintf("any-%d", a.anyCounter.Add(1))
}

// claim runs one reserve attempt. Contention, wait timeout, and transport
// failures all collapse into "try the next candidate"; only the allocator's
// exhaustion logic turns the aggregate into a caller-visible error.
func (a *Allocator) claim(ctx context.Context, dataFile, lockName, id, altName string) (*Asset, bool) {
	a.metrics.claimAttempt()
	a.logger.Debug("allocator.claim.start",
		"session", a.session.ID(), "lock", lockName, "file", dataFile)
	if err := a.controller.Reserve(ctx, lockName); err != nil {
		if errors.Is(err, client.ErrWaitTimeout) {
			a.metrics.waitTimeout()
		}
		a.metrics.claimContended()
		a.logger.Debug("allocator.claim.contended", "lock", lockName, "error", err)
		return nil, false
	}
	asset := newLockedAsset(a.controller, dataFile, lockName, altName, a.logger)
	a.session.add(asset, id, lockName)
	a.shared.MergeFile(asset.loadFile())
	a.metrics.claimSuccess()
	a.logger.Info("allocator.claim.ok",
		"session", a.session.ID(), "lock", lockName, "file", dataFile)
	return asset, true
}

func (a *Allocator) exhausted(term string, found, held int) error {
	switch {
	case found == 0:
		a.logger.Info("allocator.find.not_found", "term", term)
		return &NotFoundError{Term: term}
	case held == found:
		a.logger.Info("allocator.find.all_held_by_task", "term", term)
		return &AlreadyAllocatedError{ID: term}
	default:
		a.logger.Info("allocator.find.all_reserved", "term", term, "candidates", found)
		return &ReservedError{ID: term}
	}
}

// RunWorkflow executes fn against asset and always releases the asset's lock
// afterwards when it is still held, whether fn succeeded or failed. Release
// failures are logged and swallowed so a failed unlock can never mask the
// workflow's own outcome.
func (a *Allocator) RunWorkflow(ctx context.Context, asset *Asset, fn Workflow) error {
	if asset == nil {
		return errors.New("nil asset")
	}
	defer func() {
		if !asset.IsLocked() {
			return
		}
		if err := asset.Unlock(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("allocator.workflow.release_failed",
				"lock", asset.LockName(), "error", err)
			return
		}
		a.metrics.released()
	}()
	return fn(ctx, asset)
}
