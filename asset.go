package assetlock

import (
	"context"
	"fmt"
	"sync"

	"pkt.systems/pslog"

	"github.com/n8lab/assetlock/client"
	"github.com/n8lab/assetlock/internal/datafile"
)

// lockNamePrefix is tried as a secondary claim name in the Lock fallback
// chain, prefixed onto the controller's default lock name.
const lockNamePrefix = "lock_"

// Asset is the exclusively held resource handle returned by the allocator.
// It wraps the claimed lock name, the candidate data file describing the
// resource, and a reference to the lock client holding the claim. The handle
// must be explicitly released; RunWorkflow does so for the common path.
type Asset struct {
	controller *client.Client
	dataFile   string
	lockName   string
	altName    string
	logger     pslog.Base

	mu     sync.Mutex
	locked bool
	file   *datafile.File
}

// NewAsset builds an unclaimed handle for the direct-instantiation path.
// Call Lock to claim it; the allocator's own claims return handles that are
// already locked.
func NewAsset(controller *client.Client, dataFile, lockName, alternativeLockName string, logger pslog.Base) *Asset {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Asset{
		controller: controller,
		dataFile:   dataFile,
		lockName:   lockName,
		altName:    alternativeLockName,
		logger:     logger,
	}
}

func newLockedAsset(controller *client.Client, dataFile, lockName, alternativeLockName string, logger pslog.Base) *Asset {
	a := NewAsset(controller, dataFile, lockName, alternativeLockName, logger)
	a.locked = true
	return a
}

// DataFile returns the path of the data file describing the asset.
func (a *Asset) DataFile() string {
	return a.dataFile
}

// LockName returns the name currently associated with the claim.
func (a *Asset) LockName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lockName
}

// AlternativeLockName returns the configured fallback name.
func (a *Asset) AlternativeLockName() string {
	return a.altName
}

// IsLocked reports whether the handle currently holds its claim.
func (a *Asset) IsLocked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked
}

// Lock claims the asset through a fallback chain: the controller's default
// lock name, then the prefixed variant, then a name derived from the data
// file's base filename, then the pre-configured alternative name. Each step
// runs only after the previous one failed; the first success wins. The chain
// exists because different finder variants populate different combinations
// of lock name, alternative name, and data file, and the handle must cope
// with any one of them being absent.
func (a *Asset) Lock(ctx context.Context) error {
	a.mu.Lock()
	if a.locked {
		a.mu.Unlock()
		return nil
	}
	candidates := a.lockCandidates()
	a.mu.Unlock()

	var lastErr error
	for _, name := range candidates {
		if err := a.controller.Reserve(ctx, name); err != nil {
			a.logger.Debug("asset.lock.fallback", "lock", name, "error", err)
			lastErr = err
			continue
		}
		a.mu.Lock()
		a.lockName = name
		a.locked = true
		a.mu.Unlock()
		a.logger.Info("asset.lock.ok", "lock", name)
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no lock name available for %q", a.dataFile)
	}
	return fmt.Errorf("lock asset: %w", lastErr)
}

func (a *Asset) lockCandidates() []string {
	var names []string
	seen := make(map[string]struct{})
	push := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if a.lockName != "" {
		push(a.lockName)
	}
	def := a.controller.DefaultLockName()
	push(def)
	push(lockNamePrefix + def)
	if a.dataFile != "" {
		push(datafile.BaseName(a.dataFile))
	}
	push(a.altName)
	return names
}

// Unlock releases the claim. A handle that is not locked is a no-op, which
// stacks with the client-level unreserve idempotence so release can be
// called from multiple cleanup paths.
func (a *Asset) Unlock(ctx context.Context) error {
	a.mu.Lock()
	if !a.locked {
		a.mu.Unlock()
		return nil
	}
	name := a.lockName
	a.mu.Unlock()

	if err := a.controller.Unreserve(ctx, name); err != nil {
		return fmt.Errorf("unlock asset: %w", err)
	}
	a.mu.Lock()
	a.locked = false
	a.mu.Unlock()
	a.logger.Info("asset.unlock.ok", "lock", name)
	return nil
}

// Value returns the first value of the data-file row identified by key.
// A missing file, row, or column reports ("", false) rather than an error.
func (a *Asset) Value(key string) (string, bool) {
	f := a.loadFile()
	if f == nil {
		return "", false
	}
	return f.Value(key)
}

// HasValue reports whether the data file carries a value for key.
func (a *Asset) HasValue(key string) bool {
	_, ok := a.Value(key)
	return ok
}

func (a *Asset) loadFile() *datafile.File {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file
	}
	if a.dataFile == "" {
		return nil
	}
	f, err := datafile.Load(a.dataFile)
	if err != nil {
		a.logger.Debug("asset.datafile.unreadable", "file", a.dataFile, "error", err)
		return nil
	}
	a.file = f
	return f
}
