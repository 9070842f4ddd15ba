package finder

import (
	"context"
	"strings"

	"pkt.systems/pslog"

	"github.com/n8lab/assetlock/client"
)

// InventoryClient is the slice of the lock client the inventory finder
// depends on. *client.Client implements it.
type InventoryClient interface {
	Resources(ctx context.Context) ([]client.Resource, error)
}

// InventoryFinder matches candidates against the lock service's own resource
// listing instead of local files. A match correlates a name with a lock only;
// this variant never yields an asset data file.
type InventoryFinder struct {
	resultState
	inventory InventoryClient
	logger    pslog.Base
}

// NewInventoryFinder builds a finder over the remote resource inventory.
func NewInventoryFinder(inventory InventoryClient, logger pslog.Base) *InventoryFinder {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &InventoryFinder{inventory: inventory, logger: logger}
}

func (f *InventoryFinder) matches(ctx context.Context, term string) []Choice {
	resources, err := f.inventory.Resources(ctx)
	if err != nil {
		f.logger.Debug("finder.inventory.unavailable", "error", err)
		return nil
	}
	needle := strings.ToLower(term)
	var matches []Choice
	for _, r := range resources {
		if r.Reserved {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(r.Name), needle) {
			continue
		}
		matches = append(matches, Choice{LockName: r.Name})
	}
	return matches
}

// Find locates the first free inventory entry whose name matches term.
func (f *InventoryFinder) Find(ctx context.Context, term string) bool {
	found := f.apply(f.matches(ctx, term))
	f.logger.Debug("finder.inventory.find", "term", term, "found", found)
	return found
}

// FindAll collects every free inventory entry whose name matches term.
func (f *InventoryFinder) FindAll(ctx context.Context, term string) bool {
	return f.applyAll(f.matches(ctx, term))
}

// FindAny collects every free inventory entry.
func (f *InventoryFinder) FindAny(ctx context.Context) bool {
	return f.applyAll(f.matches(ctx, ""))
}
