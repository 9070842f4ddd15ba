package finder

import (
	"context"
	"strings"

	"pkt.systems/pslog"

	"github.com/n8lab/assetlock/internal/datafile"
)

// FieldValueFinder matches candidates by the value of a configured record
// field: every file's records are parsed and the row identified by the
// dataset field is compared against the term (case-insensitive substring).
// The matched value itself becomes the lock name, so a search for a MAC
// address fragment claims the full address.
type FieldValueFinder struct {
	resultState
	store     string
	datasetID string
	status    StatusClient
	logger    pslog.Base
}

// NewFieldValueFinder builds a record-field finder over the candidate store
// rooted at store. datasetID names the row whose first value is matched.
func NewFieldValueFinder(store, datasetID string, status StatusClient, logger pslog.Base) *FieldValueFinder {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &FieldValueFinder{store: store, datasetID: datasetID, status: status, logger: logger}
}

func (f *FieldValueFinder) matches(ctx context.Context, term string) []Choice {
	needle := strings.ToLower(term)
	var matches []Choice
	for _, path := range scanDataFiles(f.store) {
		df, err := datafile.Load(path)
		if err != nil {
			f.logger.Debug("finder.field.unreadable", "file", path, "error", err)
			continue
		}
		value, ok := df.Value(f.datasetID)
		if !ok {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(value), needle) {
			continue
		}
		if f.status != nil && f.status.IsLocked(ctx, value) {
			f.logger.Debug("finder.field.skip_reserved", "file", path, "lock", value)
			continue
		}
		matches = append(matches, Choice{DataFile: path, LockName: value})
	}
	return matches
}

// Find locates the first available record whose field value matches term.
func (f *FieldValueFinder) Find(ctx context.Context, term string) bool {
	found := f.apply(f.matches(ctx, term))
	f.logger.Debug("finder.field.find", "term", term, "found", found)
	return found
}

// FindAll collects every available record whose field value matches term.
func (f *FieldValueFinder) FindAll(ctx context.Context, term string) bool {
	return f.applyAll(f.matches(ctx, term))
}

// FindAny collects every available record carrying the configured field.
func (f *FieldValueFinder) FindAny(ctx context.Context) bool {
	return f.applyAll(f.matches(ctx, ""))
}
