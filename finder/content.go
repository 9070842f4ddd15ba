package finder

import (
	"context"
	"os"
	"strings"

	"pkt.systems/pslog"

	"github.com/n8lab/assetlock/internal/datafile"
)

// ContentFinder matches candidates whose raw file content contains the
// search term (case-insensitive substring). The lock name is derived from
// the configured dataset field of the matching file.
type ContentFinder struct {
	resultState
	store     string
	datasetID string
	status    StatusClient
	logger    pslog.Base
}

// NewContentFinder builds a content-substring finder over the candidate
// store rooted at store.
func NewContentFinder(store, datasetID string, status StatusClient, logger pslog.Base) *ContentFinder {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &ContentFinder{store: store, datasetID: datasetID, status: status, logger: logger}
}

func (f *ContentFinder) matches(ctx context.Context, term string) []Choice {
	needle := strings.ToLower(term)
	var matches []Choice
	for _, path := range scanDataFiles(f.store) {
		raw, err := os.ReadFile(path)
		if err != nil {
			f.logger.Debug("finder.content.unreadable", "file", path, "error", err)
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(string(raw)), needle) {
			continue
		}
		lock := ""
		if df, err := datafile.Load(path); err == nil {
			if v, ok := df.Value(f.datasetID); ok {
				lock = v
			}
		}
		if f.status != nil && lock != "" && f.status.IsLocked(ctx, lock) {
			f.logger.Debug("finder.content.skip_reserved", "file", path, "lock", lock)
			continue
		}
		matches = append(matches, Choice{DataFile: path, LockName: lock})
	}
	return matches
}

// Find locates the first available file containing term.
func (f *ContentFinder) Find(ctx context.Context, term string) bool {
	found := f.apply(f.matches(ctx, term))
	f.logger.Debug("finder.content.find", "term", term, "found", found)
	return found
}

// FindAll collects every available file containing term.
func (f *ContentFinder) FindAll(ctx context.Context, term string) bool {
	return f.applyAll(f.matches(ctx, term))
}

// FindAny collects every available data file in the store.
func (f *ContentFinder) FindAny(ctx context.Context) bool {
	matches := f.matches(ctx, "")
	for i, m := range matches {
		if m.LockName == "" {
			matches[i].LockName = datafile.BaseName(m.DataFile)
		}
	}
	return f.applyAll(matches)
}
