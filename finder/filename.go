package finder

import (
	"context"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"

	"github.com/n8lab/assetlock/internal/datafile"
)

// FilenameFinder matches candidates by exact data-file name. The search term
// may name the file with or without one of the recognised extensions:
// "deviceA" matches deviceA.csv and deviceA.txt. The lock name is derived
// from the configured dataset field of the matched file when present.
type FilenameFinder struct {
	resultState
	store     string
	datasetID string
	status    StatusClient
	logger    pslog.Base
}

// NewFilenameFinder builds a finder over the candidate store rooted at
// store. datasetID names the data-file row whose first value becomes the
// lock name of a match.
func NewFilenameFinder(store, datasetID string, status StatusClient, logger pslog.Base) *FilenameFinder {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &FilenameFinder{store: store, datasetID: datasetID, status: status, logger: logger}
}

func (f *FilenameFinder) matches(ctx context.Context, term string) []Choice {
	var matches []Choice
	for _, path := range scanDataFiles(f.store) {
		if term != "" && !filenameMatches(path, term) {
			continue
		}
		lock := f.lockNameFor(path)
		if f.status != nil && lock != "" && f.status.IsLocked(ctx, lock) {
			f.logger.Debug("finder.filename.skip_reserved", "file", path, "lock", lock)
			continue
		}
		matches = append(matches, Choice{DataFile: path, LockName: lock})
	}
	return matches
}

// lockNameFor derives a lock name from the matched file's dataset field. An
// unparsable file yields an empty name rather than dropping the candidate:
// this variant matches on the file name alone, so the match stands and the
// lock name falls back downstream (term, or base name on FindAny). The
// field-value variant drops such files instead, since its match is the
// parsed field itself.
func (f *FilenameFinder) lockNameFor(path string) string {
	df, err := datafile.Load(path)
	if err != nil {
		f.logger.Debug("finder.filename.unreadable", "file", path, "error", err)
		return ""
	}
	if v, ok := df.Value(f.datasetID); ok {
		return v
	}
	return ""
}

// Find locates a data file named term.
func (f *FilenameFinder) Find(ctx context.Context, term string) bool {
	found := f.apply(f.matches(ctx, term))
	f.logger.Debug("finder.filename.find", "term", term, "found", found)
	return found
}

// FindAll collects every available file named term.
func (f *FilenameFinder) FindAll(ctx context.Context, term string) bool {
	return f.applyAll(f.matches(ctx, term))
}

// FindAny collects every available data file in the store.
func (f *FilenameFinder) FindAny(ctx context.Context) bool {
	matches := f.matches(ctx, "")
	// Without a term there is no name to fall back on; derive one from the
	// file itself so any-allocation can still claim something meaningful.
	for i, m := range matches {
		if m.LockName == "" {
			matches[i].LockName = datafile.BaseName(m.DataFile)
		}
	}
	return f.applyAll(matches)
}

func filenameMatches(path, term string) bool {
	name := strings.ToLower(filepath.Base(path))
	term = strings.ToLower(term)
	if name == term {
		return true
	}
	for _, ext := range datafile.Extensions {
		if name == term+ext {
			return true
		}
	}
	return false
}
