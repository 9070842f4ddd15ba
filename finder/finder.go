// Package finder discovers candidate assets for allocation. A Finder scans
// the candidate store (or the lock service's own inventory) for records
// matching a search term and reports zero, one, or many candidates, each a
// data-file reference paired with a derived lock name. Candidates whose lock
// name is currently reserved remotely are never reported; a locked match must
// fail fast rather than surface as found.
//
// Every variant holds an explicit reference to the shared lock client; there
// is no process-global controller state.
package finder

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"slices"

	"github.com/n8lab/assetlock/internal/datafile"
)

// Choice is one candidate of an ambiguous match: the data file describing the
// asset and the lock name derived for it. LockName may be empty when the
// variant could not derive one; the allocator then falls back to the search
// term or a generated identifier.
type Choice struct {
	DataFile string
	LockName string
}

// Finder locates candidate assets. Implementations carry single-result state
// for Find and an ordered multi-candidate collection for FindAll/FindAny;
// each call resets the previous results.
type Finder interface {
	// Find locates candidates matching term. It reports false when nothing
	// matched or every match is currently reserved remotely.
	Find(ctx context.Context, term string) bool
	// FindAll collects every available candidate matching term and reports
	// HasMultipleAssetChoices.
	FindAll(ctx context.Context, term string) bool
	// FindAny collects every available candidate with no term filter.
	FindAny(ctx context.Context) bool

	// LockName returns the single-result lock name, possibly empty.
	LockName() string
	// AssetDataFile returns the single-result data file path, possibly empty.
	AssetDataFile() string
	// HasMultipleAssetChoices reports whether the last search yielded more
	// than one equally valid candidate.
	HasMultipleAssetChoices() bool
	// MultipleAssetsDataFiles returns the ordered candidate collection. The
	// order is the (shuffled) visit order of the scan that produced it and
	// is stable for the lifetime of the result.
	MultipleAssetsDataFiles() []Choice
	// NumberOfMultipleAssetChoices returns the size of the collection.
	NumberOfMultipleAssetChoices() int
}

// resultState is the search-result bookkeeping shared by all variants.
type resultState struct {
	lockName string
	dataFile string
	choices  []Choice
}

func (s *resultState) reset() {
	s.lockName = ""
	s.dataFile = ""
	s.choices = nil
}

// apply installs the collected candidates: one candidate populates the
// single-result state, several populate the multi-candidate collection with
// the first mirrored into the single-result accessors.
func (s *resultState) apply(matches []Choice) bool {
	s.reset()
	if len(matches) == 0 {
		return false
	}
	s.dataFile = matches[0].DataFile
	s.lockName = matches[0].LockName
	if len(matches) > 1 {
		s.choices = matches
	}
	return true
}

// applyAll installs the collection for FindAll/FindAny, keeping every match
// in the multi-candidate collection regardless of count.
func (s *resultState) applyAll(matches []Choice) bool {
	s.reset()
	if len(matches) == 0 {
		return false
	}
	s.dataFile = matches[0].DataFile
	s.lockName = matches[0].LockName
	s.choices = matches
	return true
}

func (s *resultState) LockName() string      { return s.lockName }
func (s *resultState) AssetDataFile() string { return s.dataFile }

func (s *resultState) HasMultipleAssetChoices() bool {
	return len(s.choices) > 0
}

func (s *resultState) MultipleAssetsDataFiles() []Choice {
	return slices.Clone(s.choices)
}

func (s *resultState) NumberOfMultipleAssetChoices() int {
	return len(s.choices)
}

// scanDataFiles walks root and returns every recognised data file. The visit
// order is shuffled per call at both the directory and the file level so
// concurrent allocators across many processes do not converge on the same
// candidate first and serialize on lock contention. Unreadable directories
// yield an empty result; the scan is best effort.
func scanDataFiles(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	rand.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	var files []string
	var dirs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, name))
			continue
		}
		if datafile.IsDataFile(name) {
			files = append(files, filepath.Join(root, name))
		}
	}
	for _, dir := range dirs {
		files = append(files, scanDataFiles(dir)...)
	}
	return files
}

// StatusClient is the slice of the lock client the file-based finders
// depend on. *client.Client implements it.
type StatusClient interface {
	IsLocked(ctx context.Context, name string) bool
}
