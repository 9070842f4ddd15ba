package assetlock

import (
	"slices"
	"sync"

	"github.com/n8lab/assetlock/internal/svcid"
)

// LockSession is the process-local record of everything an allocator has
// claimed. It is append-only for the allocator's lifetime and exists to
// reject re-acquisition of an identifier already held by this process. This
// is a local guard only; cross-process exclusion is the lock service's job.
//
// The allocator is normally driven single-threaded, but the session is
// mutex-guarded so concurrent goroutines sharing one allocator cannot race
// the membership check against the append.
type LockSession struct {
	id string

	mu     sync.Mutex
	ids    []string
	byID   map[string]struct{}
	assets []*Asset
}

func newLockSession() *LockSession {
	return &LockSession{
		id:   svcid.NewSessionID(),
		byID: make(map[string]struct{}),
	}
}

// ID returns the session's process-unique identity, used in log fields.
func (s *LockSession) ID() string {
	return s.id
}

// Contains reports whether id was already claimed in this session.
func (s *LockSession) Contains(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}

// add records a claim under every non-empty identifier in ids. The same
// asset is stored once; identifiers accumulate (search term and lock name
// both guard against re-acquisition).
func (s *LockSession) add(asset *Asset, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.byID[id]; ok {
			continue
		}
		s.byID[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	s.assets = append(s.assets, asset)
}

// IDs returns the ordered identifiers claimed so far.
func (s *LockSession) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ids)
}

// Assets returns the ordered assets claimed so far.
func (s *LockSession) Assets() []*Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.assets)
}
