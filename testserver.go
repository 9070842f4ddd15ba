package assetlock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestServer is an in-process fake of the lockable-resources service wire
// contract, for tests of the client, the finders, and the allocator. It
// keeps the reserved set in memory and counts reserve/unreserve calls so
// idempotence can be asserted.
type TestServer struct {
	// URL is the base endpoint clients should be pointed at.
	URL string

	srv *httptest.Server

	mu             sync.Mutex
	known          []string
	reserved       map[string]bool
	statusCalls    int
	reserveCalls   map[string]int
	unreserveCalls map[string]int
	failReserve    map[string]bool
	legacyHTML     bool
	latency        time.Duration
}

// TestServerOption customises test server start-up.
type TestServerOption func(*TestServer)

// WithTestResources registers resource names in the status listing.
func WithTestResources(names ...string) TestServerOption {
	return func(ts *TestServer) {
		ts.known = append(ts.known, names...)
	}
}

// WithTestReserved registers names and marks them reserved up front.
func WithTestReserved(names ...string) TestServerOption {
	return func(ts *TestServer) {
		for _, name := range names {
			ts.known = append(ts.known, name)
			ts.reserved[name] = true
		}
	}
}

// WithTestLegacyHTML makes reserve answer 200 with a rendered page in both
// outcomes, the way old service deployments do; success is then only visible
// through the page fragment.
func WithTestLegacyHTML() TestServerOption {
	return func(ts *TestServer) {
		ts.legacyHTML = true
	}
}

// WithTestReserveFailure makes every reserve of name answer 500.
func WithTestReserveFailure(name string) TestServerOption {
	return func(ts *TestServer) {
		ts.failReserve[name] = true
	}
}

// WithTestLatency delays every response.
func WithTestLatency(d time.Duration) TestServerOption {
	return func(ts *TestServer) {
		ts.latency = d
	}
}

// StartTestServer runs the fake service and shuts it down with the test.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()
	ts := &TestServer{
		reserved:       make(map[string]bool),
		reserveCalls:   make(map[string]int),
		unreserveCalls: make(map[string]int),
		failReserve:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(ts)
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(ts.handle))
	ts.URL = ts.srv.URL
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *TestServer) handle(w http.ResponseWriter, r *http.Request) {
	if ts.latency > 0 {
		time.Sleep(ts.latency)
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/plugin/lockable-resources/api/json"):
		ts.handleStatus(w)
	case strings.HasPrefix(r.URL.Path, "/lockable-resources/reserve"):
		ts.handleReserve(w, r.URL.Query().Get("resource"))
	case strings.HasPrefix(r.URL.Path, "/lockable-resources/unreserve"):
		ts.handleUnreserve(w, r.URL.Query().Get("resource"))
	default:
		http.NotFound(w, nil)
	}
}

func (ts *TestServer) handleStatus(w http.ResponseWriter) {
	ts.mu.Lock()
	ts.statusCalls++
	type entry struct {
		Name     string `json:"name"`
		Reserved bool   `json:"reserved"`
	}
	entries := make([]entry, 0, len(ts.known))
	for _, name := range ts.known {
		entries = append(entries, entry{Name: name, Reserved: ts.reserved[name]})
	}
	ts.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"resources": entries})
}

func (ts *TestServer) handleReserve(w http.ResponseWriter, name string) {
	if name == "" {
		http.Error(w, "resource required", http.StatusBadRequest)
		return
	}
	ts.mu.Lock()
	ts.reserveCalls[name]++
	if ts.failReserve[name] {
		ts.mu.Unlock()
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	if ts.reserved[name] {
		legacy := ts.legacyHTML
		ts.mu.Unlock()
		if legacy {
			fmt.Fprintf(w, "<html><body>%s: 1 available of 1</body></html>", name)
			return
		}
		http.Error(w, "already reserved", http.StatusConflict)
		return
	}
	ts.reserved[name] = true
	if !ts.knows(name) {
		ts.known = append(ts.known, name)
	}
	legacy := ts.legacyHTML
	ts.mu.Unlock()
	if legacy {
		fmt.Fprintf(w, "<html><body>%s: 0 available of 1</body></html>", name)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (ts *TestServer) handleUnreserve(w http.ResponseWriter, name string) {
	if name == "" {
		http.Error(w, "resource required", http.StatusBadRequest)
		return
	}
	ts.mu.Lock()
	ts.unreserveCalls[name]++
	wasReserved := ts.reserved[name]
	delete(ts.reserved, name)
	ts.mu.Unlock()
	if !wasReserved {
		// Mirrors real deployments that reject a double-unreserve; the
		// client's idempotence guard keeps callers from ever seeing this.
		http.Error(w, "not reserved", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// knows reports listing membership; callers hold ts.mu.
func (ts *TestServer) knows(name string) bool {
	for _, n := range ts.known {
		if n == name {
			return true
		}
	}
	return false
}

// Reserve marks name reserved out-of-band, as another process would.
func (ts *TestServer) Reserve(name string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !ts.knows(name) {
		ts.known = append(ts.known, name)
	}
	ts.reserved[name] = true
}

// Release frees name out-of-band.
func (ts *TestServer) Release(name string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.reserved, name)
}

// IsReserved reports the current reservation state of name.
func (ts *TestServer) IsReserved(name string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.reserved[name]
}

// StatusCount returns how many status listing queries were served.
func (ts *TestServer) StatusCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.statusCalls
}

// ReserveCount returns how many reserve calls name received.
func (ts *TestServer) ReserveCount(name string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.reserveCalls[name]
}

// UnreserveCount returns how many unreserve calls name received.
func (ts *TestServer) UnreserveCount(name string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.unreserveCalls[name]
}
