package assetlock_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	assetlock "github.com/n8lab/assetlock"
	"github.com/n8lab/assetlock/client"
	"github.com/n8lab/assetlock/finder"
)

func writeStoreFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestClient(t *testing.T, ts *assetlock.TestServer) *client.Client {
	t.Helper()
	cl, err := client.New(client.Config{
		EndpointURL:  ts.URL,
		WaitInterval: 20 * time.Millisecond,
		WaitTimeout:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return cl
}

// alwaysFree reports every lock as available so finder-level fail-fast
// skipping stays out of the way and contention is decided at reserve time.
type alwaysFree struct{}

func (alwaysFree) IsLocked(context.Context, string) bool { return false }

func TestFindAssetByFilename(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "deviceA.csv", "mac,AA:BB:CC\n")

	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFilenameFinder(store, "mac", cl, nil),
	))

	asset, err := alloc.FindAsset(context.Background(), "deviceA")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if v, ok := asset.Value("mac"); !ok || v != "AA:BB:CC" {
		t.Fatalf("mac value: %q %v", v, ok)
	}
	if asset.LockName() != "AA:BB:CC" {
		t.Fatalf("lock name: %q", asset.LockName())
	}
	if !asset.IsLocked() {
		t.Fatalf("asset should be locked")
	}
	if !ts.IsReserved("AA:BB:CC") {
		t.Fatalf("reservation missing server-side")
	}
}

func TestFindAssetRejectsReacquisition(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "deviceA.csv", "mac,AA:BB:CC\n")

	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFilenameFinder(store, "mac", cl, nil),
	))
	ctx := context.Background()

	if _, err := alloc.FindAsset(ctx, "deviceA"); err != nil {
		t.Fatalf("first find: %v", err)
	}
	statusBefore := ts.StatusCount()
	reserveBefore := ts.ReserveCount("AA:BB:CC")

	_, err := alloc.FindAsset(ctx, "deviceA")
	if !errors.Is(err, assetlock.ErrAlreadyAllocated) {
		t.Fatalf("expected ErrAlreadyAllocated, got %v", err)
	}
	// The guard fires before any remote call.
	if ts.StatusCount() != statusBefore || ts.ReserveCount("AA:BB:CC") != reserveBefore {
		t.Fatalf("re-acquisition guard made remote calls")
	}
}

func TestFindAssetNotFound(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFilenameFinder(t.TempDir(), "mac", cl, nil),
	))
	_, err := alloc.FindAsset(context.Background(), "ghost")
	if !errors.Is(err, assetlock.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindAssetContentionMapsToReserved(t *testing.T) {
	ts := assetlock.StartTestServer(t, assetlock.WithTestReserveFailure("AA:BB:CC"))
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "deviceA.csv", "mac,AA:BB:CC\n")

	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFilenameFinder(store, "mac", cl, nil),
	))
	_, err := alloc.FindAsset(context.Background(), "deviceA")
	if !errors.Is(err, assetlock.ErrFoundButReserved) {
		t.Fatalf("expected ErrFoundButReserved, got %v", err)
	}
}

func TestFindAssetAllCandidatesHeldByTask(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "deviceA.csv", "mac,AA:BB:CC\n")

	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFieldValueFinder(store, "mac", alwaysFree{}, nil),
	))
	ctx := context.Background()

	if _, err := alloc.FindAsset(ctx, "aa:bb"); err != nil {
		t.Fatalf("first find: %v", err)
	}
	// Different term, same single candidate, whose lock this task holds.
	_, err := alloc.FindAsset(ctx, "bb:cc")
	if !errors.Is(err, assetlock.ErrAlreadyAllocated) {
		t.Fatalf("expected ErrAlreadyAllocated for held candidate, got %v", err)
	}
}

func TestAmbiguityResolutionClaimsFirstFree(t *testing.T) {
	ts := assetlock.StartTestServer(t, assetlock.WithTestReserved("lock-1", "lock-2"))
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "rig1.csv", "id,lock-1\n")
	writeStoreFile(t, store, "rig2.csv", "id,lock-2\n")
	writeStoreFile(t, store, "rig3.csv", "id,lock-3\n")

	// The finder sees every candidate; the first two claims lose at the
	// service and the allocator falls through to the free one.
	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFieldValueFinder(store, "id", alwaysFree{}, nil),
	))
	asset, err := alloc.FindAsset(context.Background(), "lock")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if asset.LockName() != "lock-3" {
		t.Fatalf("expected lock-3, got %q", asset.LockName())
	}
	if !ts.IsReserved("lock-3") {
		t.Fatalf("lock-3 not reserved server-side")
	}
}

func TestFinderFallthrough(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	emptyStore := t.TempDir()
	store := t.TempDir()
	writeStoreFile(t, store, "deviceA.csv", "mac,AA:BB:CC\n")

	// First finder scans an empty store; the allocator must fall through to
	// the second in registration order.
	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFilenameFinder(emptyStore, "mac", cl, nil),
		finder.NewFilenameFinder(store, "mac", cl, nil),
	))
	asset, err := alloc.FindAsset(context.Background(), "deviceA")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if asset.LockName() != "AA:BB:CC" {
		t.Fatalf("lock name: %q", asset.LockName())
	}
}

func TestFindAssetWithExplicitLock(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "deviceA.csv", "mac,AA:BB:CC\n")

	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFilenameFinder(store, "mac", cl, nil),
	))
	asset, err := alloc.FindAssetWithLock(context.Background(), "deviceA", "bench-4")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if asset.LockName() != "bench-4" {
		t.Fatalf("explicit lock name not used: %q", asset.LockName())
	}
	if !ts.IsReserved("bench-4") {
		t.Fatalf("explicit lock not reserved server-side")
	}
}

func TestConcurrentAllocatorsMutualExclusion(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	store := t.TempDir()
	writeStoreFile(t, store, "shared.csv", "id,shared\n")

	run := func() (*assetlock.Asset, error) {
		cl, err := client.New(client.Config{
			EndpointURL:  ts.URL,
			WaitInterval: 10 * time.Millisecond,
			WaitTimeout:  50 * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		alloc := assetlock.New(cl, assetlock.WithFinders(
			finder.NewFieldValueFinder(store, "id", alwaysFree{}, nil),
		))
		return alloc.FindAsset(context.Background(), "shared")
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	assets := make([]*assetlock.Asset, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			assets[i], results[i] = run()
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for i := 0; i < 2; i++ {
		if results[i] == nil {
			winners++
			if assets[i].LockName() != "shared" {
				t.Fatalf("winner claimed %q", assets[i].LockName())
			}
		} else if !errors.Is(results[i], assetlock.ErrFoundButReserved) {
			t.Fatalf("loser error: %v", results[i])
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if !ts.IsReserved("shared") {
		t.Fatalf("shared not reserved after the race")
	}
}

func TestFindAnyAvailableAsset(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "rig1.csv", "id,lock-1\n")
	writeStoreFile(t, store, "rig2.csv", "id,lock-2\n")
	writeStoreFile(t, store, "rig3.csv", "id,lock-3\n")

	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFieldValueFinder(store, "id", cl, nil),
	))
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		asset, err := alloc.FindAnyAvailableAsset(ctx)
		if err != nil {
			t.Fatalf("any #%d: %v", i+1, err)
		}
		if seen[asset.LockName()] {
			t.Fatalf("duplicate claim %q", asset.LockName())
		}
		seen[asset.LockName()] = true
	}
	if _, err := alloc.FindAnyAvailableAsset(ctx); err == nil {
		t.Fatalf("fourth any-claim should exhaust the pool")
	}
}

// stubFinder reports a fixed choice set with no derived lock names, the
// degenerate shape that forces the allocator's placeholder identifiers.
type stubFinder struct {
	choices []finder.Choice
	last    []finder.Choice
}

func (s *stubFinder) Find(context.Context, string) bool {
	s.last = s.choices
	return len(s.last) > 0
}

func (s *stubFinder) FindAll(context.Context, string) bool {
	s.last = s.choices
	return len(s.last) > 0
}

func (s *stubFinder) FindAny(context.Context) bool {
	s.last = s.choices
	return len(s.last) > 0
}

func (s *stubFinder) LockName() string { return "" }

func (s *stubFinder) AssetDataFile() string {
	if len(s.choices) == 0 {
		return ""
	}
	return s.choices[0].DataFile
}

func (s *stubFinder) HasMultipleAssetChoices() bool            { return len(s.last) > 1 }
func (s *stubFinder) MultipleAssetsDataFiles() []finder.Choice { return s.last }
func (s *stubFinder) NumberOfMultipleAssetChoices() int        { return len(s.last) }

func TestFindAnyGeneratesPlaceholderIdentifiers(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	df := writeStoreFile(t, store, "pool.csv", "slot,1\n")

	sf := &stubFinder{choices: []finder.Choice{{DataFile: df}, {DataFile: df}, {DataFile: df}}}
	alloc := assetlock.New(cl, assetlock.WithFinders(sf))
	ctx := context.Background()

	var names []string
	for i := 0; i < 3; i++ {
		asset, err := alloc.FindAnyAvailableAsset(ctx)
		if err != nil {
			t.Fatalf("any #%d: %v", i+1, err)
		}
		names = append(names, asset.LockName())
	}
	want := []string{"any-1", "any-2", "any-3"}
	for i, name := range names {
		if name != want[i] {
			t.Fatalf("placeholder %d = %q, want %q", i, name, want[i])
		}
	}
}

func TestAnyTermRoutesToAnyPath(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "rig1.csv", "id,lock-1\n")

	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFieldValueFinder(store, "id", cl, nil),
	))
	asset, err := alloc.FindAsset(context.Background(), assetlock.AnyAsset)
	if err != nil {
		t.Fatalf("any: %v", err)
	}
	if asset.LockName() != "lock-1" {
		t.Fatalf("lock name: %q", asset.LockName())
	}
}

func TestRunWorkflowReleasesOnSuccessAndFailure(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "deviceA.csv", "mac,AA:BB:CC\n")

	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFilenameFinder(store, "mac", cl, nil),
	))
	ctx := context.Background()

	asset, err := alloc.FindAsset(ctx, "deviceA")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := alloc.RunWorkflow(ctx, asset, func(ctx context.Context, a *assetlock.Asset) error {
		if !a.IsLocked() {
			t.Fatalf("asset must be locked inside the workflow")
		}
		return nil
	}); err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if asset.IsLocked() {
		t.Fatalf("asset still locked after workflow")
	}
	if ts.IsReserved("AA:BB:CC") {
		t.Fatalf("reservation leaked after workflow")
	}

	// Failure path: the workflow error surfaces, the lock is still released.
	asset2, err := alloc.FindAsset(ctx, "deviceA.csv")
	if err == nil {
		// Same identifier family; claim under a fresh allocator instead.
		t.Fatalf("expected session guard or fresh claim, got asset %v", asset2)
	}
	alloc2 := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFilenameFinder(store, "mac", cl, nil),
	))
	asset2, err = alloc2.FindAsset(ctx, "deviceA")
	if err != nil {
		t.Fatalf("re-find: %v", err)
	}
	boom := fmt.Errorf("workflow exploded")
	if err := alloc2.RunWorkflow(ctx, asset2, func(context.Context, *assetlock.Asset) error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected workflow error, got %v", err)
	}
	if asset2.IsLocked() {
		t.Fatalf("asset still locked after failing workflow")
	}
}

func TestRunWorkflowSwallowsReleaseFailure(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "deviceA.csv", "mac,AA:BB:CC\n")

	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFilenameFinder(store, "mac", cl, nil),
	))
	ctx := context.Background()
	asset, err := alloc.FindAsset(ctx, "deviceA")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	// Free the resource behind the client's back so its unreserve is
	// rejected; the workflow result must still come through clean.
	ts.Release("AA:BB:CC")
	if err := alloc.RunWorkflow(ctx, asset, func(context.Context, *assetlock.Asset) error {
		return nil
	}); err != nil {
		t.Fatalf("release failure must not surface: %v", err)
	}
}

func TestSessionBookkeeping(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "deviceA.csv", "mac,AA:BB:CC\n")

	alloc := assetlock.New(cl, assetlock.WithFinders(
		finder.NewFilenameFinder(store, "mac", cl, nil),
	))
	if alloc.Session().ID() == "" {
		t.Fatalf("session needs an identity")
	}
	if _, err := alloc.FindAsset(context.Background(), "deviceA"); err != nil {
		t.Fatalf("find: %v", err)
	}
	ids := alloc.Session().IDs()
	if len(ids) != 2 || ids[0] != "deviceA" || ids[1] != "AA:BB:CC" {
		t.Fatalf("session ids: %v", ids)
	}
	if got := len(alloc.Session().Assets()); got != 1 {
		t.Fatalf("session assets: %d", got)
	}
}

func TestClaimMergesAssetSettings(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	store := t.TempDir()
	writeStoreFile(t, store, "deviceA.csv", "mac,AA:BB:CC\nserial,12345\n")

	shared := assetlock.NewSharedConfig()
	alloc := assetlock.New(cl,
		assetlock.WithFinders(finder.NewFilenameFinder(store, "mac", cl, nil)),
		assetlock.WithSharedConfig(shared),
	)
	if _, err := alloc.FindAsset(context.Background(), "deviceA"); err != nil {
		t.Fatalf("find: %v", err)
	}
	if v, ok := shared.Get("serial"); !ok || v != "12345" {
		t.Fatalf("shared config merge: %q %v", v, ok)
	}
}
