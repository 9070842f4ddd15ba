package assetlock_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	assetlock "github.com/n8lab/assetlock"
	"github.com/n8lab/assetlock/client"
)

func TestTestServerListing(t *testing.T) {
	ts := assetlock.StartTestServer(t,
		assetlock.WithTestResources("rig-1", "rig-2"),
		assetlock.WithTestReserved("rig-2"))

	resp, err := http.Get(ts.URL + client.DefaultStatusPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var listing struct {
		Resources []client.Resource `json:"resources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Resources) != 2 {
		t.Fatalf("resources: %+v", listing.Resources)
	}
	states := map[string]bool{}
	for _, r := range listing.Resources {
		states[r.Name] = r.Reserved
	}
	if states["rig-1"] || !states["rig-2"] {
		t.Fatalf("states: %v", states)
	}
}

func TestTestServerReserveConflict(t *testing.T) {
	ts := assetlock.StartTestServer(t, assetlock.WithTestReserved("rig-1"))

	resp, err := http.Get(ts.URL + client.DefaultReservePath + "rig-1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("held resource must not reserve again")
	}
}

func TestTestServerLegacyHTMLBodies(t *testing.T) {
	ts := assetlock.StartTestServer(t, assetlock.WithTestLegacyHTML())

	resp, err := http.Get(ts.URL + client.DefaultReservePath + "rig-1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if want := "0 available"; !strings.Contains(string(body), want) {
		t.Fatalf("success body %q should contain %q", body, want)
	}
}

func TestTestServerOutOfBandRelease(t *testing.T) {
	ts := assetlock.StartTestServer(t)
	cl := newTestClient(t, ts)
	ctx := context.Background()

	if err := cl.Reserve(ctx, "rig-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	ts.Release("rig-1")
	if ts.IsReserved("rig-1") {
		t.Fatalf("out-of-band release did not stick")
	}
	ts.Reserve("rig-1")
	if !ts.IsReserved("rig-1") {
		t.Fatalf("out-of-band reserve did not stick")
	}
}
