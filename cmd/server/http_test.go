package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"outpost.ai/internal/persistence/snapshot"
	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/catalogs"
	"outpost.ai/internal/sim/economy"
	"outpost.ai/internal/sim/world"
)

func findRepoRootForServerTests(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func newTestServer(t *testing.T, admin bool) (*world.World, *httptest.Server, string) {
	t.Helper()
	root := findRepoRootForServerTests(t)
	cat, err := catalogs.Load(filepath.Join(root, "configs", "buildings.json"), filepath.Join(root, "schemas", "catalog.schema.json"))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	logger := log.New(io.Discard, "", 0)
	w := world.New(world.WorldConfig{Rules: economy.DefaultRules()}, cat, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	snapDir := filepath.Join(t.TempDir(), "snapshots")
	srv := httptest.NewServer(newMux(httpDeps{World: w, Logger: logger, SnapshotDir: snapDir, EnableAdmin: admin}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return w, srv, snapDir
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	_, srv, _ := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		"outpost_stability{session=",
		`outpost_buildings{state="total"} 13`,
		`outpost_queue_depth{queue="inbox"} 0`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}

	resp, err = http.Post(srv.URL+"/admin/v1/snapshot", "application/json", nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("admin disabled but snapshot status=%d", resp.StatusCode)
	}
}

func TestHTTP_State(t *testing.T) {
	w, srv, _ := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/v1/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer resp.Body.Close()
	var st protocol.StateMsg
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Type != protocol.TypeState || st.Session != w.State().Session || len(st.Buildings) != 13 {
		t.Fatalf("state=%+v", st)
	}
	// Buildings are grouped by category.
	for i := 1; i < len(st.Buildings); i++ {
		if st.Buildings[i-1].Category > st.Buildings[i].Category {
			t.Fatalf("not sorted by category at %d: %s > %s", i, st.Buildings[i-1].Category, st.Buildings[i].Category)
		}
	}
}

func TestHTTP_AdminSnapshotRoundTrip(t *testing.T) {
	w, srv, snapDir := newTestServer(t, true)

	if _, err := w.Submit(context.Background(), world.Command{Name: protocol.CmdAddOccupant, BuildingID: "habUnit"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	resp, err := http.Post(srv.URL+"/admin/v1/snapshot", "application/json", nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		OK   bool   `json:"ok"`
		Path string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.OK || out.Path == "" {
		t.Fatalf("resp=%+v", out)
	}
	if got := latestSnapshot(snapDir); got != out.Path {
		t.Fatalf("latest=%s want %s", got, out.Path)
	}

	snap, err := snapshot.ReadSnapshot(out.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	st := snap.ToState()
	if st.Session != w.State().Session || st.Buildings["habUnit"].Occupancy != 1 {
		t.Fatalf("snapshot state=%+v", st.Buildings["habUnit"])
	}

	resp2, err := http.Get(srv.URL + "/admin/v1/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("events without index status=%d", resp2.StatusCode)
	}
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"900.snap.zst", "1000.snap.zst", "abc.snap.zst", "20.snap.zst", "2000.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got := latestSnapshot(dir); filepath.Base(got) != "1000.snap.zst" {
		t.Fatalf("latest=%s", got)
	}
	if got := latestSnapshot(filepath.Join(dir, "missing")); got != "" {
		t.Fatalf("latest in missing dir=%s", got)
	}
}
