package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"outpost.ai/internal/sim/catalogs"
)

const testSchema = "../../schemas/catalog.schema.json"

func TestSyncCatalog_WritesThenSkipsUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/buildings" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"mine":{"name":"MINE","locked":false,"emissions":"{\"materials\":{\"amount\":2}}"}}`))
	}))
	defer srv.Close()

	hp, err := catalogs.NewHTTPProvider(srv.URL)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	raw, err := hp.FetchRaw(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	out := filepath.Join(t.TempDir(), "configs", "buildings.json")
	changed, snap, err := syncCatalog(raw, out, testSchema, false)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !changed || len(snap.Defs) != 1 {
		t.Fatalf("changed=%v defs=%d", changed, len(snap.Defs))
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasSuffix(string(b), "}\n") || !strings.Contains(string(b), "\n  \"mine\"") {
		t.Fatalf("unexpected output:\n%s", b)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}

	changed, _, err = syncCatalog(raw, out, testSchema, false)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if changed {
		t.Fatalf("expected unchanged on identical document")
	}
}

func TestSyncCatalog_CheckDoesNotWrite(t *testing.T) {
	out := filepath.Join(t.TempDir(), "buildings.json")
	changed, _, err := syncCatalog([]byte(`{"a":{"name":"A"}}`), out, "", true)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !changed {
		t.Fatalf("expected stale report")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("check mode wrote %s", out)
	}
}

func TestSyncCatalog_RejectsInvalid(t *testing.T) {
	out := filepath.Join(t.TempDir(), "buildings.json")
	if _, _, err := syncCatalog([]byte(`not json`), out, "", false); err == nil {
		t.Fatalf("expected error for non-json input")
	}
	if _, _, err := syncCatalog([]byte(`{"a":{"name":"A","locked":"yes"}}`), out, testSchema, false); err == nil {
		t.Fatalf("expected schema error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("invalid catalog was written")
	}
}
