package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"outpost.ai/internal/sim/catalogs"
)

func main() {
	var (
		endpoint   = flag.String("url", "http://localhost:3000", "catalog service base url")
		out        = flag.String("out", "./configs/buildings.json", "output path")
		schemaPath = flag.String("schema", "./schemas/catalog.schema.json", "catalog schema (empty to skip validation)")
		check      = flag.Bool("check", false, "only report whether the output differs; do not write")
		timeout    = flag.Duration("timeout", 30*time.Second, "fetch timeout")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[catalogsync] ", log.LstdFlags)

	hp, err := catalogs.NewHTTPProvider(*endpoint)
	if err != nil {
		logger.Fatalf("catalog url: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	raw, err := hp.FetchRaw(ctx)
	if err != nil {
		logger.Fatalf("fetch %s: %v", hp.Endpoint(), err)
	}

	changed, snap, err := syncCatalog(raw, *out, strings.TrimSpace(*schemaPath), *check)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	for _, w := range snap.Warnings {
		logger.Printf("warning: %s", w)
	}
	switch {
	case !changed:
		logger.Printf("%s up to date (%d buildings, digest %s)", *out, len(snap.Defs), short(snap.Digest))
	case *check:
		logger.Printf("%s is stale (%d buildings upstream, digest %s)", *out, len(snap.Defs), short(snap.Digest))
		os.Exit(1)
	default:
		logger.Printf("wrote %s (%d buildings, digest %s)", *out, len(snap.Defs), short(snap.Digest))
	}
}

// syncCatalog normalizes raw, validates it and writes it to out unless the file
// already holds the same document. It reports whether out changed (or would
// change, in check mode).
func syncCatalog(raw []byte, out, schemaPath string, check bool) (bool, catalogs.Snapshot, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", "  "); err != nil {
		return false, catalogs.Snapshot{}, fmt.Errorf("catalog is not json: %w", err)
	}
	buf.WriteByte('\n')
	doc := buf.Bytes()

	var snap catalogs.Snapshot
	var err error
	if schemaPath != "" {
		schema, err := catalogs.CompileSchema(schemaPath)
		if err != nil {
			return false, snap, err
		}
		snap, err = catalogs.Parse(doc, "sync", schema)
		if err != nil {
			return false, snap, err
		}
	} else if snap, err = catalogs.Parse(doc, "sync", nil); err != nil {
		return false, snap, err
	}

	if prev, err := os.ReadFile(out); err == nil && bytes.Equal(prev, doc) {
		return false, snap, nil
	}
	if check {
		return true, snap, nil
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return false, snap, err
	}
	tmp := out + ".tmp"
	if err := os.WriteFile(tmp, doc, 0o644); err != nil {
		return false, snap, err
	}
	if err := os.Rename(tmp, out); err != nil {
		_ = os.Remove(tmp)
		return false, snap, err
	}
	return true, snap, nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
