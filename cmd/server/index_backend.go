package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"outpost.ai/internal/persistence/indexdb"
	"outpost.ai/internal/persistence/snapshot"
	"outpost.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.EventLogger
	world.CommandLogger
	world.CatalogRecorder
	Close() error
	UpsertCatalog(name, digest string, raw []byte) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecentEvents(ctx context.Context, buildingID string, limit int) ([]indexdb.EventRow, error)
	CommandStats(ctx context.Context) ([]indexdb.CommandStat, error)
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("OUTPOST_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "outpost.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported OUTPOST_INDEX_BACKEND: %s", backend)
	}
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
