package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type snapshotRow struct {
	Path          string `db:"path" json:"path"`
	Session       string `db:"session" json:"session"`
	CatalogDigest string `db:"catalog_digest" json:"catalog_digest"`
	UnixMS        int64  `db:"unix_ms" json:"unix_ms"`
	Buildings     int    `db:"buildings" json:"buildings"`
	Stability     int    `db:"stability" json:"stability"`
}

type eventRow struct {
	Session    string `db:"session" json:"session"`
	Seq        int64  `db:"seq" json:"seq"`
	Kind       string `db:"kind" json:"kind"`
	BuildingID string `db:"building_id" json:"building_id,omitempty"`
	Resource   string `db:"resource" json:"resource,omitempty"`
	Amount     int    `db:"amount" json:"amount"`
	Stability  int    `db:"stability" json:"stability"`
	UnixMS     int64  `db:"unix_ms" json:"unix_ms"`
}

type commandRow struct {
	Session    string `db:"session" json:"session"`
	UnixMS     int64  `db:"unix_ms" json:"unix_ms"`
	Source     string `db:"source" json:"source,omitempty"`
	Command    string `db:"command" json:"command"`
	BuildingID string `db:"building_id" json:"building_id,omitempty"`
	OK         bool   `db:"ok" json:"ok"`
	Code       string `db:"code" json:"code,omitempty"`
}

type catalogRow struct {
	Name      string `db:"name" json:"name"`
	Digest    string `db:"digest" json:"digest"`
	UpdatedAt string `db:"updated_at" json:"updated_at"`
	Bytes     int    `db:"bytes" json:"bytes"`
}

type rejectRow struct {
	Command string `db:"command" json:"command"`
	Code    string `db:"code" json:"code"`
	N       int    `db:"n" json:"count"`
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	building := fs.String("building", "", "building_id filter (events, commands)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "outpost.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	b := strings.TrimSpace(*building)

	switch q {
	case "snapshots":
		var rows []snapshotRow
		err = db.Select(&rows, `SELECT path,session,catalog_digest,unix_ms,buildings,stability FROM snapshots ORDER BY unix_ms DESC LIMIT ?`, *limit)
		printRows(rows, err)

	case "events":
		var rows []eventRow
		if b == "" {
			err = db.Select(&rows, `SELECT session,seq,kind,building_id,resource,amount,stability,unix_ms FROM events ORDER BY unix_ms DESC, id DESC LIMIT ?`, *limit)
		} else {
			err = db.Select(&rows, `SELECT session,seq,kind,building_id,resource,amount,stability,unix_ms FROM events WHERE building_id=? ORDER BY unix_ms DESC, id DESC LIMIT ?`, b, *limit)
		}
		printRows(rows, err)

	case "commands":
		var rows []commandRow
		if b == "" {
			err = db.Select(&rows, `SELECT session,unix_ms,source,command,building_id,ok,code FROM commands ORDER BY id DESC LIMIT ?`, *limit)
		} else {
			err = db.Select(&rows, `SELECT session,unix_ms,source,command,building_id,ok,code FROM commands WHERE building_id=? ORDER BY id DESC LIMIT ?`, b, *limit)
		}
		printRows(rows, err)

	case "rejects":
		var rows []rejectRow
		err = db.Select(&rows, `SELECT command,code,COUNT(*) AS n FROM commands WHERE ok=0 GROUP BY command,code ORDER BY n DESC LIMIT ?`, *limit)
		printRows(rows, err)

	case "catalogs":
		var rows []catalogRow
		err = db.Select(&rows, `SELECT name,digest,updated_at,LENGTH(json) AS bytes FROM catalogs ORDER BY name`)
		printRows(rows, err)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want snapshots|events|commands|rejects|catalogs)")
		os.Exit(2)
	}
}

func printRows[T any](rows []T, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}
