package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"outpost.ai/internal/persistence/snapshot"
	"outpost.ai/internal/sim/catalogs"
	"outpost.ai/internal/sim/world"
)

// SQLiteIndex is a queryable secondary index over the event and command
// streams. Writes are queued and batched by a single writer goroutine; the
// JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqCommand
	reqSnapshot
	reqCatalog
	reqFlush
)

type req struct {
	kind reqKind

	event    world.Event
	command  world.CommandRecord
	snapshot snapshotRow
	catalog  catalogRow
	done     chan struct{}
}

type catalogRow struct {
	Name   string
	Digest string
	JSON   string
	At     string
}

type snapshotRow struct {
	Path      string
	Session   string
	Digest    string
	UnixMS    int64
	Buildings int
	Stability int
}

// EventRow is one indexed event.
type EventRow struct {
	Session    string `db:"session" json:"session"`
	Seq        int64  `db:"seq" json:"seq"`
	Kind       string `db:"kind" json:"kind"`
	BuildingID string `db:"building_id" json:"building_id,omitempty"`
	Resource   string `db:"resource" json:"resource,omitempty"`
	Amount     int    `db:"amount" json:"amount"`
	Stability  int    `db:"stability" json:"stability"`
	UnixMS     int64  `db:"unix_ms" json:"unix_ms"`
}

// CommandStat counts processed commands per (command, code). Accepted
// commands have an empty code.
type CommandStat struct {
	Command string `db:"command" json:"command"`
	Code    string `db:"code" json:"code,omitempty"`
	Count   int    `db:"n" json:"count"`
}

type CatalogRow struct {
	Name      string `db:"name" json:"name"`
	Digest    string `db:"digest" json:"digest"`
	JSON      string `db:"json" json:"json"`
	UpdatedAt string `db:"updated_at" json:"updated_at"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

// schemaVersion 2 keys events on a row id: seq restarts with every process,
// so (session, seq) is not unique across a resumed session.
const schemaVersion = 2

func initSchema(db *sqlx.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`); err != nil {
		return err
	}
	var have int
	err := db.Get(&have, `SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'schema_version'`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if have > 0 && have < schemaVersion {
		// The index is rebuilt from the JSONL logs, so old event rows are dropped.
		if _, err := db.Exec(`DROP TABLE IF EXISTS events;`); err != nil {
			return err
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			building_id TEXT NOT NULL,
			resource TEXT NOT NULL,
			amount INTEGER NOT NULL,
			level INTEGER NOT NULL,
			stability INTEGER NOT NULL,
			unix_ms INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_building ON events(building_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_unix ON events(unix_ms);`,
		`CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			unix_ms INTEGER NOT NULL,
			source TEXT NOT NULL,
			command TEXT NOT NULL,
			building_id TEXT NOT NULL,
			resource TEXT NOT NULL,
			amount INTEGER NOT NULL,
			slot INTEGER NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_command ON commands(command, code);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			session TEXT NOT NULL,
			catalog_digest TEXT NOT NULL,
			unix_ms INTEGER NOT NULL,
			buildings INTEGER NOT NULL,
			stability INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err = db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, fmt.Sprint(schemaVersion))
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped reports how many writes were discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) enqueue(r req) {
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) WriteEvent(ev world.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqEvent, event: ev})
	return nil
}

func (s *SQLiteIndex) WriteCommand(rec world.CommandRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqCommand, command: rec})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Path:      path,
		Session:   snap.Header.Session,
		Digest:    snap.Header.CatalogDigest,
		UnixMS:    snap.Header.UnixMS,
		Buildings: len(snap.Buildings),
		Stability: snap.Stability,
	}})
}

// Flush waits until every write queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return errors.New("index closed")
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const catalogName = "buildings"

// UpsertCatalog stores the raw catalog document under name.
func (s *SQLiteIndex) UpsertCatalog(name, digest string, raw []byte) error {
	if s == nil {
		return nil
	}
	if name == "" || digest == "" || len(raw) == 0 {
		return fmt.Errorf("catalog %q: empty name, digest or body", name)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`, name, digest, string(raw), now)
	return err
}

// RecordCatalog queues snap's document as the current "buildings" catalog.
// It is called from the world loop, so it never touches the database itself.
func (s *SQLiteIndex) RecordCatalog(snap catalogs.Snapshot) {
	if s == nil || s.closed.Load() || snap.Digest == "" || len(snap.Raw) == 0 {
		return
	}
	s.enqueue(req{kind: reqCatalog, catalog: catalogRow{
		Name:   catalogName,
		Digest: snap.Digest,
		JSON:   string(snap.Raw),
		At:     time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

func (s *SQLiteIndex) Catalog(ctx context.Context, name string) (CatalogRow, error) {
	var row CatalogRow
	err := s.db.GetContext(ctx, &row, `SELECT name, digest, json, updated_at FROM catalogs WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("catalog %q not indexed", name)
	}
	return row, err
}

// RecentEvents returns up to limit events, newest first. An empty
// buildingID matches every building.
func (s *SQLiteIndex) RecentEvents(ctx context.Context, buildingID string, limit int) ([]EventRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []EventRow
	var err error
	if buildingID == "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT session, seq, kind, building_id, resource, amount, stability, unix_ms
			 FROM events ORDER BY unix_ms DESC, id DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT session, seq, kind, building_id, resource, amount, stability, unix_ms
			 FROM events WHERE building_id = ? ORDER BY unix_ms DESC, id DESC LIMIT ?`, buildingID, limit)
	}
	return rows, err
}

func (s *SQLiteIndex) CommandStats(ctx context.Context) ([]CommandStat, error) {
	var rows []CommandStat
	err := s.db.SelectContext(ctx, &rows,
		`SELECT command, code, COUNT(*) AS n FROM commands GROUP BY command, code ORDER BY command, code`)
	return rows, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Preparex(`INSERT INTO events(session,seq,kind,building_id,resource,amount,level,stability,unix_ms,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertCommand, _ := s.db.Preparex(`INSERT INTO commands(session,unix_ms,source,command,building_id,resource,amount,slot,ok,code) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Preparex(`INSERT OR REPLACE INTO snapshots(path,session,catalog_digest,unix_ms,buildings,stability) VALUES(?,?,?,?,?,?)`)
	upsertCatalog, _ := s.db.Preparex(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sqlx.Stmt{insertEvent, insertCommand, insertSnapshot, upsertCatalog} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sqlx.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sqlx.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmtx(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	// Readers share the single connection, so an idle batch is committed on
	// a timer rather than held open until the next write.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-idle.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			ev := r.event
			raw, _ := json.Marshal(ev)
			exec(insertEvent,
				ev.Session,
				int64(ev.Seq),
				string(ev.Kind),
				ev.BuildingID,
				string(ev.Resource),
				ev.Amount,
				ev.Level,
				ev.Stability,
				ev.UnixMS,
				string(raw),
			)

		case reqCommand:
			c := r.command
			ok := 0
			if c.OK {
				ok = 1
			}
			exec(insertCommand,
				c.Session,
				c.UnixMS,
				c.Source,
				c.Command,
				c.BuildingID,
				c.Resource,
				c.Amount,
				c.Slot,
				ok,
				c.Code,
			)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.Path, sn.Session, sn.Digest, sn.UnixMS, sn.Buildings, sn.Stability)

		case reqCatalog:
			c := r.catalog
			exec(upsertCatalog, c.Name, c.Digest, c.JSON, c.At)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}
}
