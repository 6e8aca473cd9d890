package indexdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tilecraft.ai/internal/catalogs"
	"tilecraft.ai/internal/protocol"
)

// SQLiteIndex is a queryable read model of what the client dispatched.
// The placement journal remains the source of truth; rows may be dropped
// when the writer falls behind.
type SQLiteIndex struct {
	db      *sql.DB
	worldID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropPacket   atomic.Uint64
	dropBulk     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqPacket reqKind = iota + 1
	reqBulk
	reqSnapshot
)

type req struct {
	kind reqKind

	packet   packetRow
	bulk     BulkRow
	snapshot snapshotRow
}

type packetRow struct {
	At     string
	Kind   string
	Packet protocol.Packet
}

// BulkRow is the outcome of one awaited batch.
type BulkRow struct {
	Op         string `json:"op"`
	Expected   int    `json:"expected"`
	Remaining  int    `json:"remaining"`
	Packets    int    `json:"packets"`
	OK         bool   `json:"ok"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

type snapshotRow struct {
	Path      string
	Width     int
	Height    int
	Cells     int
	CreatedAt string
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropPacketTotal   uint64 `json:"drop_packet_total"`
	DropBulkTotal     uint64 `json:"drop_bulk_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path, worldID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
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
		db:      db,
		worldID: worldID,
		ch:      make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
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

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS packets (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			at TEXT NOT NULL,
			block_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			layer INTEGER NOT NULL,
			positions INTEGER NOT NULL,
			fill INTEGER NOT NULL,
			payload_hex TEXT NOT NULL,
			positions_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_packets_kind ON packets(kind, seq);`,
		`CREATE TABLE IF NOT EXISTS bulks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			op TEXT NOT NULL,
			expected INTEGER NOT NULL,
			remaining INTEGER NOT NULL,
			packets INTEGER NOT NULL,
			ok INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			world_id TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the handle for read queries.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

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

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropPacketTotal:   s.dropPacket.Load(),
		DropBulkTotal:     s.dropBulk.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// RecordPacket enqueues one dispatched packet; kind is its resolved name.
func (s *SQLiteIndex) RecordPacket(kind string, p protocol.Packet) {
	if s == nil || s.closed.Load() {
		return
	}
	r := packetRow{At: time.Now().UTC().Format(time.RFC3339Nano), Kind: kind, Packet: p}
	select {
	case s.ch <- req{kind: reqPacket, packet: r}:
	default:
		s.dropPacket.Add(1)
	}
}

func (s *SQLiteIndex) RecordBulk(r BulkRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqBulk, bulk: r}:
	default:
		s.dropBulk.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, width, height, cells int) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Path:      path,
		Width:     width,
		Height:    height,
		Cells:     cells,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertKinds stores the kind table the session is running with, so later
// queries can resolve ids recorded under an older deploy.
func (s *SQLiteIndex) UpsertKinds(cats *catalogs.Catalogs) error {
	if s == nil || cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	kinds, err := json.Marshal(cats.Kinds.Sorted())
	if err != nil {
		return err
	}
	formats, err := json.Marshal(cats.Formats)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('world_id',?)`, s.worldID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	if _, err := stmt.Exec("kinds", cats.Kinds.Digest, string(kinds), now); err != nil {
		return err
	}
	if _, err := stmt.Exec("formats", cats.Kinds.Digest, string(formats), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertPacket, _ := s.db.Prepare(`INSERT INTO packets(world_id,at,block_id,kind,layer,positions,fill,payload_hex,positions_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertBulk, _ := s.db.Prepare(`INSERT INTO bulks(world_id,op,expected,remaining,packets,ok,started_at,finished_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,world_id,width,height,cells,created_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertPacket, insertBulk, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
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
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqPacket:
			p := r.packet.Packet
			pos, _ := json.Marshal(p.Positions)
			exec(insertPacket,
				s.worldID,
				r.packet.At,
				int64(p.BlockID),
				r.packet.Kind,
				int(p.Layer),
				len(p.Positions),
				boolInt(p.IsFillOperation),
				hex.EncodeToString(p.ExtraFields),
				string(pos),
			)

		case reqBulk:
			b := r.bulk
			exec(insertBulk, s.worldID, b.Op, b.Expected, b.Remaining, b.Packets, boolInt(b.OK), b.StartedAt, b.FinishedAt)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.Path, s.worldID, sn.Width, sn.Height, sn.Cells, sn.CreatedAt)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
