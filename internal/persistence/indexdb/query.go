package indexdb

import (
	"database/sql"
	"fmt"
)

type PacketRecord struct {
	Seq        int64  `json:"seq"`
	WorldID    string `json:"world_id"`
	At         string `json:"at"`
	BlockID    uint32 `json:"block_id"`
	Kind       string `json:"kind"`
	Layer      int    `json:"layer"`
	Positions  int    `json:"positions"`
	Fill       bool   `json:"fill,omitempty"`
	PayloadHex string `json:"payload_hex,omitempty"`
}

type BulkRecord struct {
	ID      int64  `json:"id"`
	WorldID string `json:"world_id"`
	BulkRow
}

type KindCount struct {
	Kind      string `json:"kind"`
	Packets   int    `json:"packets"`
	Positions int    `json:"positions"`
}

// RecentPackets returns the newest packets first. An empty kind matches all.
func RecentPackets(db *sql.DB, kind string, limit int) ([]PacketRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT seq,world_id,at,block_id,kind,layer,positions,fill,payload_hex FROM packets`
	args := []any{}
	if kind != "" {
		q += ` WHERE kind=?`
		args = append(args, kind)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query packets: %w", err)
	}
	defer rows.Close()
	var out []PacketRecord
	for rows.Next() {
		var r PacketRecord
		var fill int
		if err := rows.Scan(&r.Seq, &r.WorldID, &r.At, &r.BlockID, &r.Kind, &r.Layer, &r.Positions, &fill, &r.PayloadHex); err != nil {
			return nil, err
		}
		r.Fill = fill != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func RecentBulks(db *sql.DB, limit int) ([]BulkRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT id,world_id,op,expected,remaining,packets,ok,started_at,finished_at FROM bulks ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query bulks: %w", err)
	}
	defer rows.Close()
	var out []BulkRecord
	for rows.Next() {
		var r BulkRecord
		var ok int
		if err := rows.Scan(&r.ID, &r.WorldID, &r.Op, &r.Expected, &r.Remaining, &r.Packets, &ok, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// KindUsage totals dispatched packets and positions per kind name.
func KindUsage(db *sql.DB) ([]KindCount, error) {
	rows, err := db.Query(`SELECT kind,COUNT(*),SUM(positions) FROM packets GROUP BY kind ORDER BY SUM(positions) DESC, kind`)
	if err != nil {
		return nil, fmt.Errorf("query kinds: %w", err)
	}
	defer rows.Close()
	var out []KindCount
	for rows.Next() {
		var r KindCount
		if err := rows.Scan(&r.Kind, &r.Packets, &r.Positions); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
