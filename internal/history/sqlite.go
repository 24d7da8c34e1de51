package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dleary/packetflow/internal/packet"
)

// SQLiteStore is a write-through history of finished packets. The snapshot
// is stored whole as JSON; the indexed columns exist for listing and
// housekeeping queries only.
type SQLiteStore struct {
	db *sqlx.DB
	mu sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS packets (
	packet_id    TEXT PRIMARY KEY,
	filename     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	uploaded_at  TEXT NOT NULL DEFAULT '',
	completed_at TEXT NOT NULL DEFAULT '',
	snapshot     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_packets_uploaded_at ON packets(uploaded_at);
`

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Save(ctx context.Context, snap packet.PacketSnapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	completed := ""
	if snap.CompletedAt != nil {
		completed = snap.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO packets (packet_id, filename, status, uploaded_at, completed_at, snapshot)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(packet_id) DO UPDATE SET
			filename = excluded.filename,
			status = excluded.status,
			completed_at = excluded.completed_at,
			snapshot = excluded.snapshot`,
		snap.ID, snap.Filename, string(snap.Status),
		snap.UploadedAt.UTC().Format(time.RFC3339Nano), completed, string(blob))
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]packet.PacketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []struct {
		Snapshot string `db:"snapshot"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT snapshot FROM packets ORDER BY uploaded_at DESC`); err != nil {
		return nil, err
	}
	out := make([]packet.PacketSnapshot, 0, len(rows))
	for _, row := range rows {
		var snap packet.PacketSnapshot
		if err := json.Unmarshal([]byte(row.Snapshot), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, packetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM packets WHERE packet_id = ?`, packetID)
	return err
}
