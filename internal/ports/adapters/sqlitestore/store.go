// Package sqlitestore persists finished runs to a local SQLite file so
// insights can be searched and deep-linked after the process exits.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/podsift/podsift/internal/ports"
	"github.com/podsift/podsift/internal/types"
)

var _ ports.InsightStore = (*Store)(nil)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	transcript_id TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS insights (
	id        TEXT PRIMARY KEY,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	category  TEXT NOT NULL,
	title     TEXT NOT NULL DEFAULT '',
	text      TEXT NOT NULL,
	members   TEXT NOT NULL,
	start_sec REAL,
	end_sec   REAL,
	status    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_insights_run ON insights(run_id);
`

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes the run record and its insights in one transaction so
// a run is either fully persisted or absent.
func (s *Store) SaveRun(ctx context.Context, run ports.RunRecord, insights []types.CanonicalInsight) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	createdAt := float64(time.Now().UnixNano()) / 1e9
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, transcript_id, status, created_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.TranscriptID, string(run.Status), createdAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO insights (id, run_id, category, title, text, members, start_sec, end_sec, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insight insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range insights {
		members, err := json.Marshal(c.MemberIDs)
		if err != nil {
			return fmt.Errorf("marshal members for %s: %w", c.ID, err)
		}
		var start, end sql.NullFloat64
		if c.StartSec != nil {
			start = sql.NullFloat64{Float64: *c.StartSec, Valid: true}
		}
		if c.EndSec != nil {
			end = sql.NullFloat64{Float64: *c.EndSec, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, c.ID, run.ID, string(c.Category), c.Title, c.Text,
			string(members), start, end, string(c.Status)); err != nil {
			return fmt.Errorf("insert insight %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// InsightsForRun returns a run's insights in timeline order, unresolved
// ones last.
func (s *Store) InsightsForRun(ctx context.Context, runID string) ([]types.CanonicalInsight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, title, text, members, start_sec, end_sec, status
		FROM insights
		WHERE run_id = ?
		ORDER BY start_sec IS NULL, start_sec ASC, text ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer rows.Close()

	var out []types.CanonicalInsight
	for rows.Next() {
		var c types.CanonicalInsight
		var category, status, members string
		var start, end sql.NullFloat64
		if err := rows.Scan(&c.ID, &category, &c.Title, &c.Text, &members, &start, &end, &status); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		c.Category = types.Category(category)
		c.Status = types.ResolutionStatus(status)
		if err := json.Unmarshal([]byte(members), &c.MemberIDs); err != nil {
			return nil, fmt.Errorf("unmarshal members for %s: %w", c.ID, err)
		}
		if start.Valid {
			v := start.Float64
			c.StartSec = &v
		}
		if end.Valid {
			v := end.Float64
			c.EndSec = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RunsForTranscript returns run records for a transcript, newest first.
func (s *Store) RunsForTranscript(ctx context.Context, transcriptID string) ([]ports.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transcript_id, status
		FROM runs
		WHERE transcript_id = ?
		ORDER BY created_at DESC
	`, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []ports.RunRecord
	for rows.Next() {
		var r ports.RunRecord
		var status string
		if err := rows.Scan(&r.ID, &r.TranscriptID, &status); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = types.RunStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
