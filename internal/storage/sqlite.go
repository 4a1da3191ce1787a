package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:facesignal.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, rebind: questionMarks}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.migrate(ctx, []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			session_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			score REAL NOT NULL,
			frame_json TEXT NOT NULL,
			context_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			session_id TEXT NOT NULL,
			face_found INTEGER NOT NULL,
			emotion TEXT NOT NULL,
			emotion_score REAL NOT NULL,
			age INTEGER NOT NULL,
			attention REAL NOT NULL,
			fatigue REAL NOT NULL,
			fatigue_level TEXT NOT NULL,
			blink_rate REAL NOT NULL,
			deception INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, ts)`,
		`CREATE TABLE IF NOT EXISTS baselines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			session_id TEXT NOT NULL,
			baseline_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_baselines_session ON baselines(session_id)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			session_id TEXT NOT NULL,
			openness REAL NOT NULL,
			conscientiousness REAL NOT NULL,
			extraversion REAL NOT NULL,
			agreeableness REAL NOT NULL,
			neuroticism REAL NOT NULL
		)`,
	})
}
