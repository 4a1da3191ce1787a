package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/facesignal?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, rebind: dollarPlaceholders}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.migrate(ctx, []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			frame_json JSONB NOT NULL,
			context_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			face_found BOOLEAN NOT NULL,
			emotion TEXT NOT NULL,
			emotion_score DOUBLE PRECISION NOT NULL,
			age INTEGER NOT NULL,
			attention DOUBLE PRECISION NOT NULL,
			fatigue DOUBLE PRECISION NOT NULL,
			fatigue_level TEXT NOT NULL,
			blink_rate DOUBLE PRECISION NOT NULL,
			deception INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, ts)`,
		`CREATE TABLE IF NOT EXISTS baselines (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			baseline_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_baselines_session ON baselines(session_id)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			openness DOUBLE PRECISION NOT NULL,
			conscientiousness DOUBLE PRECISION NOT NULL,
			extraversion DOUBLE PRECISION NOT NULL,
			agreeableness DOUBLE PRECISION NOT NULL,
			neuroticism DOUBLE PRECISION NOT NULL
		)`,
	})
}
