package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"facesignal/internal/config"
	"facesignal/internal/model"
)

var ErrNotFound = errors.New("storage: not found")

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.Alert) error
	SaveSnapshot(ctx context.Context, sessionID string, frame model.AnalysisFrame) error
	SaveBaseline(ctx context.Context, sessionID string, baseline model.Baseline) error
	// LatestBaseline returns ErrNotFound when the session was never calibrated.
	LatestBaseline(ctx context.Context, sessionID string) (*model.Baseline, error)
	SaveProfile(ctx context.Context, sessionID string, profile model.BigFiveProfile) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// baseStore holds the queries shared by both drivers. Statements are
// written with ? placeholders and passed through rebind.
type baseStore struct {
	db     *sql.DB
	rebind func(string) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, query string, args ...any) error {
	if b.db == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := b.db.ExecContext(ctx, b.rebind(query), args...)
	return err
}

func (b *baseStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	return b.exec(ctx,
		`INSERT INTO alerts (ts, session_id, severity, alert_type, score, frame_json, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.Timestamp.UTC(),
		alert.SessionID,
		alert.Severity,
		alert.AlertType,
		alert.Score,
		encodeJSON(alert.Frame),
		encodeJSON(alert.Context),
	)
}

func (b *baseStore) SaveSnapshot(ctx context.Context, sessionID string, f model.AnalysisFrame) error {
	if sessionID == "" {
		return nil
	}
	ts := f.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	return b.exec(ctx,
		`INSERT INTO snapshots (ts, session_id, face_found, emotion, emotion_score, age, attention, fatigue, fatigue_level, blink_rate, deception)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC(),
		sessionID,
		f.FaceFound,
		f.Emotion.Label,
		f.Emotion.Score,
		f.Age.Age,
		f.Attention.Level,
		f.Fatigue.Score,
		string(f.Fatigue.Level),
		f.Fatigue.BlinkRate,
		f.Deception,
	)
}

func (b *baseStore) SaveBaseline(ctx context.Context, sessionID string, baseline model.Baseline) error {
	if sessionID == "" {
		return nil
	}
	created := baseline.CreatedAt
	if created.IsZero() {
		created = nowUTC()
	}
	return b.exec(ctx,
		`INSERT INTO baselines (ts, session_id, baseline_json) VALUES (?, ?, ?)`,
		created.UTC(),
		sessionID,
		encodeJSON(baseline),
	)
}

func (b *baseStore) LatestBaseline(ctx context.Context, sessionID string) (*model.Baseline, error) {
	if b.db == nil {
		return nil, ErrNotFound
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var raw string
	err := b.db.QueryRowContext(ctx,
		b.rebind(`SELECT baseline_json FROM baselines WHERE session_id = ? ORDER BY id DESC LIMIT 1`),
		sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var out model.Baseline
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	return &out, nil
}

func (b *baseStore) SaveProfile(ctx context.Context, sessionID string, p model.BigFiveProfile) error {
	if sessionID == "" {
		return nil
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = nowUTC()
	}
	return b.exec(ctx,
		`INSERT INTO profiles (ts, session_id, openness, conscientiousness, extraversion, agreeableness, neuroticism)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		created.UTC(),
		sessionID,
		p.Openness,
		p.Conscientiousness,
		p.Extraversion,
		p.Agreeableness,
		p.Neuroticism,
	)
}

func (b *baseStore) migrate(ctx context.Context, stmts []string) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func questionMarks(query string) string {
	return query
}

// dollarPlaceholders rewrites ? into $1, $2, ... for postgres.
func dollarPlaceholders(query string) string {
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
