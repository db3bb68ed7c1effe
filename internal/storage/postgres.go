package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"edgesentry/internal/alerts"
	"edgesentry/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/edgesentry?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			event_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			location TEXT NOT NULL,
			level TEXT NOT NULL,
			shaped_suspicion DOUBLE PRECISION NOT NULL,
			reasons_json JSONB NOT NULL,
			intent TEXT,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS results (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			event_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			location TEXT NOT NULL,
			suspicion DOUBLE PRECISION NOT NULL,
			shaped_suspicion DOUBLE PRECISION NOT NULL,
			level TEXT NOT NULL,
			notified BOOLEAN NOT NULL,
			latency_ms DOUBLE PRECISION NOT NULL,
			cache_hit BOOLEAN NOT NULL,
			result_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_event ON results(event_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveAlert(ctx context.Context, rec alerts.Record) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (ts, event_id, entity_type, entity_id, location, level, shaped_suspicion, reasons_json, intent, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.Timestamp.UTC(),
		rec.EventID,
		rec.EntityType,
		rec.EntityID,
		rec.Location,
		string(rec.Level),
		rec.ShapedSuspicion,
		encodeJSON(rec.Reasons),
		rec.Intent,
		rec.Source,
	)
	return err
}

func (s *postgresStore) SaveResult(ctx context.Context, result model.InterpretationResult) error {
	if s.db == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (ts, event_id, entity_type, location, suspicion, shaped_suspicion, level, notified, latency_ms, cache_hit, result_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		nowUTC(),
		result.EventID,
		result.Event.EntityType,
		result.Event.Location,
		result.Assessment.SuspicionLevel,
		result.Decision.ShapedSuspicion,
		string(result.Decision.Level),
		result.Decision.ShouldNotify,
		result.LatencyMs,
		result.CacheHit,
		encodeJSON(result),
	)
	return err
}
