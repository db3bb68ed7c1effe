package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"edgesentry/internal/alerts"
	"edgesentry/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:edgesentry.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			event_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			location TEXT NOT NULL,
			level TEXT NOT NULL,
			shaped_suspicion REAL NOT NULL,
			reasons_json TEXT NOT NULL,
			intent TEXT,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			event_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			location TEXT NOT NULL,
			suspicion REAL NOT NULL,
			shaped_suspicion REAL NOT NULL,
			level TEXT NOT NULL,
			notified INTEGER NOT NULL,
			latency_ms REAL NOT NULL,
			cache_hit INTEGER NOT NULL,
			result_json TEXT NOT NULL
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

func (s *sqliteStore) SaveAlert(ctx context.Context, rec alerts.Record) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (ts, event_id, entity_type, entity_id, location, level, shaped_suspicion, reasons_json, intent, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *sqliteStore) SaveResult(ctx context.Context, result model.InterpretationResult) error {
	if s.db == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	notified := 0
	if result.Decision.ShouldNotify {
		notified = 1
	}
	cacheHit := 0
	if result.CacheHit {
		cacheHit = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (ts, event_id, entity_type, location, suspicion, shaped_suspicion, level, notified, latency_ms, cache_hit, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nowUTC(),
		result.EventID,
		result.Event.EntityType,
		result.Event.Location,
		result.Assessment.SuspicionLevel,
		result.Decision.ShapedSuspicion,
		string(result.Decision.Level),
		notified,
		result.LatencyMs,
		cacheHit,
		encodeJSON(result),
	)
	return err
}
