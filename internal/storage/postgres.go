package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/killsense?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{
		db:      db,
		dollar:  true,
		timeArg: func(t time.Time) any { return t.UTC() },
	}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS results (
			id TEXT PRIMARY KEY,
			profile TEXT NOT NULL,
			kill_id BIGINT NOT NULL,
			location_id BIGINT NOT NULL,
			tier TEXT NOT NULL,
			interest DOUBLE PRECISION NOT NULL,
			mode TEXT NOT NULL,
			evaluated_at TIMESTAMPTZ NOT NULL,
			result_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_profile_ts ON results(profile, evaluated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_results_kill ON results(kill_id)`,
		`CREATE TABLE IF NOT EXISTS prefetch (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			profile TEXT NOT NULL,
			kill_id BIGINT NOT NULL,
			location_id BIGINT NOT NULL,
			should_fetch BOOLEAN NOT NULL,
			score DOUBLE PRECISION,
			mode TEXT NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prefetch_ts ON prefetch(ts)`,
	})
}
