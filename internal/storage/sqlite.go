package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:killsense.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{
		db: db,
		// Unix milliseconds keep range comparisons numeric.
		timeArg: func(t time.Time) any { return t.UTC().UnixMilli() },
	}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS results (
			id TEXT PRIMARY KEY,
			profile TEXT NOT NULL,
			kill_id INTEGER NOT NULL,
			location_id INTEGER NOT NULL,
			tier TEXT NOT NULL,
			interest REAL NOT NULL,
			mode TEXT NOT NULL,
			evaluated_at INTEGER NOT NULL,
			result_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_profile_ts ON results(profile, evaluated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_results_kill ON results(kill_id)`,
		`CREATE TABLE IF NOT EXISTS prefetch (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			profile TEXT NOT NULL,
			kill_id INTEGER NOT NULL,
			location_id INTEGER NOT NULL,
			should_fetch INTEGER NOT NULL,
			score REAL,
			mode TEXT NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prefetch_ts ON prefetch(ts)`,
	})
}
