// Package storage persists evaluation results and prefetch decisions to
// SQLite or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"killsense/internal/config"
	"killsense/internal/model"
)

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveResult(ctx context.Context, res *model.InterestResult) error
	SavePrefetch(ctx context.Context, killID int64, d *model.PrefetchDecision, at time.Time) error
	// ListResults returns the newest results first. An empty profile
	// matches all profiles.
	ListResults(ctx context.Context, profile string, limit int) ([]model.InterestResult, error)
	// Prune deletes rows older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// NewStore returns nil without error when storage is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// baseStore holds the queries both dialects share. Queries are written
// with ? placeholders and rebound for PostgreSQL.
type baseStore struct {
	db      *sql.DB
	dollar  bool
	timeArg func(time.Time) any
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) rebind(query string) string {
	if !b.dollar {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

func (b *baseStore) SaveResult(ctx context.Context, res *model.InterestResult) error {
	if b.db == nil || res == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO results (id, profile, kill_id, location_id, tier, interest, mode, evaluated_at, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		res.ID,
		res.Profile,
		res.KillID,
		res.LocationID,
		res.Tier.String(),
		res.Interest,
		string(res.Mode),
		b.timeArg(res.EvaluatedAt),
		encodeJSON(res),
	)
	if err != nil {
		return fmt.Errorf("save result %s: %w", res.ID, err)
	}
	return nil
}

func (b *baseStore) SavePrefetch(ctx context.Context, killID int64, d *model.PrefetchDecision, at time.Time) error {
	if b.db == nil || d == nil {
		return nil
	}
	var score any
	if d.Score != nil {
		score = *d.Score
	}
	_, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO prefetch (ts, profile, kill_id, location_id, should_fetch, score, mode, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		b.timeArg(at),
		d.Profile,
		killID,
		d.LocationID,
		d.ShouldFetch,
		score,
		string(d.Mode),
		d.Reason,
	)
	if err != nil {
		return fmt.Errorf("save prefetch decision for kill %d: %w", killID, err)
	}
	return nil
}

func (b *baseStore) ListResults(ctx context.Context, profile string, limit int) ([]model.InterestResult, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT result_json FROM results`
	args := []any{}
	if profile != "" {
		query += ` WHERE profile = ?`
		args = append(args, profile)
	}
	query += ` ORDER BY evaluated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()
	var out []model.InterestResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var res model.InterestResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, fmt.Errorf("decode stored result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (b *baseStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	if b.db == nil {
		return 0, nil
	}
	var total int64
	for _, q := range []string{
		`DELETE FROM results WHERE evaluated_at < ?`,
		`DELETE FROM prefetch WHERE ts < ?`,
	} {
		res, err := b.db.ExecContext(ctx, b.rebind(q), b.timeArg(before))
		if err != nil {
			return total, fmt.Errorf("prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
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
