package results

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/config"
)

// DB wraps a PostgreSQL connection pool used as a durable audit sink
// for execution results. Records honor the same retention window as
// the in-memory store; PurgeExpired removes aged rows.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a connection pool and verifies connectivity.
func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// InsertResult writes one terminal execution record.
func (db *DB) InsertResult(ctx context.Context, r *Result) error {
	query := `
		INSERT INTO execution_results (id, room_id, user_id, display_name, language,
			status, stdout, stderr, exit_code, error, complexity_score,
			submitted_at, started_at, ended_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := db.pool.Exec(ctx, query,
		r.ID, r.RoomID, r.UserID, r.DisplayName, r.Language,
		string(r.Status),
		truncateForDB(r.Stdout, 65535),
		truncateForDB(r.Stderr, 65535),
		r.ExitCode, r.Error, r.ComplexityScore,
		r.SubmittedAt, r.StartedAt, r.EndedAt, r.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}
	return nil
}

// RoomHistory queries a room's retained results, newest first.
func (db *DB) RoomHistory(ctx context.Context, roomID string, f Filter) ([]Result, error) {
	query := `
		SELECT id, room_id, user_id, display_name, language,
			status, stdout, stderr, exit_code, error, complexity_score,
			submitted_at, started_at, ended_at, duration_ms
		FROM execution_results
		WHERE room_id = $1
		  AND ($2 = '' OR user_id = $2)
		  AND ($3 = '' OR language = $3)
		  AND ($4 = '' OR status = $4)
		ORDER BY ended_at DESC
		LIMIT $5`

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query,
		roomID, f.UserID, f.Language, string(f.Status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying room history: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(
			&r.ID, &r.RoomID, &r.UserID, &r.DisplayName, &r.Language,
			&r.Status, &r.Stdout, &r.Stderr, &r.ExitCode, &r.Error, &r.ComplexityScore,
			&r.SubmittedAt, &r.StartedAt, &r.EndedAt, &r.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// PurgeExpired deletes rows older than the retention window.
func (db *DB) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM execution_results WHERE ended_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging expired results: %w", err)
	}
	return tag.RowsAffected(), nil
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
