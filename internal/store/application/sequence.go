package applicationstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Sequencer hands out the numeric part of application IDs. q is the
// transaction the document will be inserted in.
type Sequencer interface {
	Next(ctx context.Context, q Querier, year int) (int64, error)
	Name() string
}

// FormatApplicationID renders PREFIX-YEAR-SEQ with the sequence zero padded
// to at least four digits.
func FormatApplicationID(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}

// PostgresSequencer keeps one counter row per year. The upsert locks the row
// until the surrounding transaction ends, so concurrent submissions queue on
// it and a rolled back insert gives its number back.
type PostgresSequencer struct{}

func NewPostgresSequencer() *PostgresSequencer { return &PostgresSequencer{} }

func (PostgresSequencer) Name() string { return "postgres" }

func (PostgresSequencer) Next(ctx context.Context, q Querier, year int) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO application_sequences (year, last_value)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE
			SET last_value = application_sequences.last_value + 1
		RETURNING last_value`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sequence upsert: %w", err)
	}
	return seq, nil
}

// RedisSequencer allocates numbers with INCR. Numbers taken by failed inserts
// are not returned, so IDs may have gaps.
type RedisSequencer struct {
	client    redis.Cmdable
	keyPrefix string
	idPrefix  string
}

func NewRedisSequencer(client redis.Cmdable, keyPrefix, idPrefix string) *RedisSequencer {
	return &RedisSequencer{client: client, keyPrefix: keyPrefix, idPrefix: idPrefix}
}

func (s *RedisSequencer) Name() string { return "redis" }

func (s *RedisSequencer) Key(year int) string {
	return fmt.Sprintf("%s:%d", s.keyPrefix, year)
}

func (s *RedisSequencer) Next(ctx context.Context, q Querier, year int) (int64, error) {
	key := s.Key(year)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis exists %s: %w", key, err)
	}
	if exists == 0 {
		// Seed from the highest stored number so a fresh Redis does not
		// reissue IDs, even when earlier failures left gaps.
		seed, err := highestYearSequence(ctx, q, s.idPrefix, year)
		if err != nil {
			return 0, err
		}
		if err := s.client.SetNX(ctx, key, seed, 0).Err(); err != nil {
			return 0, fmt.Errorf("redis setnx %s: %w", key, err)
		}
	}

	seq, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return seq, nil
}

// CountSequencer is count + 1 over every stored application. Two concurrent
// submissions can read the same count; the loser hits the application_id
// unique constraint.
type CountSequencer struct{}

func NewCountSequencer() *CountSequencer { return &CountSequencer{} }

func (CountSequencer) Name() string { return "count" }

func (CountSequencer) Next(ctx context.Context, q Querier, _ int) (int64, error) {
	var count int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM applications`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count applications: %w", err)
	}
	return count + 1, nil
}

// highestYearSequence returns the largest numeric suffix among the year's
// application IDs, or 0 when there are none.
func highestYearSequence(ctx context.Context, q Querier, idPrefix string, year int) (int64, error) {
	head := fmt.Sprintf("%s-%d-", idPrefix, year)
	var highest int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(substr(application_id, $2) AS BIGINT)), 0)
		FROM applications
		WHERE application_id LIKE $1`,
		head+"%", len(head)+1).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("highest application number for %d: %w", year, err)
	}
	return highest, nil
}
