// Package numbering assigns human-readable errand numbers of the form PREFIX-YYYY-NNNNNN.
package numbering

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter hands out the next value of a (prefix, year) sequence. Values start at 1.
type Counter interface {
	Increment(ctx context.Context, tx *sql.Tx, prefix string, year int) (int64, error)
}

type Generator struct {
	Counter Counter
	Prefix  func(namespace string) string
	Now     func() time.Time
}

// Next returns the next errand number for namespace. With the SQL counter the sequence advances
// inside tx, so a rolled-back create does not consume a number.
func (g Generator) Next(ctx context.Context, tx *sql.Tx, namespace string) (string, error) {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	prefix := "ERR"
	if g.Prefix != nil {
		prefix = g.Prefix(namespace)
	}
	year := now().UTC().Year()
	n, err := g.Counter.Increment(ctx, tx, prefix, year)
	if err != nil {
		return "", fmt.Errorf("next errand number: %w", err)
	}
	return Format(prefix, year, n), nil
}

func Format(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, n)
}

// SQLCounter keeps sequences in the errand_number_sequences table.
type SQLCounter struct{}

func (SQLCounter) Increment(ctx context.Context, tx *sql.Tx, prefix string, year int) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `INSERT INTO errand_number_sequences(prefix,year,last_value) VALUES (?,?,1)
ON CONFLICT(prefix,year) DO UPDATE SET last_value=last_value+1
RETURNING last_value`, prefix, year).Scan(&n)
	return n, err
}

const redisKeyPrefix = "casedata:errand-number:"

// RedisCounter keeps sequences as Redis counters, shared by every instance pointing at the same
// server. The transaction is ignored; numbers consumed by rolled-back creates are skipped.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Increment(ctx context.Context, _ *sql.Tx, prefix string, year int) (int64, error) {
	return r.client.Incr(ctx, fmt.Sprintf("%s%s:%d", redisKeyPrefix, prefix, year)).Result()
}
