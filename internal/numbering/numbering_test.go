package numbering

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"casedata/internal/db"
	"casedata/internal/migrate"
)

func fixedNow() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func TestSQLCounterSequencesPerPrefix(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prefixes := map[string]string{"PARKING": "PRH", "MEX": "MEX"}
	g := Generator{
		Counter: SQLCounter{},
		Prefix:  func(ns string) string { return prefixes[ns] },
		Now:     fixedNow,
	}
	next := func(ns string) string {
		t.Helper()
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer tx.Rollback()
		n, err := g.Next(ctx, tx, ns)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
		return n
	}
	if got := next("PARKING"); got != "PRH-2024-000001" {
		t.Fatalf("got %s", got)
	}
	if got := next("PARKING"); got != "PRH-2024-000002" {
		t.Fatalf("got %s", got)
	}
	if got := next("MEX"); got != "MEX-2024-000001" {
		t.Fatalf("got %s", got)
	}

	// A rolled back transaction does not consume a number.
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Next(ctx, tx, "PARKING"); err != nil {
		t.Fatal(err)
	}
	_ = tx.Rollback()
	if got := next("PARKING"); got != "PRH-2024-000003" {
		t.Fatalf("got %s", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format("ERR", 2025, 1234567); got != "ERR-2025-1234567" {
		t.Fatalf("got %s", got)
	}
}

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("CASEDATA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CASEDATA_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisCounter(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()

	prefix := fmt.Sprintf("T%d", time.Now().UnixNano())
	client.Del(ctx, redisKeyPrefix+prefix+":2024")
	defer client.Del(ctx, redisKeyPrefix+prefix+":2024")

	g := Generator{Counter: NewRedisCounter(client), Prefix: func(string) string { return prefix }, Now: fixedNow}
	var tx *sql.Tx
	first, err := g.Next(ctx, tx, "ANY")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	second, err := g.Next(ctx, tx, "ANY")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if first != prefix+"-2024-000001" || second != prefix+"-2024-000002" {
		t.Fatalf("got %s, %s", first, second)
	}
}
