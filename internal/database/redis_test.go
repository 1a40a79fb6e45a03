package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{RedisURL: "redis://" + mr.Addr() + "/0"}

	rdb, err := NewRedisClient(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer rdb.Close()

	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatal(err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("value = %q", got)
	}
}

func TestNewRedisClientBadURL(t *testing.T) {
	cfg := &config.Config{RedisURL: "://nope"}
	if _, err := NewRedisClient(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected parse error")
	}
}
