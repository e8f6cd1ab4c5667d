package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDirectory(t *testing.T) (*miniredis.Miniredis, *SessionDirectoryRedis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewSessionDirectoryRedis(client).(*SessionDirectoryRedis)
}

func TestRegisterLookupExpire(t *testing.T) {
	mr, dir := newDirectory(t)
	ctx := context.Background()

	if node, err := dir.Lookup(ctx, "C"); err != nil || node != "" {
		t.Fatalf("empty lookup: want=\"\" got=%q err=%v", node, err)
	}
	if err := dir.Register(ctx, "C", "node-a", 30*time.Second); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if node, _ := dir.Lookup(ctx, "C"); node != "node-a" {
		t.Fatalf("lookup: want=node-a got=%q", node)
	}
	if ttl := mr.TTL(sessionKeyPrefix + "C"); ttl != 30*time.Second {
		t.Fatalf("ttl: want=30s got=%v", ttl)
	}

	mr.FastForward(31 * time.Second)
	if node, _ := dir.Lookup(ctx, "C"); node != "" {
		t.Fatalf("expired lookup: want=\"\" got=%q", node)
	}
}

func TestUnregisterOnlyOwnEntry(t *testing.T) {
	_, dir := newDirectory(t)
	ctx := context.Background()

	_ = dir.Register(ctx, "C", "node-b", time.Minute)
	if err := dir.Unregister(ctx, "C", "node-a"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if node, _ := dir.Lookup(ctx, "C"); node != "node-b" {
		t.Fatalf("foreign entry removed: got=%q", node)
	}

	if err := dir.Unregister(ctx, "C", "node-b"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if node, _ := dir.Lookup(ctx, "C"); node != "" {
		t.Fatalf("own entry kept: got=%q", node)
	}
	if err := dir.Unregister(ctx, "missing", "node-b"); err != nil {
		t.Fatalf("Unregister missing: %v", err)
	}
}
