package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupRedisTest(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := NewRedisClient(srv.Addr(), "", 0)
	if client == nil {
		t.Fatal("Expected client for reachable server")
	}
	t.Cleanup(func() { client.Close() })

	return NewRedis(client), srv
}

func TestRedisGetSet(t *testing.T) {
	c, srv := setupRedisTest(t)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("Expected miss for unknown key")
	}

	c.Set(ctx, "dashboard:5", []byte(`{"steps":8321}`), time.Minute)
	v, ok := c.Get(ctx, "dashboard:5")
	if !ok || string(v) != `{"steps":8321}` {
		t.Errorf("Expected hit with stored value, got %q %v", v, ok)
	}

	if !srv.Exists("livmore:dashboard:5") {
		t.Error("Expected key stored under livmore: prefix")
	}
	if ttl := srv.TTL("livmore:dashboard:5"); ttl != time.Minute {
		t.Errorf("Expected ttl 1m, got %s", ttl)
	}

	c.Delete(ctx, "dashboard:5")
	if _, ok := c.Get(ctx, "dashboard:5"); ok {
		t.Error("Expected miss after delete")
	}
}

func TestRedisExpiry(t *testing.T) {
	c, srv := setupRedisTest(t)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), 30*time.Second)
	srv.FastForward(31 * time.Second)

	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("Expected miss after ttl")
	}
}

func TestRedisSkipsNonPositiveTTL(t *testing.T) {
	c, srv := setupRedisTest(t)
	ctx := context.Background()

	c.Set(ctx, "zero", []byte("1"), 0)
	c.Set(ctx, "negative", []byte("1"), -time.Second)

	if keys := srv.Keys(); len(keys) != 0 {
		t.Errorf("Expected nothing stored, got %v", keys)
	}
}

func TestRedisServerDown(t *testing.T) {
	c, srv := setupRedisTest(t)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	srv.Close()

	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("Expected lookup against a stopped server to miss")
	}
	// Must not panic
	c.Set(ctx, "b", []byte("2"), time.Minute)
	c.Delete(ctx, "a")
}

func TestNewRedisClientUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	if client := NewRedisClient(addr, "", 0); client != nil {
		client.Close()
		t.Error("Expected nil client for unreachable server")
	}
}
