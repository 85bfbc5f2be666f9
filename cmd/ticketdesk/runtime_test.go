package main

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/lock"
)

func TestRuntimeLeader(t *testing.T) {
	memory := lock.NewMemoryLocker()
	rt := &runtime{locker: memory}
	if got := rt.leader(time.Minute); got != lock.KeyedLocker(memory) {
		t.Fatalf("memory locker should lead itself, got %T", got)
	}

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	shared := lock.NewRedisLocker(client, "p:", 30*time.Second, zap.NewNop())
	rt = &runtime{locker: shared}
	got, ok := rt.leader(time.Minute).(*lock.RedisLocker)
	if !ok {
		t.Fatalf("expected a redis leader, got %T", rt.leader(time.Minute))
	}
	if got == shared {
		t.Fatal("leader must not reuse the ticket locker and its ttl")
	}
}
