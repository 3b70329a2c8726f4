package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTrunkScriptsInitialized(t *testing.T) {
	if trunkAcquireScript == nil || trunkReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestTrunkHelpersRejectNilClient(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireTrunkSlot(ctx, nil, "k", 1, time.Second); !errors.Is(err, errNilRedis) {
		t.Fatalf("expected errNilRedis, got %v", err)
	}
	if err := ReleaseTrunkSlot(ctx, nil, "k"); !errors.Is(err, errNilRedis) {
		t.Fatalf("expected errNilRedis, got %v", err)
	}
	if _, err := TrunkUsage(ctx, nil, "k"); !errors.Is(err, errNilRedis) {
		t.Fatalf("expected errNilRedis, got %v", err)
	}
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
