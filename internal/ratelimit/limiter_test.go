package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func TestWindowLimiter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewWindowLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx); !ok {
			t.Fatalf("call %d denied", i)
		}
	}
	if ok, _ := l.Allow(ctx); ok {
		t.Fatal("third call in window allowed")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := l.Allow(ctx); !ok {
		t.Fatal("call in new window denied")
	}
}

type stubEvaler struct {
	counts map[string]int64
	err    error
	keys   []string
}

func (s *stubEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	s.keys = append(s.keys, keys...)
	if s.err != nil {
		return redis.NewCmdResult(nil, s.err)
	}
	s.counts[keys[0]]++
	return redis.NewCmdResult(s.counts[keys[0]], nil)
}

func TestRedisLimiterSharesWindowKey(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 30, 0, time.UTC)
	client := &stubEvaler{counts: map[string]int64{}}
	l := newRedisLimiter(client, "lightwork:provider", 1, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, err := l.Allow(ctx); err != nil || !ok {
		t.Fatalf("first Allow = %v, %v", ok, err)
	}
	if ok, err := l.Allow(ctx); err != nil || ok {
		t.Fatalf("second Allow = %v, %v", ok, err)
	}
	if client.keys[0] != client.keys[1] {
		t.Fatalf("keys differ within one window: %v", client.keys)
	}
	if !strings.HasPrefix(client.keys[0], "lightwork:provider:") {
		t.Fatalf("unexpected key %q", client.keys[0])
	}

	now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx); !ok {
		t.Fatal("next window denied")
	}
}

func TestRedisLimiterError(t *testing.T) {
	boom := errors.New("connection refused")
	l := newRedisLimiter(&stubEvaler{err: boom}, "p", 5, time.Minute)
	if _, err := l.Allow(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
