package httpx

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryRateLimiterEnforcesLimit(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	for i := 0; i < 3; i++ {
		decision := rl.Allow("ip:1.2.3.4", 3, time.Minute)
		if !decision.allowed {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}
	decision := rl.Allow("ip:1.2.3.4", 3, time.Minute)
	if decision.allowed {
		t.Fatal("expected fourth request to be limited")
	}
	if decision.count != 3 {
		t.Fatalf("expected count 3, got %d", decision.count)
	}
}

func TestMemoryRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	if decision := rl.Allow("ip:1.2.3.4", 1, time.Minute); !decision.allowed {
		t.Fatal("first key unexpectedly limited")
	}
	if decision := rl.Allow("ip:5.6.7.8", 1, time.Minute); !decision.allowed {
		t.Fatal("second key unexpectedly limited")
	}
	if decision := rl.Allow("ip:1.2.3.4", 1, time.Minute); decision.allowed {
		t.Fatal("expected first key to be limited")
	}
}

func TestMemoryRateLimiterWindowResets(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	if decision := rl.Allow("ip:1.2.3.4", 1, 10*time.Millisecond); !decision.allowed {
		t.Fatal("first request unexpectedly limited")
	}
	if decision := rl.Allow("ip:1.2.3.4", 1, 10*time.Millisecond); decision.allowed {
		t.Fatal("expected second request to be limited")
	}
	time.Sleep(20 * time.Millisecond)
	if decision := rl.Allow("ip:1.2.3.4", 1, 10*time.Millisecond); !decision.allowed {
		t.Fatal("expected new window to admit the request")
	}
}

func TestRedisRateLimiterEnforcesLimit(t *testing.T) {
	srv := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rl, err := NewRedisRateLimiter(srv.Addr(), "", 0, logger)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter: %v", err)
	}
	defer rl.Close()

	for i := 0; i < 2; i++ {
		if decision := rl.Allow("ip:1.2.3.4", 2, time.Minute); !decision.allowed {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}
	if decision := rl.Allow("ip:1.2.3.4", 2, time.Minute); decision.allowed {
		t.Fatal("expected third request to be limited")
	}

	srv.FastForward(2 * time.Minute)
	if decision := rl.Allow("ip:1.2.3.4", 2, time.Minute); !decision.allowed {
		t.Fatal("expected new window to admit the request")
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	srv := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rl, err := NewRedisRateLimiter(srv.Addr(), "", 0, logger)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter: %v", err)
	}
	defer rl.Close()

	srv.Close()
	if decision := rl.Allow("ip:1.2.3.4", 1, time.Minute); !decision.allowed {
		t.Fatal("expected limiter to fail open when redis is down")
	}
}
