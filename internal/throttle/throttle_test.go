package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"agproxy/internal/convert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestThrottle(cfg Config) (*Throttle, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	th := New(cfg)
	th.now = clock.Now
	return th, clock
}

func TestThrottle_SpacesSameFamily(t *testing.T) {
	th, clock := newTestThrottle(Config{Claude: 3 * time.Second})

	// First dispatch goes out immediately, later ones queue behind it.
	if got := th.reserve(convert.FamilyClaude); got != 0 {
		t.Fatalf("first reserve = %v, want 0", got)
	}
	if got := th.reserve(convert.FamilyClaude); got != 3*time.Second {
		t.Fatalf("second reserve = %v, want 3s", got)
	}
	if got := th.reserve(convert.FamilyClaude); got != 6*time.Second {
		t.Fatalf("third reserve = %v, want 6s", got)
	}

	// Once the queue drains past the clock, the slot resets to now.
	clock.Advance(10 * time.Second)
	if got := th.reserve(convert.FamilyClaude); got != 0 {
		t.Fatalf("reserve after idle = %v, want 0", got)
	}
}

func TestThrottle_FamiliesIndependent(t *testing.T) {
	th, _ := newTestThrottle(Config{})

	if got := th.reserve(convert.FamilyClaude); got != 0 {
		t.Fatalf("claude reserve = %v, want 0", got)
	}
	if got := th.reserve(convert.FamilyGemini); got != 0 {
		t.Fatalf("gemini reserve = %v, want 0", got)
	}
	if got := th.reserve(convert.FamilyGemini); got != DefaultGeminiInterval {
		t.Fatalf("second gemini reserve = %v, want %v", got, DefaultGeminiInterval)
	}
	if got := th.reserve(convert.FamilyUnknown); got != 0 {
		t.Fatalf("unknown reserve = %v, want 0", got)
	}
	if got := th.reserve(convert.FamilyUnknown); got != DefaultUnknownInterval {
		t.Fatalf("second unknown reserve = %v, want %v", got, DefaultUnknownInterval)
	}
}

func TestThrottle_NegativeIntervalDisables(t *testing.T) {
	th, _ := newTestThrottle(Config{Claude: -1})

	for i := 0; i < 3; i++ {
		if got := th.reserve(convert.FamilyClaude); got != 0 {
			t.Fatalf("reserve %d = %v, want 0", i, got)
		}
	}
}

func TestThrottle_WaitHonorsContext(t *testing.T) {
	th := New(Config{Claude: time.Minute})

	if err := th.Wait(context.Background(), convert.FamilyClaude); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	// The second slot is a minute out; a cancelled context must not
	// sit through it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := th.Wait(ctx, convert.FamilyClaude)
	if err != context.Canceled {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Wait blocked %v despite cancelled context", elapsed)
	}
}
