// Package throttle paces upstream dispatch per model family so that
// bursts from concurrent clients do not trip upstream rate limits
// faster than the account pool can absorb.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"agproxy/internal/convert"
)

const (
	DefaultClaudeInterval  = 3000 * time.Millisecond
	DefaultGeminiInterval  = 1500 * time.Millisecond
	DefaultUnknownInterval = 3000 * time.Millisecond
)

// Config sets the minimum spacing between dispatches per family.
// Zero values fall back to the package defaults; negative values
// disable pacing for that family.
type Config struct {
	Claude  time.Duration
	Gemini  time.Duration
	Default time.Duration
}

// Throttle serializes dispatch slots per model family. Each waiter
// reserves the next free slot under the mutex and sleeps outside it,
// so concurrent requests queue up with even spacing instead of
// piling onto the same slot.
type Throttle struct {
	cfg  Config
	mu   sync.Mutex
	next map[convert.Family]time.Time

	now func() time.Time
}

func New(cfg Config) *Throttle {
	if cfg.Claude == 0 {
		cfg.Claude = DefaultClaudeInterval
	}
	if cfg.Gemini == 0 {
		cfg.Gemini = DefaultGeminiInterval
	}
	if cfg.Default == 0 {
		cfg.Default = DefaultUnknownInterval
	}
	return &Throttle{
		cfg:  cfg,
		next: make(map[convert.Family]time.Time),
		now:  time.Now,
	}
}

func (t *Throttle) interval(family convert.Family) time.Duration {
	switch family {
	case convert.FamilyClaude:
		return t.cfg.Claude
	case convert.FamilyGemini:
		return t.cfg.Gemini
	default:
		return t.cfg.Default
	}
}

// reserve claims the next dispatch slot for the family and returns how
// long the caller must wait before using it.
func (t *Throttle) reserve(family convert.Family) time.Duration {
	interval := t.interval(family)
	if interval <= 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	slot := t.next[family]
	if slot.Before(now) {
		slot = now
	}
	t.next[family] = slot.Add(interval)
	return slot.Sub(now)
}

// Wait blocks until the family's dispatch slot arrives. The slot stays
// claimed even if the context is cancelled mid-wait, which keeps a
// cancelled burst from compressing the spacing for survivors.
func (t *Throttle) Wait(ctx context.Context, family convert.Family) error {
	wait := t.reserve(family)
	if wait <= 0 {
		return nil
	}

	log.Debug().
		Str("family", family.String()).
		Dur("wait", wait).
		Msg("throttling dispatch")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
