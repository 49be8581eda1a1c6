package signature

import (
	"strings"
	"testing"
	"time"
)

func TestPutGet(t *testing.T) {
	c := NewCache(time.Hour)

	sig := strings.Repeat("s", 60)
	c.Put("toolu_abc", sig)

	got, ok := c.Get("toolu_abc")
	if !ok {
		t.Fatal("expected cached signature")
	}
	if got != sig {
		t.Errorf("Get = %q, want %q", got, sig)
	}
}

func TestPutOverwrites(t *testing.T) {
	c := NewCache(time.Hour)

	c.Put("toolu_abc", "first-signature-first-signature-first-signature-first")
	c.Put("toolu_abc", "second-signature-second-signature-second-signature-se")

	got, ok := c.Get("toolu_abc")
	if !ok || !strings.HasPrefix(got, "second") {
		t.Errorf("Get = (%q, %v), want latest put", got, ok)
	}
}

func TestPutIgnoresEmpty(t *testing.T) {
	c := NewCache(time.Hour)

	c.Put("", "some-signature")
	c.Put("toolu_abc", "")

	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after empty puts", c.Len())
	}
	if _, ok := c.Get("toolu_abc"); ok {
		t.Error("expected no entry for empty-signature put")
	}
}

func TestGetExpiresLazily(t *testing.T) {
	c := NewCache(10 * time.Millisecond)

	c.Put("toolu_abc", strings.Repeat("s", 60))
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("toolu_abc"); ok {
		t.Fatal("expected expired entry to be dropped on read")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after lazy expiry", c.Len())
	}
}

func TestSweep(t *testing.T) {
	c := NewCache(10 * time.Millisecond)

	c.Put("a", strings.Repeat("x", 60))
	c.Put("b", strings.Repeat("y", 60))
	time.Sleep(25 * time.Millisecond)
	c.Put("c", strings.Repeat("z", 60))

	if removed := c.Sweep(); removed != 2 {
		t.Errorf("Sweep removed %d, want 2", removed)
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("fresh entry must survive the sweep")
	}
}
