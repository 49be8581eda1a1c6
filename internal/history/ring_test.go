package history

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRing_EvictsOldest(t *testing.T) {
	r := New(3)

	for i := 1; i <= 5; i++ {
		r.Add(RequestRecord{
			ID:   fmt.Sprintf("r%d", i),
			Time: time.Date(2025, 6, 1, 12, 0, i, 0, time.UTC),
		})
	}

	if got := r.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	recent := r.Recent(10)
	want := []string{"r5", "r4", "r3"}
	if len(recent) != len(want) {
		t.Fatalf("Recent returned %d records, want %d", len(recent), len(want))
	}
	for i, id := range want {
		if recent[i].ID != id {
			t.Errorf("recent[%d].ID = %q, want %q", i, recent[i].ID, id)
		}
	}
}

func TestRing_RecentLimit(t *testing.T) {
	r := New(10)
	for i := 1; i <= 4; i++ {
		r.Add(RequestRecord{ID: fmt.Sprintf("r%d", i)})
	}

	recent := r.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d records", len(recent))
	}
	if recent[0].ID != "r4" || recent[1].ID != "r3" {
		t.Fatalf("Recent(2) = [%s, %s], want [r4, r3]", recent[0].ID, recent[1].ID)
	}

	// Non-positive limit means everything held.
	if got := len(r.Recent(0)); got != 4 {
		t.Fatalf("Recent(0) returned %d records, want 4", got)
	}
}

func TestRing_AddAssignsDefaults(t *testing.T) {
	r := New(5)

	rec := r.Add(RequestRecord{Method: "POST", Path: "/v1/messages"})
	if rec.ID == "" {
		t.Error("Add left ID empty")
	}
	if rec.Time.IsZero() {
		t.Error("Add left Time zero")
	}

	stored := r.Recent(1)
	if len(stored) != 1 || stored[0].ID != rec.ID {
		t.Fatalf("stored record does not match returned one")
	}
}

func TestRedact(t *testing.T) {
	body := `{"model":"claude-sonnet-4-5","stream":true,"system":"be terse","messages":[{"role":"user","content":"hi"}]}`

	out := Redact([]byte(body), 0)
	if strings.Contains(out, "messages") || strings.Contains(out, "be terse") {
		t.Fatalf("redacted body still carries conversation content: %s", out)
	}
	if !strings.Contains(out, `"model":"claude-sonnet-4-5"`) {
		t.Fatalf("redacted body lost routing fields: %s", out)
	}

	// Non-JSON bodies pass through, subject to the length cap.
	if got := Redact([]byte("not json at all"), 8); got != "not json" {
		t.Fatalf("Redact(non-JSON) = %q", got)
	}

	if got := Redact(nil, 0); got != "" {
		t.Fatalf("Redact(nil) = %q, want empty", got)
	}
}
