// Package history keeps a bounded in-memory trail of proxied requests
// for the inspection endpoint. Records hold routing metadata and a
// redacted body snippet, never full conversation content.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

const (
	DefaultSize = 200

	// DefaultSnippetLimit bounds the redacted body snippet per record.
	DefaultSnippetLimit = 2048
)

// RequestRecord is one proxied request as seen at the front door.
type RequestRecord struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Model      string    `json:"model,omitempty"`
	Account    string    `json:"account,omitempty"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Stream     bool      `json:"stream"`
	Error      string    `json:"error,omitempty"`
	Body       string    `json:"body,omitempty"`
}

// Ring is a fixed-capacity record buffer. New records overwrite the
// oldest once the buffer fills.
type Ring struct {
	mu      sync.Mutex
	records []RequestRecord
	next    int
	full    bool
}

func New(size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{records: make([]RequestRecord, size)}
}

// Add stores a record, filling in the ID and timestamp when the caller
// left them unset. It returns the stored record.
func (r *Ring) Add(rec RequestRecord) RequestRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[r.next] = rec
	r.next = (r.next + 1) % len(r.records)
	if r.next == 0 {
		r.full = true
	}
	return rec
}

// Len reports how many records the ring currently holds.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.records)
	}
	return r.next
}

// Recent returns up to limit records, newest first. A non-positive
// limit returns everything held.
func (r *Ring) Recent(limit int) []RequestRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.next
	if r.full {
		held = len(r.records)
	}
	if limit <= 0 || limit > held {
		limit = held
	}

	out := make([]RequestRecord, 0, limit)
	idx := r.next
	for i := 0; i < limit; i++ {
		idx--
		if idx < 0 {
			idx = len(r.records) - 1
		}
		out = append(out, r.records[idx])
	}
	return out
}

// Redact strips conversation payloads out of a request body and trims
// what remains, so retained snippets carry routing fields only.
func Redact(body []byte, limit int) string {
	if limit <= 0 {
		limit = DefaultSnippetLimit
	}

	out := body
	for _, path := range []string{"messages", "system"} {
		if cleaned, err := sjson.DeleteBytes(out, path); err == nil {
			out = cleaned
		}
	}

	s := string(out)
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}
