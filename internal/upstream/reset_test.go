package upstream

import (
	"net/http"
	"strconv"
	"testing"
	"time"
)

func TestParseReset(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header http.Header
		body   string
		want   time.Duration
	}{
		{
			name:   "retry-after seconds",
			header: http.Header{"Retry-After": {"7"}},
			want:   7 * time.Second,
		},
		{
			name:   "retry-after decimal seconds",
			header: http.Header{"Retry-After": {"1.5"}},
			want:   1500 * time.Millisecond,
		},
		{
			name:   "retry-after http date",
			header: http.Header{"Retry-After": {now.Add(90 * time.Second).Format(http.TimeFormat)}},
			want:   90 * time.Second,
		},
		{
			name:   "x-ratelimit-reset unix seconds",
			header: http.Header{"X-Ratelimit-Reset": {strconv.FormatInt(now.Add(45*time.Second).Unix(), 10)}},
			want:   45 * time.Second,
		},
		{
			name:   "x-ratelimit-reset-after seconds",
			header: http.Header{"X-Ratelimit-Reset-After": {"30"}},
			want:   30 * time.Second,
		},
		{
			name:   "header wins over body",
			header: http.Header{"Retry-After": {"7"}},
			body:   `{"retry-after-ms": 1500}`,
			want:   7 * time.Second,
		},
		{
			name: "body retry-after-ms",
			body: `{"error": {"message": "quota exceeded", "retry-after-ms": 1500}}`,
			want: 1500 * time.Millisecond,
		},
		{
			name: "body retryDelay decimal seconds",
			body: `{"error": {"details": [{"retryDelay": "7739.23s"}]}}`,
			want: 7739230 * time.Millisecond,
		},
		{
			name: "body retryDelay bare millis",
			body: `"retryDelay": 2500`,
			want: 2500 * time.Millisecond,
		},
		{
			name: "body retryDelay explicit millis",
			body: `retryDelay: 800ms`,
			want: 800 * time.Millisecond,
		},
		{
			name: "body prose retry after",
			body: "Resource exhausted. Please retry after 30 seconds.",
			want: 30 * time.Second,
		},
		{
			name: "body bare duration minutes",
			body: "Quota exceeded, resets in 23m45s",
			want: 23*time.Minute + 45*time.Second,
		},
		{
			name: "body bare duration hours",
			body: "try again in 1h23m45s",
			want: time.Hour + 23*time.Minute + 45*time.Second,
		},
		{
			name: "body iso timestamp after reset",
			body: "quota will reset at 2025-06-01T12:05:00Z",
			want: 5 * time.Minute,
		},
		{
			name: "field hint wins over bare duration",
			body: `retryDelay: "2s" but the window is 1h23m45s`,
			want: 2 * time.Second,
		},
		{
			name:   "negative retry-after discarded",
			header: http.Header{"Retry-After": {"-5"}},
			want:   0,
		},
		{
			name:   "zero header falls through to body",
			header: http.Header{"Retry-After": {"0"}},
			body:   "wait 45s please",
			want:   45 * time.Second,
		},
		{
			name:   "unparseable header ignored",
			header: http.Header{"Retry-After": {"soon"}},
			want:   0,
		},
		{
			name: "no hint at all",
			body: "The model is overloaded.",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			got := parseResetAt(header, []byte(tt.body), now)
			if got != tt.want {
				t.Errorf("parseResetAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSecondsToDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"7", 7 * time.Second},
		{"7739.23", 7739230 * time.Millisecond},
		{"0.5", 500 * time.Millisecond},
		{"1.2345", 1234 * time.Millisecond},
		{"0", 0},
		{"-3", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		if got := secondsToDuration(tt.in); got != tt.want {
			t.Errorf("secondsToDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
