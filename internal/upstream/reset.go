package upstream

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Reset-hint patterns seen in vendor 429 bodies. The vendor is not
// consistent: hints show up as JSON fields, prose, bare durations, or
// timestamps.
var (
	delayFieldRe = regexp.MustCompile(`(?i)(?:retry-after-ms|retryDelay)["'\s:=]*(\d+(?:\.\d+)?)\s*(ms|s)?`)
	retryAfterRe = regexp.MustCompile(`(?i)retry after\s+(\d+(?:\.\d+)?)\s*(?:sec(?:ond)?s?|s)\b`)
	durationRe   = regexp.MustCompile(`\b(\d+h\d+m\d+(?:\.\d+)?s|\d+m\d+(?:\.\d+)?s|\d+(?:\.\d+)?s)\b`)
	isoAfterRe   = regexp.MustCompile(`(?i)reset[^0-9]{0,40}(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)`)
)

// ParseReset extracts a rate-limit cooldown from a 429 response, headers
// first, then the body text. Zero means no usable hint was found.
func ParseReset(header http.Header, body []byte) time.Duration {
	return parseResetAt(header, body, time.Now())
}

func parseResetAt(header http.Header, body []byte, now time.Time) time.Duration {
	if d := headerReset(header, now); d > 0 {
		return d
	}
	return bodyReset(string(body), now)
}

func headerReset(header http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if d := secondsToDuration(v); d > 0 {
			return d
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
		}
	}
	if v := strings.TrimSpace(header.Get("x-ratelimit-reset")); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(unix, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	if v := strings.TrimSpace(header.Get("x-ratelimit-reset-after")); v != "" {
		if d := secondsToDuration(v); d > 0 {
			return d
		}
	}
	return 0
}

// bodyReset scans free-text error bodies. Field hints win over prose,
// prose over bare durations, durations over timestamps.
func bodyReset(body string, now time.Time) time.Duration {
	if m := delayFieldRe.FindStringSubmatch(body); m != nil {
		var d time.Duration
		if m[2] == "s" {
			d = secondsToDuration(m[1])
		} else {
			d = millisToDuration(m[1])
		}
		if d > 0 {
			return d
		}
	}
	if m := retryAfterRe.FindStringSubmatch(body); m != nil {
		if d := secondsToDuration(m[1]); d > 0 {
			return d
		}
	}
	if m := durationRe.FindStringSubmatch(body); m != nil {
		if d, err := time.ParseDuration(m[1]); err == nil && d > 0 {
			return d
		}
	}
	if m := isoAfterRe.FindStringSubmatch(body); m != nil {
		stamp := strings.Replace(m[1], " ", "T", 1)
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04:05"} {
			t, err := time.Parse(layout, stamp)
			if err != nil {
				continue
			}
			if d := t.Sub(now); d > 0 {
				return d
			}
			break
		}
	}
	return 0
}

// secondsToDuration parses a decimal-seconds string exactly, to the
// millisecond. Float math would round trip values like "7739.23" one
// millisecond short.
func secondsToDuration(s string) time.Duration {
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i+1:]
	}
	secs, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || secs < 0 {
		return 0
	}
	ms := secs * 1000
	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		fracMs, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0
		}
		ms += fracMs
	}
	return time.Duration(ms) * time.Millisecond
}

func millisToDuration(s string) time.Duration {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
