// Package metrics keeps in-process counters for the health and account
// endpoints. There is no exporter; snapshots are embedded directly in
// JSON responses.
package metrics

import (
	"sync"
	"time"

	"agproxy/internal/apierr"
)

// Outcome labels recorded per request.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeAuthInvalid = "auth_invalid"
	OutcomeError       = "error"
)

// Outcome classifies a request error into a counter label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case apierr.IsRateLimited(err):
		return OutcomeRateLimited
	case apierr.IsAuthInvalid(err):
		return OutcomeAuthInvalid
	default:
		return OutcomeError
	}
}

type modelCounters struct {
	requests     int64
	outcomes     map[string]int64
	inputTokens  int64
	outputTokens int64
	toolTokens   int64
	sumMs        int64
	maxMs        int64
}

type accountCounters struct {
	requests    int64
	errors      int64
	rateLimited int64
}

// Metrics tallies requests per model and per account. One mutex guards
// everything; the hot path is one lock per completed request.
type Metrics struct {
	start time.Time

	mu       sync.Mutex
	models   map[string]*modelCounters
	accounts map[string]*accountCounters
}

func New() *Metrics {
	return &Metrics{
		start:    time.Now(),
		models:   make(map[string]*modelCounters),
		accounts: make(map[string]*accountCounters),
	}
}

func (m *Metrics) model(name string) *modelCounters {
	if name == "" {
		name = "unknown"
	}
	mc := m.models[name]
	if mc == nil {
		mc = &modelCounters{outcomes: make(map[string]int64)}
		m.models[name] = mc
	}
	return mc
}

func (m *Metrics) account(name string) *accountCounters {
	ac := m.accounts[name]
	if ac == nil {
		ac = &accountCounters{}
		m.accounts[name] = ac
	}
	return ac
}

// RecordRequest tallies one completed request against its model and,
// when known, the account that served it.
func (m *Metrics) RecordRequest(model, account, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	ms := duration.Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	mc := m.model(model)
	mc.requests++
	mc.outcomes[outcome]++
	mc.sumMs += ms
	if ms > mc.maxMs {
		mc.maxMs = ms
	}

	if account == "" {
		return
	}
	ac := m.account(account)
	ac.requests++
	switch outcome {
	case OutcomeOK:
	case OutcomeRateLimited:
		ac.rateLimited++
	default:
		ac.errors++
	}
}

// RecordTokens tallies usage reported by the upstream for a model.
func (m *Metrics) RecordTokens(model string, input, output int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mc := m.model(model)
	mc.inputTokens += input
	mc.outputTokens += output
}

// RecordToolTokens tallies the estimated token weight of the tool
// definitions shipped with a request.
func (m *Metrics) RecordToolTokens(model string, estimate int) {
	if m == nil || estimate <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.model(model).toolTokens += int64(estimate)
}

// ModelSummary is the per-model slice of a snapshot.
type ModelSummary struct {
	Requests     int64            `json:"requests"`
	Outcomes     map[string]int64 `json:"outcomes,omitempty"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	ToolTokens   int64            `json:"tool_tokens,omitempty"`
	AvgMs        int64            `json:"avg_ms"`
	MaxMs        int64            `json:"max_ms"`
}

// AccountSummary is the per-account slice of a snapshot.
type AccountSummary struct {
	Requests    int64 `json:"requests"`
	Errors      int64 `json:"errors"`
	RateLimited int64 `json:"rate_limited"`
}

// Summary is a point-in-time copy of all counters, shaped for JSON.
type Summary struct {
	UptimeSeconds int64                     `json:"uptime_seconds"`
	TotalRequests int64                     `json:"total_requests"`
	Models        map[string]ModelSummary   `json:"models,omitempty"`
	Accounts      map[string]AccountSummary `json:"accounts,omitempty"`
}

// Snapshot copies the counters out from under the mutex.
func (m *Metrics) Snapshot() Summary {
	if m == nil {
		return Summary{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := Summary{
		UptimeSeconds: int64(time.Since(m.start).Seconds()),
		Models:        make(map[string]ModelSummary, len(m.models)),
		Accounts:      make(map[string]AccountSummary, len(m.accounts)),
	}

	for name, mc := range m.models {
		outcomes := make(map[string]int64, len(mc.outcomes))
		for k, v := range mc.outcomes {
			outcomes[k] = v
		}
		out.Models[name] = ModelSummary{
			Requests:     mc.requests,
			Outcomes:     outcomes,
			InputTokens:  mc.inputTokens,
			OutputTokens: mc.outputTokens,
			ToolTokens:   mc.toolTokens,
			AvgMs:        safeDivide(mc.sumMs, mc.requests),
			MaxMs:        mc.maxMs,
		}
		out.TotalRequests += mc.requests
	}
	for name, ac := range m.accounts {
		out.Accounts[name] = AccountSummary{
			Requests:    ac.requests,
			Errors:      ac.errors,
			RateLimited: ac.rateLimited,
		}
	}
	return out
}

func safeDivide(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return a / b
}
