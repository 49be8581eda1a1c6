package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"agproxy/internal/account"
	"agproxy/internal/apierr"
	"agproxy/internal/convert"
	"agproxy/internal/gemini"
	"agproxy/internal/httpclient"
)

func newTestPool(t *testing.T, emails ...string) *account.Pool {
	t.Helper()
	pool, err := account.NewPool(account.Config{})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, email := range emails {
		pool.Add(account.Account{
			Email:     email,
			Source:    account.SourceManual,
			APIKey:    "key-" + email,
			ProjectID: "proj-1",
		})
	}
	return pool
}

func testRequest() *gemini.Request {
	return &gemini.Request{
		Contents: []gemini.Content{
			{Role: gemini.RoleUser, Parts: []gemini.Part{{Text: "hi"}}},
		},
	}
}

func TestClient_GenerateNonStreaming(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotAuth, gotUA, gotBeta string
	var envelope map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotBeta = r.Header.Get("anthropic-beta")
		json.Unmarshal(body, &envelope)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response": {"candidates": [{"content": {"role": "model", "parts": [{"text": "hello"}]}, "finishReason": "STOP"}], "usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 2}}}`)
	}))
	defer srv.Close()

	pool := newTestPool(t, "a")
	client := New(pool, httpclient.New(""), Config{Endpoints: []string{srv.URL}})
	meta := &convert.RequestMeta{Model: "gemini-2.5-pro", Family: convert.FamilyGemini}

	resp, _, err := client.Generate(context.Background(), meta, testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(resp.Candidates) != 1 || resp.Candidates[0].Content.Parts[0].Text != "hello" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.UsageMetadata == nil || resp.UsageMetadata.PromptTokenCount != 10 {
		t.Errorf("usage not carried: %+v", resp.UsageMetadata)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/v1internal:generateContent" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer key-a" {
		t.Errorf("auth = %s", gotAuth)
	}
	if gotUA != gemini.UserAgent {
		t.Errorf("user agent = %s", gotUA)
	}
	if gotBeta != "" {
		t.Errorf("beta header set for non-thinking request: %s", gotBeta)
	}
	if envelope["project"] != "proj-1" {
		t.Errorf("project = %v", envelope["project"])
	}
	if envelope["model"] != "gemini-2.5-pro" {
		t.Errorf("model = %v", envelope["model"])
	}
	if envelope["userAgent"] != "antigravity" {
		t.Errorf("userAgent = %v", envelope["userAgent"])
	}
	id, _ := envelope["requestId"].(string)
	if !strings.HasPrefix(id, "agent-") {
		t.Errorf("requestId = %q", id)
	}
	if envelope["request"] == nil {
		t.Error("missing inner request")
	}
}

func TestClient_ThinkingCollectsStream(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotQuery, gotBeta string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotBeta = r.Header.Get("anthropic-beta")
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"response": {"candidates": [{"content": {"parts": [{"text": "Think", "thought": true}]}}]}}`+"\n\n")
		fmt.Fprint(w, `data: {"response": {"candidates": [{"content": {"parts": [{"text": "Answer"}]}}]}}`+"\n\n")
		fmt.Fprint(w, `data: {"response": {"candidates": [{"finishReason": "STOP"}], "usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 3}}}`+"\n\n")
	}))
	defer srv.Close()

	pool := newTestPool(t, "a")
	client := New(pool, httpclient.New(""), Config{Endpoints: []string{srv.URL}})
	meta := &convert.RequestMeta{Model: "claude-sonnet-4-5-thinking", Family: convert.FamilyClaude, Thinking: true}

	resp, _, err := client.Generate(context.Background(), meta, testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	mu.Lock()
	if gotPath != "/v1internal:streamGenerateContent" {
		t.Errorf("path = %s", gotPath)
	}
	if gotQuery != "alt=sse" {
		t.Errorf("query = %s", gotQuery)
	}
	if gotBeta != gemini.InterleavedThinkingBeta {
		t.Errorf("beta header = %q", gotBeta)
	}
	mu.Unlock()

	parts := resp.Candidates[0].Content.Parts
	if len(parts) != 2 {
		t.Fatalf("parts = %+v, want thinking + text", parts)
	}
	if !parts[0].Thought || parts[0].Text != "Think" {
		t.Errorf("part 0 = %+v", parts[0])
	}
	if parts[1].Thought || parts[1].Text != "Answer" {
		t.Errorf("part 1 = %+v", parts[1])
	}
	if resp.Candidates[0].FinishReason != "STOP" {
		t.Errorf("finish = %s", resp.Candidates[0].FinishReason)
	}
}

func TestClient_StreamDeliversChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"response": {"candidates": [{"content": {"parts": [{"text": "A"}]}}]}}`+"\n\n")
		fmt.Fprint(w, "event: ping\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, `data: {"response": {"candidates": [{"content": {"parts": [{"text": "B"}]}, "finishReason": "STOP"}]}}`+"\n\n")
	}))
	defer srv.Close()

	pool := newTestPool(t, "a")
	client := New(pool, httpclient.New(""), Config{Endpoints: []string{srv.URL}})
	meta := &convert.RequestMeta{Model: "gemini-2.5-flash", Family: convert.FamilyGemini}

	var texts []string
	served, err := client.Stream(context.Background(), meta, testRequest(), func(chunk *gemini.Response) error {
		for _, cand := range chunk.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, p := range cand.Content.Parts {
				texts = append(texts, p.Text)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if served != "a" {
		t.Errorf("served by %q, want a", served)
	}
	if len(texts) != 2 || texts[0] != "A" || texts[1] != "B" {
		t.Errorf("texts = %v", texts)
	}
}

func TestClient_FailoverOn429(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		mu.Lock()
		calls[auth]++
		mu.Unlock()

		if auth == "Bearer key-a" {
			w.Header().Set("Retry-After", "600")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error": {"message": "quota exceeded"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response": {"candidates": [{"content": {"parts": [{"text": "ok"}]}, "finishReason": "STOP"}]}}`)
	}))
	defer srv.Close()

	pool := newTestPool(t, "a", "b")
	client := New(pool, httpclient.New(""), Config{Endpoints: []string{srv.URL}})
	meta := &convert.RequestMeta{Model: "gemini-2.5-pro", Family: convert.FamilyGemini}

	resp, served, err := client.Generate(context.Background(), meta, testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Candidates[0].Content.Parts[0].Text != "ok" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if served != "b" {
		t.Errorf("served by %q, want b", served)
	}

	accounts := pool.Accounts()
	if !accounts[0].IsRateLimited {
		t.Error("account a should be rate limited")
	}
	if accounts[1].IsRateLimited {
		t.Error("account b should not be rate limited")
	}
	if got := pool.ActiveIndex(); got != 1 {
		t.Errorf("active index = %d, want 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls["Bearer key-a"] != 1 || calls["Bearer key-b"] != 1 {
		t.Errorf("calls = %v", calls)
	}
}

func TestClient_AllRateLimitedFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "600")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "quota exceeded"}}`)
	}))
	defer srv.Close()

	pool := newTestPool(t, "a")
	client := New(pool, httpclient.New(""), Config{Endpoints: []string{srv.URL}})
	meta := &convert.RequestMeta{Model: "gemini-2.5-pro", Family: convert.FamilyGemini}

	start := time.Now()
	_, _, err := client.Generate(context.Background(), meta, testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if !apierr.IsRateLimited(err) {
		t.Errorf("error not classified as rate limited: %v", err)
	}
	var rl *apierr.RateLimited
	if !errors.As(err, &rl) {
		t.Fatalf("error type = %T", err)
	}
	if rl.ResetMs <= 0 {
		t.Errorf("reset ms = %d, want > 0", rl.ResetMs)
	}
	// The long cooldown must fail fast, not sleep.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("dispatch took %v", elapsed)
	}
}

func TestClient_RetryAfter401(t *testing.T) {
	var mu sync.Mutex
	count := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		first := count == 1
		mu.Unlock()

		if first {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error": {"message": "invalid authentication"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response": {"candidates": [{"content": {"parts": [{"text": "ok"}]}, "finishReason": "STOP"}]}}`)
	}))
	defer srv.Close()

	pool := newTestPool(t, "a")
	client := New(pool, httpclient.New(""), Config{Endpoints: []string{srv.URL}})
	meta := &convert.RequestMeta{Model: "gemini-2.5-pro", Family: convert.FamilyGemini}

	resp, _, err := client.Generate(context.Background(), meta, testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Candidates[0].Content.Parts[0].Text != "ok" {
		t.Errorf("unexpected response: %+v", resp)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("upstream calls = %d, want 2", count)
	}
}

func TestClient_EndpointFallback(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response": {"candidates": [{"content": {"parts": [{"text": "ok"}]}, "finishReason": "STOP"}]}}`)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"message": "internal"}}`)
	}))
	defer bad.Close()

	pool := newTestPool(t, "a")
	client := New(pool, httpclient.New(""), Config{Endpoints: []string{bad.URL, good.URL}})
	meta := &convert.RequestMeta{Model: "gemini-2.5-pro", Family: convert.FamilyGemini}

	resp, _, err := client.Generate(context.Background(), meta, testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Candidates[0].Content.Parts[0].Text != "ok" {
		t.Errorf("unexpected response: %+v", resp)
	}
}
