package convert

import (
	"strings"
	"testing"

	"agproxy/internal/anthropic"
	"agproxy/internal/gemini"
	"agproxy/internal/signature"
)

func chunkWithParts(parts ...gemini.Part) *gemini.Response {
	return &gemini.Response{Candidates: []gemini.Candidate{{Content: &gemini.Content{Role: "model", Parts: parts}}}}
}

func eventNames(events []anthropic.Event) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}

func TestStreamFullSequence(t *testing.T) {
	cache := signature.NewCache(0)
	defer cache.Stop()
	s := NewStreamState("claude-sonnet-4-5-thinking", cache)

	longerSig := longSig + "x"
	var events []anthropic.Event
	events = append(events, s.Feed(&gemini.Response{
		Candidates:    []gemini.Candidate{{Content: &gemini.Content{Parts: []gemini.Part{{Text: "let me ", Thought: true, ThoughtSignature: longSig}}}}},
		UsageMetadata: &gemini.UsageMetadata{PromptTokenCount: 120, CachedContentTokenCount: 100},
	})...)
	events = append(events, s.Feed(chunkWithParts(gemini.Part{Text: "think", Thought: true, ThoughtSignature: longerSig}))...)
	events = append(events, s.Feed(chunkWithParts(gemini.Part{Text: "the answer"}))...)
	events = append(events, s.Feed(&gemini.Response{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Parts: []gemini.Part{{FunctionCall: &gemini.FunctionCall{Name: "lookup", Args: map[string]interface{}{"q": "go"}}}}},
			FinishReason: "STOP",
		}},
		UsageMetadata: &gemini.UsageMetadata{PromptTokenCount: 120, CachedContentTokenCount: 100, CandidatesTokenCount: 40},
	})...)
	events = append(events, s.Close()...)

	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	got := eventNames(events)
	if len(got) != len(want) {
		t.Fatalf("event names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (full sequence %v)", i, got[i], want[i], got)
		}
	}

	start := events[0].Data.(anthropic.MessageStartEvent)
	if start.Message.Usage.InputTokens != 20 || start.Message.Usage.CacheReadInputTokens != 100 {
		t.Errorf("message_start usage = %+v", start.Message.Usage)
	}
	if !strings.HasPrefix(start.Message.ID, "msg_") {
		t.Errorf("message id = %q", start.Message.ID)
	}

	sigDelta := events[4].Data.(anthropic.ContentBlockDeltaEvent)
	if sigDelta.Delta.Type != anthropic.DeltaSignature || sigDelta.Delta.Signature != longerSig {
		t.Errorf("signature delta = %+v, want longest signature", sigDelta.Delta)
	}

	toolStart := events[9].Data.(anthropic.ContentBlockStartEvent)
	if toolStart.ContentBlock.Type != anthropic.BlockToolUse || toolStart.ContentBlock.Name != "lookup" {
		t.Errorf("tool_use start = %+v", toolStart.ContentBlock)
	}
	if toolStart.Index != 2 {
		t.Errorf("tool_use index = %d, want 2", toolStart.Index)
	}

	argsDelta := events[10].Data.(anthropic.ContentBlockDeltaEvent)
	if argsDelta.Delta.Type != anthropic.DeltaInputJSON || argsDelta.Delta.PartialJSON != `{"q":"go"}` {
		t.Errorf("input_json delta = %+v", argsDelta.Delta)
	}

	msgDelta := events[12].Data.(anthropic.MessageDeltaEvent)
	if msgDelta.Delta.StopReason != anthropic.StopToolUse {
		t.Errorf("stop_reason = %q, want tool_use", msgDelta.Delta.StopReason)
	}
	if msgDelta.Usage == nil || msgDelta.Usage.OutputTokens != 40 || msgDelta.Usage.CacheReadInputTokens != 100 {
		t.Errorf("message_delta usage = %+v", msgDelta.Usage)
	}
}

func TestStreamSkipsEmptyText(t *testing.T) {
	s := NewStreamState("gemini-2.5-flash", nil)
	events := s.Feed(chunkWithParts(gemini.Part{Text: "  \n"}))
	if len(events) != 0 {
		t.Errorf("whitespace text should produce no events, got %v", eventNames(events))
	}
}

func TestStreamTextOnly(t *testing.T) {
	s := NewStreamState("gemini-2.5-flash", nil)
	var events []anthropic.Event
	events = append(events, s.Feed(chunkWithParts(gemini.Part{Text: "hello"}))...)
	events = append(events, s.Feed(&gemini.Response{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Parts: []gemini.Part{{Text: " world"}}},
			FinishReason: "MAX_TOKENS",
		}},
	})...)
	events = append(events, s.Close()...)

	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	got := eventNames(events)
	if len(got) != len(want) {
		t.Fatalf("event names = %v", got)
	}
	msgDelta := events[5].Data.(anthropic.MessageDeltaEvent)
	if msgDelta.Delta.StopReason != anthropic.StopMaxTokens {
		t.Errorf("stop_reason = %q, want max_tokens", msgDelta.Delta.StopReason)
	}
}

func TestStreamEmptySynthesizesMessage(t *testing.T) {
	s := NewStreamState("gemini-2.5-flash", nil)
	events := s.Close()

	want := []string{
		"message_start",
		"content_block_start",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	got := eventNames(events)
	if len(got) != len(want) {
		t.Fatalf("event names = %v, want %v", got, want)
	}
	blockStart := events[1].Data.(anthropic.ContentBlockStartEvent)
	if blockStart.ContentBlock.Type != anthropic.BlockText {
		t.Errorf("synthesized block = %+v", blockStart.ContentBlock)
	}
	msgDelta := events[3].Data.(anthropic.MessageDeltaEvent)
	if msgDelta.Delta.StopReason != anthropic.StopEndTurn {
		t.Errorf("stop_reason = %q", msgDelta.Delta.StopReason)
	}
}

func TestStreamToolCallSignatureCached(t *testing.T) {
	cache := signature.NewCache(0)
	defer cache.Stop()
	s := NewStreamState("gemini-3-pro", cache)

	s.Feed(chunkWithParts(gemini.Part{
		FunctionCall:     &gemini.FunctionCall{ID: "call_9", Name: "f"},
		ThoughtSignature: longSig,
	}))
	if sig, ok := cache.Get("call_9"); !ok || sig != longSig {
		t.Errorf("signature not cached: %q, %v", sig, ok)
	}
}

func TestStreamConsecutiveToolCalls(t *testing.T) {
	s := NewStreamState("gemini-3-pro", nil)
	var events []anthropic.Event
	events = append(events, s.Feed(chunkWithParts(
		gemini.Part{FunctionCall: &gemini.FunctionCall{Name: "first"}},
		gemini.Part{FunctionCall: &gemini.FunctionCall{Name: "second"}},
	))...)

	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
	}
	got := eventNames(events)
	if len(got) != len(want) {
		t.Fatalf("event names = %v, want %v", got, want)
	}
	second := events[4].Data.(anthropic.ContentBlockStartEvent)
	if second.Index != 1 || second.ContentBlock.Name != "second" {
		t.Errorf("second tool block = %+v at index %d", second.ContentBlock, second.Index)
	}
}
