package convert

import (
	"strings"
	"testing"

	"agproxy/internal/anthropic"
	"agproxy/internal/signature"
)

func TestConvertRole(t *testing.T) {
	tests := []struct {
		role string
		want string
	}{
		{"assistant", "model"},
		{"user", "user"},
		{"system", "user"},
		{"", "user"},
	}
	for _, tt := range tests {
		if got := ConvertRole(tt.role); got != tt.want {
			t.Errorf("ConvertRole(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestConvertBlocksText(t *testing.T) {
	blocks := []anthropic.ContentBlock{
		{Type: anthropic.BlockText, Text: "hello"},
		{Type: anthropic.BlockText, Text: "  \n "},
	}
	parts := ConvertBlocks(blocks, Options{})
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	if parts[0].Text != "hello" {
		t.Errorf("text = %q, want %q", parts[0].Text, "hello")
	}
}

func TestConvertBlocksMedia(t *testing.T) {
	blocks := []anthropic.ContentBlock{
		{Type: anthropic.BlockImage, Source: &anthropic.Source{Type: "base64", MediaType: "image/png", Data: "abcd"}},
		{Type: anthropic.BlockImage, Source: &anthropic.Source{Type: "url", URL: "https://example.com/a.jpg"}},
		{Type: anthropic.BlockDocument, Source: &anthropic.Source{Type: "base64", Data: "efgh"}},
	}
	parts := ConvertBlocks(blocks, Options{})
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	if parts[0].InlineData == nil || parts[0].InlineData.MimeType != "image/png" {
		t.Errorf("base64 image part wrong: %+v", parts[0])
	}
	if parts[1].FileData == nil || parts[1].FileData.MimeType != "image/jpeg" {
		t.Errorf("url image should default to image/jpeg: %+v", parts[1])
	}
	if parts[2].InlineData == nil || parts[2].InlineData.MimeType != "application/pdf" {
		t.Errorf("document should default to application/pdf: %+v", parts[2])
	}
}

func TestConvertToolUseClaude(t *testing.T) {
	blocks := []anthropic.ContentBlock{
		{Type: anthropic.BlockToolUse, ID: "toolu_1", Name: "search", Input: map[string]interface{}{"q": "go"}},
	}
	parts := ConvertBlocks(blocks, Options{Claude: true})
	if len(parts) != 1 || parts[0].FunctionCall == nil {
		t.Fatalf("expected one functionCall part, got %+v", parts)
	}
	fc := parts[0].FunctionCall
	if fc.ID != "toolu_1" || fc.Name != "search" {
		t.Errorf("functionCall = %+v", fc)
	}
	if parts[0].ThoughtSignature != "" {
		t.Errorf("claude targets must not get a replay signature, got %q", parts[0].ThoughtSignature)
	}
}

func TestConvertToolUseGeminiSignature(t *testing.T) {
	cache := signature.NewCache(0)
	defer cache.Stop()
	cache.Put("cached_id", longSig)

	tests := []struct {
		name  string
		block anthropic.ContentBlock
		want  string
	}{
		{
			name:  "block signature wins",
			block: anthropic.ContentBlock{Type: anthropic.BlockToolUse, ID: "cached_id", Name: "f", Signature: "block-sig"},
			want:  "block-sig",
		},
		{
			name:  "cache fallback",
			block: anthropic.ContentBlock{Type: anthropic.BlockToolUse, ID: "cached_id", Name: "f"},
			want:  longSig,
		},
		{
			name:  "sentinel when nothing known",
			block: anthropic.ContentBlock{Type: anthropic.BlockToolUse, ID: "unknown", Name: "f"},
			want:  "skip_thought_signature_validator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := ConvertBlocks([]anthropic.ContentBlock{tt.block}, Options{Gemini: true, Signatures: cache})
			if len(parts) != 1 {
				t.Fatalf("got %d parts", len(parts))
			}
			if parts[0].ThoughtSignature != tt.want {
				t.Errorf("signature = %q, want %q", parts[0].ThoughtSignature, tt.want)
			}
			if parts[0].FunctionCall.ID != "" {
				t.Errorf("gemini functionCall should not carry an id, got %q", parts[0].FunctionCall.ID)
			}
		})
	}
}

func TestConvertToolResultGemini(t *testing.T) {
	content := anthropic.TextContent("42 degrees")
	blocks := []anthropic.ContentBlock{
		{Type: anthropic.BlockToolResult, ToolUseID: "id1", Content: &content},
	}
	parts := ConvertBlocks(blocks, Options{Gemini: true, ToolNames: map[string]string{"id1": "weather"}})
	if len(parts) != 1 || parts[0].FunctionResponse == nil {
		t.Fatalf("expected one functionResponse part, got %+v", parts)
	}
	fr := parts[0].FunctionResponse
	if fr.Name != "weather" || fr.ID != "id1" {
		t.Errorf("functionResponse = %+v", fr)
	}
	if fr.Response["result"] != "42 degrees" {
		t.Errorf("response wrap = %+v", fr.Response)
	}
}

func TestConvertToolResultClaudeBecomesText(t *testing.T) {
	content := anthropic.TextContent("it worked")
	blocks := []anthropic.ContentBlock{
		{Type: anthropic.BlockToolResult, ToolUseID: "id1", Name: "deploy", Content: &content},
	}
	parts := ConvertBlocks(blocks, Options{Claude: true})
	if len(parts) != 1 || parts[0].FunctionResponse != nil {
		t.Fatalf("claude tool_result must not convert to functionResponse: %+v", parts)
	}
	want := "[Tool Result for 'deploy': it worked]"
	if parts[0].Text != want {
		t.Errorf("text = %q, want %q", parts[0].Text, want)
	}
}

func TestConvertToolResultBlockContent(t *testing.T) {
	content := anthropic.BlockContent(
		anthropic.ContentBlock{Type: anthropic.BlockText, Text: "line one"},
		anthropic.ContentBlock{Type: anthropic.BlockText, Text: "line two"},
		anthropic.ContentBlock{Type: anthropic.BlockImage, Source: &anthropic.Source{Type: "base64", MediaType: "image/png", Data: "xyz"}},
	)
	blocks := []anthropic.ContentBlock{
		{Type: anthropic.BlockToolResult, ToolUseID: "id1", Name: "shot", Content: &content},
	}
	parts := ConvertBlocks(blocks, Options{Gemini: true})
	if len(parts) != 2 {
		t.Fatalf("expected functionResponse plus image part, got %d", len(parts))
	}
	if got := parts[0].FunctionResponse.Response["result"]; got != "line one\nline two" {
		t.Errorf("joined text = %q", got)
	}
	if parts[1].InlineData == nil || parts[1].InlineData.Data != "xyz" {
		t.Errorf("image was not extracted: %+v", parts[1])
	}
}

func TestConvertToolResultUnresolvedSkipped(t *testing.T) {
	content := anthropic.TextContent("orphan")
	blocks := []anthropic.ContentBlock{
		{Type: anthropic.BlockToolResult, ToolUseID: "nobody", Content: &content},
	}
	if parts := ConvertBlocks(blocks, Options{Gemini: true}); len(parts) != 0 {
		t.Errorf("unresolvable tool_result should be skipped, got %+v", parts)
	}
}

func TestConvertThinkingBlocks(t *testing.T) {
	blocks := []anthropic.ContentBlock{
		{Type: anthropic.BlockThinking, Thinking: "signed", Signature: longSig},
		{Type: anthropic.BlockThinking, Thinking: "unsigned"},
		{Type: anthropic.BlockRedactedThinking, Data: "opaque"},
	}
	parts := ConvertBlocks(blocks, Options{Gemini: true})
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	if !parts[0].Thought || parts[0].Text != "signed" || parts[0].ThoughtSignature != longSig {
		t.Errorf("thought part = %+v", parts[0])
	}
}

func TestBuildToolNameMap(t *testing.T) {
	resultContent := anthropic.TextContent("ok")
	messages := []anthropic.Message{
		{
			Role: "assistant",
			Content: anthropic.BlockContent(
				anthropic.ContentBlock{Type: anthropic.BlockToolUse, ID: "a", Name: "alpha"},
			),
		},
		{
			Role: "user",
			Content: anthropic.BlockContent(
				anthropic.ContentBlock{Type: anthropic.BlockToolResult, ToolUseID: "a", Name: "ignored", Content: &resultContent},
				anthropic.ContentBlock{Type: anthropic.BlockToolResult, ToolUseID: "b", Name: "beta", Content: &resultContent},
			),
		},
	}

	names := BuildToolNameMap(messages)
	if names["a"] != "alpha" {
		t.Errorf("assistant tool_use name should win, got %q", names["a"])
	}
	if names["b"] != "beta" {
		t.Errorf("tool_result carried name missing, got %q", names["b"])
	}
}

func TestConvertMessageEmptyTextTrim(t *testing.T) {
	msg := anthropic.Message{Role: "user", Content: anthropic.TextContent(strings.Repeat(" ", 3))}
	content := ConvertMessage(msg, Options{})
	if len(content.Parts) != 0 {
		t.Errorf("whitespace-only content should produce no parts, got %+v", content.Parts)
	}
	if content.Role != "user" {
		t.Errorf("role = %q", content.Role)
	}
}
