package convert

import (
	"encoding/json"
	"strings"
	"time"

	"agproxy/internal/anthropic"
	"agproxy/internal/openai"
)

// NewCompletionID generates a chat completion id.
func NewCompletionID() string {
	return "chatcmpl-" + randomHex(24)
}

// ToMessagesRequest converts an OpenAI Chat Completions request into the
// Messages form the rest of the pipeline works with. System messages are
// lifted into the system prompt, tool messages become tool_result blocks,
// and assistant tool_calls become tool_use blocks.
func ToMessagesRequest(req *openai.ChatRequest) *anthropic.MessagesRequest {
	out := &anthropic.MessagesRequest{
		Model:         req.Model,
		Stream:        req.Stream,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: []string(req.Stop),
	}
	out.MaxTokens = req.MaxCompletionTokens
	if out.MaxTokens == 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.User != "" {
		out.Metadata = map[string]interface{}{"user_id": req.User}
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if text := chatText(m.Content); text != "" {
				system = append(system, text)
			}
		case "tool":
			block := anthropic.ContentBlock{
				Type:      anthropic.BlockToolResult,
				ToolUseID: m.ToolCallID,
				Name:      m.Name,
			}
			content := anthropic.TextContent(chatText(m.Content))
			block.Content = &content
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    "user",
				Content: anthropic.BlockContent(block),
			})
		case "assistant":
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    "assistant",
				Content: assistantContent(m),
			})
		default:
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    "user",
				Content: userContent(m.Content),
			})
		}
	}
	if len(system) > 0 {
		sys := anthropic.TextContent(strings.Join(system, "\n\n"))
		out.System = &sys
	}

	for _, t := range req.Tools {
		if t.Function.Name == "" {
			continue
		}
		out.Tools = append(out.Tools, anthropic.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	out.ToolChoice = convertToolChoice(req.ToolChoice)
	return out
}

func chatText(c openai.Content) string {
	if c.IsText {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func userContent(c openai.Content) anthropic.MessageContent {
	if c.IsText {
		return anthropic.TextContent(c.Text)
	}
	var blocks []anthropic.ContentBlock
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockText, Text: p.Text})
		case "image_url":
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				continue
			}
			blocks = append(blocks, anthropic.ContentBlock{
				Type:   anthropic.BlockImage,
				Source: &anthropic.Source{Type: "url", URL: p.ImageURL.URL},
			})
		}
	}
	return anthropic.BlockContent(blocks...)
}

func assistantContent(m openai.ChatMessage) anthropic.MessageContent {
	var blocks []anthropic.ContentBlock
	if text := chatText(m.Content); text != "" {
		blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockText, Text: text})
	}
	for _, tc := range m.ToolCalls {
		input := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		blocks = append(blocks, anthropic.ContentBlock{
			Type:  anthropic.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	if len(blocks) == 0 {
		return anthropic.TextContent("")
	}
	return anthropic.BlockContent(blocks...)
}

func convertToolChoice(raw json.RawMessage) *anthropic.ToolChoice {
	if len(raw) == 0 {
		return nil
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "none", "auto":
			return &anthropic.ToolChoice{Type: mode}
		case "required":
			return &anthropic.ToolChoice{Type: "any"}
		}
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Function.Name != "" {
		return &anthropic.ToolChoice{Type: "tool", Name: obj.Function.Name}
	}
	return nil
}

// FinishReasonFrom maps an Anthropic stop reason onto an OpenAI finish
// reason.
func FinishReasonFrom(stopReason string) string {
	switch stopReason {
	case anthropic.StopMaxTokens:
		return openai.FinishLength
	case anthropic.StopToolUse:
		return openai.FinishToolCalls
	default:
		return openai.FinishStop
	}
}

// FromMessagesResponse converts a Messages response into a Chat
// Completions response. Text blocks concatenate into the content string,
// tool_use blocks become tool_calls, thinking is dropped.
func FromMessagesResponse(resp *anthropic.MessagesResponse) *openai.ChatResponse {
	var text strings.Builder
	var toolCalls []openai.ToolCall
	for _, b := range resp.Content {
		switch b.Type {
		case anthropic.BlockText:
			text.WriteString(b.Text)
		case anthropic.BlockToolUse:
			args := "{}"
			if b.Input != nil {
				if raw, err := json.Marshal(b.Input); err == nil {
					args = string(raw)
				}
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: openai.FunctionCall{Name: b.Name, Arguments: args},
			})
		}
	}

	message := &openai.ChoiceMessage{Role: "assistant", ToolCalls: toolCalls}
	if text.Len() > 0 || len(toolCalls) == 0 {
		content := text.String()
		message.Content = &content
	}
	finish := FinishReasonFrom(resp.StopReason)
	return &openai.ChatResponse{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []openai.Choice{{Index: 0, Message: message, FinishReason: &finish}},
		Usage: &openai.Usage{
			PromptTokens:     resp.Usage.InputTokens + resp.Usage.CacheReadInputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.OutputTokens,
		},
	}
}

// ChunkTranslator turns the Anthropic event stream into Chat Completions
// chunks. Tool calls are renumbered into the per-response tool_calls
// index space as their blocks open.
type ChunkTranslator struct {
	id        string
	model     string
	created   int64
	toolIndex map[int]int
	nextTool  int
}

// NewChunkTranslator builds a translator for one streamed response.
func NewChunkTranslator(model string) *ChunkTranslator {
	return &ChunkTranslator{
		id:        NewCompletionID(),
		model:     model,
		created:   time.Now().Unix(),
		toolIndex: map[int]int{},
	}
}

// Translate maps one Anthropic event onto zero or one chunk.
func (t *ChunkTranslator) Translate(ev anthropic.Event) *openai.StreamChunk {
	switch data := ev.Data.(type) {
	case anthropic.MessageStartEvent:
		return t.chunk(&openai.Delta{Role: "assistant"}, nil)

	case anthropic.ContentBlockStartEvent:
		switch data.ContentBlock.Type {
		case anthropic.BlockText:
			empty := ""
			return t.chunk(&openai.Delta{Content: &empty}, nil)
		case anthropic.BlockToolUse:
			idx := t.nextTool
			t.nextTool++
			t.toolIndex[data.Index] = idx
			return t.chunk(&openai.Delta{ToolCalls: []openai.ToolCall{{
				Index:    &idx,
				ID:       data.ContentBlock.ID,
				Type:     "function",
				Function: openai.FunctionCall{Name: data.ContentBlock.Name, Arguments: ""},
			}}}, nil)
		}
		return nil

	case anthropic.ContentBlockDeltaEvent:
		switch data.Delta.Type {
		case anthropic.DeltaText:
			text := data.Delta.Text
			return t.chunk(&openai.Delta{Content: &text}, nil)
		case anthropic.DeltaInputJSON:
			idx := t.toolIndex[data.Index]
			return t.chunk(&openai.Delta{ToolCalls: []openai.ToolCall{{
				Index:    &idx,
				Function: openai.FunctionCall{Arguments: data.Delta.PartialJSON},
			}}}, nil)
		}
		return nil

	case anthropic.MessageDeltaEvent:
		finish := FinishReasonFrom(data.Delta.StopReason)
		return t.chunk(&openai.Delta{}, &finish)
	}
	// message_stop and content_block_stop carry nothing the chunk
	// stream needs; the finish chunk went out with message_delta.
	return nil
}

func (t *ChunkTranslator) chunk(delta *openai.Delta, finish *string) *openai.StreamChunk {
	return &openai.StreamChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []openai.Choice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}
