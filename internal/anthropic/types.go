// Package anthropic defines the wire types for the Anthropic Messages API
// surface the proxy exposes: requests, content blocks, responses, and
// server-sent stream events.
package anthropic

import (
	"bytes"
	"encoding/json"
)

// Content block types.
const (
	BlockText             = "text"
	BlockImage            = "image"
	BlockDocument         = "document"
	BlockToolUse          = "tool_use"
	BlockToolResult       = "tool_result"
	BlockThinking         = "thinking"
	BlockRedactedThinking = "redacted_thinking"
)

// Stop reasons reported to clients.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopToolUse      = "tool_use"
	StopStopSequence = "stop_sequence"
)

// MessagesRequest is the body of POST /v1/messages.
type MessagesRequest struct {
	Model         string                 `json:"model"`
	Messages      []Message              `json:"messages"`
	MaxTokens     int                    `json:"max_tokens,omitempty"`
	System        *MessageContent        `json:"system,omitempty"`
	Stream        bool                   `json:"stream,omitempty"`
	Temperature   *float64               `json:"temperature,omitempty"`
	TopP          *float64               `json:"top_p,omitempty"`
	TopK          *int                   `json:"top_k,omitempty"`
	StopSequences []string               `json:"stop_sequences,omitempty"`
	Tools         []Tool                 `json:"tools,omitempty"`
	ToolChoice    *ToolChoice            `json:"tool_choice,omitempty"`
	Thinking      *Thinking              `json:"thinking,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either a plain string or an ordered list of typed
// blocks; both forms appear on the wire for message content, system
// prompts, and tool_result content.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
	IsText bool
}

func (m *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*m = MessageContent{}
		return nil
	}
	if trimmed[0] == '"' {
		m.Blocks = nil
		m.IsText = true
		return json.Unmarshal(trimmed, &m.Text)
	}
	m.Text = ""
	m.IsText = false
	return json.Unmarshal(trimmed, &m.Blocks)
}

func (m MessageContent) MarshalJSON() ([]byte, error) {
	if m.IsText {
		return json.Marshal(m.Text)
	}
	if m.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.Blocks)
}

// AsBlocks returns the content as a block list, wrapping plain-string
// content in a single text block.
func (m MessageContent) AsBlocks() []ContentBlock {
	if m.IsText {
		if m.Text == "" {
			return nil
		}
		return []ContentBlock{{Type: BlockText, Text: m.Text}}
	}
	return m.Blocks
}

// TextContent builds string-form content, mainly for tests and synthesized
// messages.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s, IsText: true}
}

// BlockContent builds block-form content.
func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// ContentBlock is one element of block-form content. Exactly one variant's
// fields are meaningful, selected by Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image, document
	Source *Source `json:"source,omitempty"`

	// tool_use
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *MessageContent `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// redacted_thinking
	Data string `json:"data,omitempty"`
}

// MarshalJSON writes the per-type wire shape. tool_use always carries
// input and thinking always carries signature, even when empty.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	obj := map[string]interface{}{"type": b.Type}
	switch b.Type {
	case BlockText:
		obj["text"] = b.Text
	case BlockThinking:
		obj["thinking"] = b.Thinking
		obj["signature"] = b.Signature
	case BlockRedactedThinking:
		obj["data"] = b.Data
	case BlockToolUse:
		obj["id"] = b.ID
		obj["name"] = b.Name
		if b.Input != nil {
			obj["input"] = b.Input
		} else {
			obj["input"] = map[string]interface{}{}
		}
		if b.Signature != "" {
			obj["signature"] = b.Signature
		}
	case BlockToolResult:
		obj["tool_use_id"] = b.ToolUseID
		if b.Name != "" {
			obj["name"] = b.Name
		}
		if b.Content != nil {
			obj["content"] = b.Content
		}
		if b.IsError {
			obj["is_error"] = true
		}
	case BlockImage, BlockDocument:
		if b.Source != nil {
			obj["source"] = b.Source
		}
	default:
		type plain ContentBlock
		return json.Marshal(plain(b))
	}
	return json.Marshal(obj)
}

// Source is the payload of an image or document block.
type Source struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool is a caller-supplied tool definition. Clients send either the
// native shape (name/description/input_schema) or the OpenAI function
// wrapper; both are accepted.
type Tool struct {
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Function    *ToolFunction          `json:"function,omitempty"`
}

// ToolFunction is the nested function object of OpenAI-shaped tools.
type ToolFunction struct {
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolChoice selects how the model may use tools.
type ToolChoice struct {
	Type string `json:"type,omitempty"` // "auto", "any", "tool", "none"
	Name string `json:"name,omitempty"`
}

// Thinking enables extended reasoning with an optional token budget.
type Thinking struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// MessagesResponse is the non-streaming body of POST /v1/messages.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage reports token accounting. Input tokens exclude cache reads.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// Event pairs an SSE event name with its JSON payload.
type Event struct {
	Name string
	Data interface{}
}

// Stream event payloads.

type MessageStartEvent struct {
	Type    string           `json:"type"`
	Message MessagesResponse `json:"message"`
}

type ContentBlockStartEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

type ContentBlockDeltaEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta Delta  `json:"delta"`
}

type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type MessageDeltaEvent struct {
	Type  string       `json:"type"`
	Delta MessageDelta `json:"delta"`
	Usage *Usage       `json:"usage,omitempty"`
}

type MessageStopEvent struct {
	Type string `json:"type"`
}

// Delta is the typed payload of a content_block_delta event.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Signature   string `json:"signature,omitempty"`
}

// MessageDelta closes a streamed message with its stop reason.
type MessageDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// Delta types inside content_block_delta events.
const (
	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaSignature = "signature_delta"
)

// ModelInfo is one entry of GET /v1/models.
type ModelInfo struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Created     int64  `json:"created"`
	OwnedBy     string `json:"owned_by"`
	Description string `json:"description,omitempty"`
}

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ErrorResponse is the error body shape for every non-2xx reply.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds the standard error body.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{Type: "error", Error: ErrorDetail{Type: errType, Message: message}}
}
