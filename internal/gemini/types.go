// Package gemini defines the Cloud Code vendor dialect: contents built from
// parts, function calls and responses, generation config, and the
// v1internal request envelope.
package gemini

import "encoding/json"

// Roles on vendor contents.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Candidate finish reasons.
const (
	FinishStop      = "STOP"
	FinishMaxTokens = "MAX_TOKENS"
	FinishToolUse   = "TOOL_USE"
)

// Content is one turn in the vendor dialect.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a single content fragment. At most one payload field is set;
// Thought and ThoughtSignature qualify text parts, and ThoughtSignature
// may also ride on functionCall parts.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	FileData         *FileData         `json:"fileData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// MarshalJSON writes exactly one payload field. A part with no other
// payload is a text part and always carries its text key, so empty-text
// placeholder parts survive serialization.
func (p Part) MarshalJSON() ([]byte, error) {
	obj := map[string]interface{}{}
	switch {
	case p.InlineData != nil:
		obj["inlineData"] = p.InlineData
	case p.FileData != nil:
		obj["fileData"] = p.FileData
	case p.FunctionCall != nil:
		obj["functionCall"] = p.FunctionCall
	case p.FunctionResponse != nil:
		obj["functionResponse"] = p.FunctionResponse
	default:
		obj["text"] = p.Text
		if p.Thought {
			obj["thought"] = true
		}
	}
	if p.ThoughtSignature != "" {
		obj["thoughtSignature"] = p.ThoughtSignature
	}
	return json.Marshal(obj)
}

// Blob carries base64 payload data inline.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FileData references payload data by URI.
type FileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

// FunctionCall is a model-issued tool invocation.
type FunctionCall struct {
	ID   string                 `json:"id,omitempty"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// FunctionResponse returns a tool result to the model.
type FunctionResponse struct {
	ID       string                 `json:"id,omitempty"`
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// GenerationConfig tunes sampling and output limits. ThinkingConfig keys
// differ by model family (camelCase for gemini targets, snake_case for
// claude targets), so it stays a free-form object built by the converter.
type GenerationConfig struct {
	MaxOutputTokens int                    `json:"maxOutputTokens,omitempty"`
	Temperature     *float64               `json:"temperature,omitempty"`
	TopP            *float64               `json:"topP,omitempty"`
	TopK            *int                   `json:"topK,omitempty"`
	StopSequences   []string               `json:"stopSequences,omitempty"`
	ThinkingConfig  map[string]interface{} `json:"thinkingConfig,omitempty"`
}

// Tool wraps function declarations for the vendor request.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// FunctionDeclaration describes one callable tool.
type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Request is the inner vendor payload wrapped by the v1internal envelope.
type Request struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SessionID         string            `json:"sessionId,omitempty"`
}

// Envelope is the v1internal request wrapper.
type Envelope struct {
	Project   string   `json:"project"`
	Model     string   `json:"model"`
	Request   *Request `json:"request"`
	UserAgent string   `json:"userAgent"`
	RequestID string   `json:"requestId"`
}

// Candidate is one generated completion.
type Candidate struct {
	Content      *Content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
	Index        int      `json:"index,omitempty"`
}

// UsageMetadata reports vendor token accounting. PromptTokenCount is the
// total prompt size including cached content.
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount         int `json:"totalTokenCount,omitempty"`
}

// Response is one vendor response object, either the full non-streaming
// body or a single SSE chunk.
type Response struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
	ResponseID    string         `json:"responseId,omitempty"`
}

// Unwrap parses a vendor JSON payload, unwrapping the outer {"response":…}
// envelope streamed by v1internal endpoints when present.
func Unwrap(data []byte) (*Response, error) {
	var outer struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(data, &outer); err == nil && len(outer.Response) > 0 {
		data = outer.Response
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ModelInfo is one entry of the vendor model catalog.
type ModelInfo struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// ModelsResponse is the body of v1internal:fetchAvailableModels.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}
