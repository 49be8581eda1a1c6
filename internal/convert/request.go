package convert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"agproxy/internal/anthropic"
	"agproxy/internal/gemini"
	"agproxy/internal/schema"
	"agproxy/internal/signature"
)

// Family identifies the upstream model family, which controls schema
// sanitizing, thinking config casing, and tool result encoding.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyClaude
	FamilyGemini
)

func (f Family) String() string {
	switch f {
	case FamilyClaude:
		return "claude"
	case FamilyGemini:
		return "gemini"
	}
	return "unknown"
}

// geminiMaxOutputTokens caps maxOutputTokens for gemini-family targets;
// larger values are rejected upstream.
const geminiMaxOutputTokens = 16384

// defaultGeminiThinkingBudget is applied when a gemini-family thinking
// model is used without an explicit budget.
const defaultGeminiThinkingBudget = 16000

// interleavedThinkingHint is appended to the system prompt for
// claude-family thinking models with tools, so reasoning may continue
// across tool calls.
const interleavedThinkingHint = "Interleaved thinking is enabled. You may reason between tool calls and after tool results before producing your final answer."

var toolNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// NormalizeModel strips the routing prefix from a client-facing model
// name.
func NormalizeModel(model, prefix string) string {
	if prefix != "" && strings.HasPrefix(model, prefix) {
		return model[len(prefix):]
	}
	return model
}

// FamilyOf derives the model family from the normalized model name.
func FamilyOf(model string) Family {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "claude"):
		return FamilyClaude
	case strings.Contains(lower, "gemini"):
		return FamilyGemini
	}
	return FamilyUnknown
}

// IsThinkingModel reports whether the model emits thinking content:
// claude models with "thinking" in the name, gemini models with
// "thinking" in the name, and gemini generations 3 and up.
func IsThinkingModel(model string) bool {
	lower := strings.ToLower(model)
	switch FamilyOf(lower) {
	case FamilyClaude:
		return strings.Contains(lower, "thinking")
	case FamilyGemini:
		return strings.Contains(lower, "thinking") || geminiMajor(lower) >= 3
	}
	return false
}

func geminiMajor(model string) int {
	i := strings.Index(model, "gemini-")
	if i < 0 {
		return 0
	}
	rest := model[i+len("gemini-"):]
	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	if j == 0 {
		return 0
	}
	n, _ := strconv.Atoi(rest[:j])
	return n
}

// RequestMeta is derived alongside the vendor request for routing,
// logging, and metrics.
type RequestMeta struct {
	Model      string
	Family     Family
	Thinking   bool
	SessionID  string
	ToolCount  int
	ToolTokens int
	Info       ConversationInfo
}

// BuildRequest converts a Messages request into the vendor dialect.
// modelPrefix is the configurable routing prefix stripped from model
// names; cache supplies replay signatures for tool calls.
func BuildRequest(req *anthropic.MessagesRequest, modelPrefix string, cache *signature.Cache) (*gemini.Request, *RequestMeta) {
	model := NormalizeModel(req.Model, modelPrefix)
	family := FamilyOf(model)
	thinking := IsThinkingModel(model)

	meta := &RequestMeta{
		Model:     model,
		Family:    family,
		Thinking:  thinking,
		SessionID: SessionID(req.Messages),
		Info:      AnalyzeConversation(req.Messages, family == FamilyGemini),
	}

	opts := Options{
		Claude:     family == FamilyClaude,
		Gemini:     family == FamilyGemini,
		ToolNames:  BuildToolNameMap(req.Messages),
		Signatures: cache,
	}

	out := &gemini.Request{SessionID: meta.SessionID}
	out.SystemInstruction = buildSystemInstruction(req, family, thinking)
	out.Contents = buildContents(req.Messages, opts)
	out.Tools, meta.ToolCount, meta.ToolTokens = buildTools(req, family)
	out.GenerationConfig = buildGenerationConfig(req, family, thinking)
	return out, meta
}

func buildSystemInstruction(req *anthropic.MessagesRequest, family Family, thinking bool) *gemini.Content {
	var parts []gemini.Part
	if req.System != nil {
		if req.System.IsText {
			if req.System.Text != "" {
				parts = append(parts, gemini.Part{Text: req.System.Text})
			}
		} else {
			for _, b := range req.System.Blocks {
				if b.Type == anthropic.BlockText && strings.TrimSpace(b.Text) != "" {
					parts = append(parts, gemini.Part{Text: b.Text})
				}
			}
		}
	}
	if family == FamilyClaude && thinking && len(req.Tools) > 0 {
		parts = append(parts, gemini.Part{Text: interleavedThinkingHint})
	}
	if len(parts) == 0 {
		return nil
	}
	return &gemini.Content{Parts: parts}
}

func buildContents(messages []anthropic.Message, opts Options) []gemini.Content {
	contents := make([]gemini.Content, 0, len(messages))
	for _, m := range messages {
		blocks := m.Content.AsBlocks()
		if m.Role == "assistant" {
			blocks = RestoreSignatures(blocks, opts.Gemini)
			blocks = RemoveTrailingUnsigned(blocks)
			blocks = Reorder(blocks)
		}
		parts := ConvertBlocks(blocks, opts)
		if opts.Claude || opts.Gemini {
			parts = FilterUnsignedParts(parts)
		}
		// The upstream rejects contents with zero parts.
		if len(parts) == 0 {
			parts = []gemini.Part{{Text: ""}}
		}
		contents = append(contents, gemini.Content{Role: ConvertRole(m.Role), Parts: parts})
	}
	return contents
}

func buildGenerationConfig(req *anthropic.MessagesRequest, family Family, thinking bool) *gemini.GenerationConfig {
	cfg := &gemini.GenerationConfig{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = req.MaxTokens
		if family == FamilyGemini && cfg.MaxOutputTokens > geminiMaxOutputTokens {
			cfg.MaxOutputTokens = geminiMaxOutputTokens
		}
	}
	if thinking {
		budget := 0
		if req.Thinking != nil {
			budget = req.Thinking.BudgetTokens
		}
		switch family {
		case FamilyClaude:
			tc := map[string]interface{}{"include_thoughts": true}
			if budget > 0 {
				tc["thinking_budget"] = budget
			}
			cfg.ThinkingConfig = tc
		case FamilyGemini:
			if budget <= 0 {
				budget = defaultGeminiThinkingBudget
			}
			cfg.ThinkingConfig = map[string]interface{}{
				"includeThoughts": true,
				"thinkingBudget":  budget,
			}
		}
	}
	return cfg
}

func buildTools(req *anthropic.MessagesRequest, family Family) ([]gemini.Tool, int, int) {
	if len(req.Tools) == 0 {
		return nil, 0, 0
	}
	if req.ToolChoice != nil && req.ToolChoice.Type == "none" {
		return nil, 0, 0
	}

	var decls []gemini.FunctionDeclaration
	tokens := 0
	for _, t := range req.Tools {
		name, desc, params := toolShape(t)
		if name == "" {
			continue
		}
		if family == FamilyClaude {
			params = schema.SanitizePermissive(params)
		} else {
			params = schema.SanitizeAggressive(params)
		}
		decls = append(decls, gemini.FunctionDeclaration{
			Name:        exportToolName(name),
			Description: desc,
			Parameters:  params,
		})
		tokens += estimateToolTokens(name, desc, params)
	}
	if len(decls) == 0 {
		return nil, 0, 0
	}
	return []gemini.Tool{{FunctionDeclarations: decls}}, len(decls), tokens
}

// toolShape accepts both the native tool shape and the OpenAI function
// wrapper.
func toolShape(t anthropic.Tool) (string, string, map[string]interface{}) {
	name, desc, params := t.Name, t.Description, t.InputSchema
	if t.Function != nil {
		if name == "" {
			name = t.Function.Name
		}
		if desc == "" {
			desc = t.Function.Description
		}
		if params == nil {
			params = t.Function.Parameters
		}
	}
	return name, desc, params
}

// exportToolName restricts a tool name to the character set and length
// the upstream accepts.
func exportToolName(name string) string {
	name = toolNameRe.ReplaceAllString(name, "")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// estimateToolTokens approximates the prompt cost of one tool definition
// at four characters per token plus a fixed declaration overhead.
func estimateToolTokens(name, desc string, params map[string]interface{}) int {
	n := len(name) + len(desc)
	if params != nil {
		if raw, err := json.Marshal(params); err == nil {
			n += len(raw)
		}
	}
	return (n+3)/4 + 10
}

// SessionID derives a stable identifier for upstream cache affinity:
// the first 32 hex characters of the SHA-256 of the first user message's
// text, or a random UUID for conversations without one.
func SessionID(messages []anthropic.Message) string {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		var sb strings.Builder
		for _, b := range m.Content.AsBlocks() {
			if b.Type == anthropic.BlockText {
				sb.WriteString(b.Text)
			}
		}
		sum := sha256.Sum256([]byte(sb.String()))
		return hex.EncodeToString(sum[:])[:32]
	}
	return uuid.NewString()
}
