package convert

import (
	"strings"

	"github.com/google/uuid"

	"agproxy/internal/anthropic"
	"agproxy/internal/gemini"
	"agproxy/internal/signature"
)

// NewMessageID generates a message id in the msg_<32 hex> form.
func NewMessageID() string {
	return "msg_" + randomHex(32)
}

// NewToolUseID generates a tool_use id in the toolu_<24 hex> form.
func NewToolUseID() string {
	return "toolu_" + randomHex(24)
}

func randomHex(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	for len(hex) < n {
		hex += strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return hex[:n]
}

// BlocksFromParts converts vendor response parts into Anthropic content
// blocks, reporting whether any tool_use block was produced. Valid
// signatures on function calls are stored in the cache for replay.
func BlocksFromParts(parts []gemini.Part, cache *signature.Cache) ([]anthropic.ContentBlock, bool) {
	var blocks []anthropic.ContentBlock
	sawToolUse := false
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = NewToolUseID()
			}
			b := anthropic.ContentBlock{
				Type:  anthropic.BlockToolUse,
				ID:    id,
				Name:  p.FunctionCall.Name,
				Input: p.FunctionCall.Args,
			}
			if isValidSignatureAnyFamily(p.ThoughtSignature) {
				b.Signature = p.ThoughtSignature
				if cache != nil {
					cache.Put(id, p.ThoughtSignature)
				}
			}
			blocks = append(blocks, b)
			sawToolUse = true

		case p.Thought:
			blocks = append(blocks, anthropic.ContentBlock{
				Type:      anthropic.BlockThinking,
				Thinking:  p.Text,
				Signature: p.ThoughtSignature,
			})

		case p.InlineData == nil && p.FileData == nil && p.FunctionResponse == nil:
			blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockText, Text: p.Text})
		}
	}
	return blocks, sawToolUse
}

// StopReasonFrom maps a vendor finish reason onto an Anthropic stop
// reason. Any tool use forces tool_use regardless of the reported reason.
func StopReasonFrom(finish string, sawToolUse bool) string {
	if sawToolUse || finish == gemini.FinishToolUse {
		return anthropic.StopToolUse
	}
	switch finish {
	case gemini.FinishMaxTokens:
		return anthropic.StopMaxTokens
	default:
		return anthropic.StopEndTurn
	}
}

// UsageFromMetadata translates vendor token accounting. The vendor's
// prompt count includes cached content, so input_tokens is the
// difference.
func UsageFromMetadata(md *gemini.UsageMetadata) anthropic.Usage {
	if md == nil {
		return anthropic.Usage{}
	}
	input := md.PromptTokenCount - md.CachedContentTokenCount
	if input < 0 {
		input = 0
	}
	return anthropic.Usage{
		InputTokens:          input,
		OutputTokens:         md.CandidatesTokenCount,
		CacheReadInputTokens: md.CachedContentTokenCount,
	}
}

// BuildMessagesResponse converts one vendor response into a
// non-streaming Messages response.
func BuildMessagesResponse(model string, resp *gemini.Response, cache *signature.Cache) *anthropic.MessagesResponse {
	var parts []gemini.Part
	finish := ""
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		finish = cand.FinishReason
		if cand.Content != nil {
			parts = cand.Content.Parts
		}
	}

	blocks, sawToolUse := BlocksFromParts(parts, cache)
	if len(blocks) == 0 {
		blocks = []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: ""}}
	}
	return &anthropic.MessagesResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    blocks,
		StopReason: StopReasonFrom(finish, sawToolUse),
		Usage:      UsageFromMetadata(resp.UsageMetadata),
	}
}

// Collector reassembles a streamed response into a single vendor
// response object, for thinking-capable models that only deliver full
// content over SSE. Consecutive thinking parts merge into one carrying
// the longest signature seen; consecutive text parts merge into one.
type Collector struct {
	parts        []gemini.Part
	thinkingText strings.Builder
	thinkingSig  string
	text         strings.Builder
	finish       string
	usage        *gemini.UsageMetadata
	modelVersion string
	responseID   string
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add folds one stream chunk into the collector.
func (c *Collector) Add(resp *gemini.Response) {
	if resp.UsageMetadata != nil {
		c.usage = resp.UsageMetadata
	}
	if resp.ModelVersion != "" {
		c.modelVersion = resp.ModelVersion
	}
	if resp.ResponseID != "" {
		c.responseID = resp.ResponseID
	}
	if len(resp.Candidates) == 0 {
		return
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		c.finish = cand.FinishReason
	}
	if cand.Content == nil {
		return
	}
	for _, p := range cand.Content.Parts {
		switch {
		case p.Thought:
			c.thinkingText.WriteString(p.Text)
			if len(p.ThoughtSignature) > len(c.thinkingSig) {
				c.thinkingSig = p.ThoughtSignature
			}
		case p.FunctionCall != nil:
			c.flushThinking()
			c.flushText()
			c.parts = append(c.parts, p)
		case p.InlineData != nil || p.FileData != nil || p.FunctionResponse != nil:
			c.flushThinking()
			c.flushText()
			c.parts = append(c.parts, p)
		default:
			c.flushThinking()
			c.text.WriteString(p.Text)
		}
	}
}

func (c *Collector) flushThinking() {
	if c.thinkingText.Len() == 0 && c.thinkingSig == "" {
		return
	}
	c.parts = append(c.parts, gemini.Part{
		Text:             c.thinkingText.String(),
		Thought:          true,
		ThoughtSignature: c.thinkingSig,
	})
	c.thinkingText.Reset()
	c.thinkingSig = ""
}

func (c *Collector) flushText() {
	if c.text.Len() == 0 {
		return
	}
	c.parts = append(c.parts, gemini.Part{Text: c.text.String()})
	c.text.Reset()
}

// Response returns the reconstructed vendor response.
func (c *Collector) Response() *gemini.Response {
	c.flushThinking()
	c.flushText()
	return &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: gemini.RoleModel, Parts: c.parts},
			FinishReason: c.finish,
		}},
		UsageMetadata: c.usage,
		ModelVersion:  c.modelVersion,
		ResponseID:    c.responseID,
	}
}
