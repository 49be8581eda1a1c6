// Package convert translates between the Anthropic Messages surface, the
// OpenAI Chat Completions surface, and the Cloud Code vendor dialect:
// request bodies one way, responses and SSE streams the other. It also
// owns the thinking-block repair rules applied to conversation history
// before dispatch.
package convert

import (
	"fmt"
	"strings"

	"agproxy/internal/anthropic"
	"agproxy/internal/gemini"
	"agproxy/internal/signature"
)

// signatureSkipSentinel tells the upstream validator to accept a function
// call whose original thought signature is unknown.
const signatureSkipSentinel = "skip_thought_signature_validator"

const (
	defaultImageMime    = "image/jpeg"
	defaultDocumentMime = "application/pdf"
)

// Options carries per-request conversion state.
type Options struct {
	// Claude and Gemini flag the target model family. Both false means an
	// unrecognized family, converted with the defaults.
	Claude bool
	Gemini bool

	// ToolNames maps tool_use ids to tool names across the whole
	// conversation, for resolving tool_result blocks.
	ToolNames map[string]string

	// Signatures restores thought signatures for tool calls replayed by
	// clients that strip them.
	Signatures *signature.Cache
}

// ConvertRole maps an Anthropic role onto a vendor role. Anything that is
// not an assistant turn becomes a user turn.
func ConvertRole(role string) string {
	if role == "assistant" {
		return gemini.RoleModel
	}
	return gemini.RoleUser
}

// ConvertMessage converts one conversation turn into vendor content.
func ConvertMessage(msg anthropic.Message, opts Options) gemini.Content {
	return gemini.Content{
		Role:  ConvertRole(msg.Role),
		Parts: ConvertBlocks(msg.Content.AsBlocks(), opts),
	}
}

// ConvertBlocks converts block content into vendor parts. Blocks that
// cannot be represented (unsigned thinking, tool results without a
// resolvable name, redacted thinking) are dropped.
func ConvertBlocks(blocks []anthropic.ContentBlock, opts Options) []gemini.Part {
	var parts []gemini.Part
	for _, b := range blocks {
		switch b.Type {
		case anthropic.BlockText:
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
			parts = append(parts, gemini.Part{Text: b.Text})

		case anthropic.BlockImage:
			if p, ok := mediaPart(b.Source, defaultImageMime); ok {
				parts = append(parts, p)
			}

		case anthropic.BlockDocument:
			if p, ok := mediaPart(b.Source, defaultDocumentMime); ok {
				parts = append(parts, p)
			}

		case anthropic.BlockToolUse:
			parts = append(parts, toolUsePart(b, opts))

		case anthropic.BlockToolResult:
			parts = append(parts, toolResultParts(b, opts)...)

		case anthropic.BlockThinking:
			if !IsValidSignature(b.Signature, opts.Gemini) {
				continue
			}
			parts = append(parts, gemini.Part{
				Text:             b.Thinking,
				Thought:          true,
				ThoughtSignature: b.Signature,
			})
		}
	}
	return parts
}

func mediaPart(src *anthropic.Source, defaultMime string) (gemini.Part, bool) {
	if src == nil {
		return gemini.Part{}, false
	}
	mime := src.MediaType
	if mime == "" {
		mime = defaultMime
	}
	switch {
	case src.Type == "base64" || (src.Type == "" && src.Data != ""):
		return gemini.Part{InlineData: &gemini.Blob{MimeType: mime, Data: src.Data}}, true
	case src.Type == "url" || (src.Type == "" && src.URL != ""):
		return gemini.Part{FileData: &gemini.FileData{MimeType: mime, FileURI: src.URL}}, true
	}
	return gemini.Part{}, false
}

func toolUsePart(b anthropic.ContentBlock, opts Options) gemini.Part {
	call := &gemini.FunctionCall{Name: b.Name, Args: b.Input}
	if opts.Claude {
		call.ID = b.ID
	}
	part := gemini.Part{FunctionCall: call}
	if opts.Gemini {
		part.ThoughtSignature = replaySignature(b, opts.Signatures)
	}
	return part
}

// replaySignature picks the signature to send with a replayed function
// call: the one on the block, the cached one for its id, or the skip
// sentinel.
func replaySignature(b anthropic.ContentBlock, cache *signature.Cache) string {
	if b.Signature != "" {
		return b.Signature
	}
	if cache != nil {
		if sig, ok := cache.Get(b.ID); ok {
			return sig
		}
	}
	return signatureSkipSentinel
}

// toolResultParts converts a tool_result block. Claude-family targets get
// the result as plain text because the upstream handles functionResponse
// unreliably for them; everyone else gets a functionResponse part. Base64
// images inside the result become trailing inlineData parts either way.
func toolResultParts(b anthropic.ContentBlock, opts Options) []gemini.Part {
	name := b.Name
	if name == "" && opts.ToolNames != nil {
		name = opts.ToolNames[b.ToolUseID]
	}
	if name == "" {
		return nil
	}

	text, images := flattenToolResult(b.Content)

	var parts []gemini.Part
	if opts.Claude {
		parts = append(parts, gemini.Part{
			Text: fmt.Sprintf("[Tool Result for '%s': %s]", name, text),
		})
	} else {
		parts = append(parts, gemini.Part{
			FunctionResponse: &gemini.FunctionResponse{
				ID:       b.ToolUseID,
				Name:     name,
				Response: map[string]interface{}{"result": text},
			},
		})
	}
	parts = append(parts, images...)
	return parts
}

// flattenToolResult reduces tool_result content to a single string plus
// any base64 images found in block form. Text blocks join with newlines.
func flattenToolResult(content *anthropic.MessageContent) (string, []gemini.Part) {
	if content == nil {
		return "", nil
	}
	if content.IsText {
		return content.Text, nil
	}
	var texts []string
	var images []gemini.Part
	for _, b := range content.Blocks {
		switch b.Type {
		case anthropic.BlockText:
			texts = append(texts, b.Text)
		case anthropic.BlockImage:
			if b.Source != nil && b.Source.Data != "" {
				mime := b.Source.MediaType
				if mime == "" {
					mime = defaultImageMime
				}
				images = append(images, gemini.Part{
					InlineData: &gemini.Blob{MimeType: mime, Data: b.Source.Data},
				})
			}
		}
	}
	return strings.Join(texts, "\n"), images
}

// BuildToolNameMap indexes tool names by tool_use id across the whole
// conversation. Assistant tool_use blocks win over names carried on
// user tool_result blocks.
func BuildToolNameMap(messages []anthropic.Message) map[string]string {
	names := map[string]string{}
	for _, m := range messages {
		for _, b := range m.Content.AsBlocks() {
			switch b.Type {
			case anthropic.BlockToolUse:
				if b.ID != "" && b.Name != "" {
					names[b.ID] = b.Name
				}
			case anthropic.BlockToolResult:
				if b.ToolUseID != "" && b.Name != "" {
					if _, ok := names[b.ToolUseID]; !ok {
						names[b.ToolUseID] = b.Name
					}
				}
			}
		}
	}
	return names
}
