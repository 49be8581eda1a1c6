package convert

import (
	"strings"

	"agproxy/internal/anthropic"
	"agproxy/internal/gemini"
)

// MinSignatureLength is the shortest thought signature the upstream
// accepts as genuine.
const MinSignatureLength = 50

// Placeholder signatures some gemini responses attach instead of a real
// signature. They count as valid only for gemini-family targets.
var placeholderSignatures = map[string]bool{
	"gemini-thought-signature":     true,
	"gemini-signature-placeholder": true,
}

// IsValidSignature reports whether a thought signature will pass upstream
// validation. Gemini-family targets additionally accept the known
// placeholder values.
func IsValidSignature(sig string, geminiFamily bool) bool {
	if len(sig) >= MinSignatureLength {
		return true
	}
	return geminiFamily && placeholderSignatures[sig]
}

func isValidSignatureAnyFamily(sig string) bool {
	return len(sig) >= MinSignatureLength || placeholderSignatures[sig]
}

// RestoreSignatures drops thinking blocks without a valid signature and
// strips surviving ones down to the three fields the upstream understands.
// Non-thinking blocks pass through untouched.
func RestoreSignatures(blocks []anthropic.ContentBlock, geminiFamily bool) []anthropic.ContentBlock {
	out := make([]anthropic.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Type != anthropic.BlockThinking {
			out = append(out, b)
			continue
		}
		if !IsValidSignature(b.Signature, geminiFamily) {
			continue
		}
		out = append(out, anthropic.ContentBlock{
			Type:      anthropic.BlockThinking,
			Thinking:  b.Thinking,
			Signature: b.Signature,
		})
	}
	return out
}

// RemoveTrailingUnsigned strips unsigned thinking blocks from the tail of
// an assistant message. The walk stops at the first non-thinking block or
// the first signed thinking block.
func RemoveTrailingUnsigned(blocks []anthropic.ContentBlock) []anthropic.ContentBlock {
	end := len(blocks)
	for end > 0 {
		b := blocks[end-1]
		if b.Type != anthropic.BlockThinking || isValidSignatureAnyFamily(b.Signature) {
			break
		}
		end--
	}
	return blocks[:end]
}

// Reorder rearranges assistant content into thinking, then text, then
// tool_use, preserving relative order inside each group. Text blocks that
// are empty after trimming are dropped. Block types outside the three
// groups keep their place in the middle group.
func Reorder(blocks []anthropic.ContentBlock) []anthropic.ContentBlock {
	var thinking, middle, toolUse []anthropic.ContentBlock
	for _, b := range blocks {
		switch b.Type {
		case anthropic.BlockThinking, anthropic.BlockRedactedThinking:
			thinking = append(thinking, b)
		case anthropic.BlockToolUse:
			toolUse = append(toolUse, b)
		case anthropic.BlockText:
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
			middle = append(middle, b)
		default:
			middle = append(middle, b)
		}
	}
	out := make([]anthropic.ContentBlock, 0, len(thinking)+len(middle)+len(toolUse))
	out = append(out, thinking...)
	out = append(out, middle...)
	out = append(out, toolUse...)
	return out
}

// FilterUnsignedParts removes vendor thought parts whose signature would
// fail upstream validation. Non-thought parts are kept as is.
func FilterUnsignedParts(parts []gemini.Part) []gemini.Part {
	out := make([]gemini.Part, 0, len(parts))
	for _, p := range parts {
		if p.Thought && !isValidSignatureAnyFamily(p.ThoughtSignature) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ConversationInfo summarizes the tool and thinking state of a
// conversation for diagnostic logging. The converters never mutate history
// based on it.
type ConversationInfo struct {
	InToolLoop           bool
	InterruptedTool      bool
	TurnHasValidThinking bool
}

// AnalyzeConversation inspects the last assistant turn and what follows
// it.
func AnalyzeConversation(messages []anthropic.Message, geminiFamily bool) ConversationInfo {
	var info ConversationInfo
	lastAssistant := -1
	for i, m := range messages {
		if m.Role == "assistant" {
			lastAssistant = i
		}
	}
	if lastAssistant < 0 {
		return info
	}

	hasToolUse := false
	for _, b := range messages[lastAssistant].Content.AsBlocks() {
		switch b.Type {
		case anthropic.BlockToolUse:
			hasToolUse = true
		case anthropic.BlockThinking:
			if IsValidSignature(b.Signature, geminiFamily) {
				info.TurnHasValidThinking = true
			}
		}
	}
	if !hasToolUse {
		return info
	}

	sawResult := false
	sawPlainUser := false
	for _, m := range messages[lastAssistant+1:] {
		plain := m.Role == "user"
		for _, b := range m.Content.AsBlocks() {
			if b.Type == anthropic.BlockToolResult {
				sawResult = true
				plain = false
			}
		}
		if plain {
			sawPlainUser = true
		}
	}
	info.InToolLoop = sawResult
	info.InterruptedTool = !sawResult && sawPlainUser
	return info
}
