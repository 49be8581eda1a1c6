package convert

import (
	"encoding/json"
	"strings"

	"agproxy/internal/anthropic"
	"agproxy/internal/gemini"
	"agproxy/internal/signature"
)

// StreamState turns a sequence of vendor stream chunks into the
// Anthropic event sequence: message_start on the first part, content
// blocks bracketed by start/stop events as the part type changes, and a
// closing message_delta/message_stop pair from Close.
type StreamState struct {
	model string
	cache *signature.Cache

	started      bool
	messageID    string
	blockIndex   int
	blockType    string
	thinkingSig  string
	sawToolUse   bool
	finishReason string
	usage        *gemini.UsageMetadata
}

// NewStreamState builds a StreamState for one response stream.
func NewStreamState(model string, cache *signature.Cache) *StreamState {
	return &StreamState{model: model, cache: cache}
}

// MessageID returns the generated message id, empty until the first part
// arrives.
func (s *StreamState) MessageID() string {
	return s.messageID
}

// Usage reports the accumulated usage. The vendor attaches usageMetadata
// to its final chunk, so the value is complete only once the stream has
// ended.
func (s *StreamState) Usage() anthropic.Usage {
	return UsageFromMetadata(s.usage)
}

// Feed consumes one vendor chunk and returns the events it produces.
func (s *StreamState) Feed(resp *gemini.Response) []anthropic.Event {
	var events []anthropic.Event
	if resp.UsageMetadata != nil {
		s.usage = resp.UsageMetadata
	}
	if len(resp.Candidates) == 0 {
		return events
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		s.finishReason = cand.FinishReason
	}
	if cand.Content == nil {
		return events
	}
	for _, p := range cand.Content.Parts {
		s.feedPart(p, &events)
	}
	return events
}

func (s *StreamState) feedPart(p gemini.Part, events *[]anthropic.Event) {
	switch {
	case p.FunctionCall != nil:
		s.ensureStarted(events)
		s.closeBlock(events)

		id := p.FunctionCall.ID
		if id == "" {
			id = NewToolUseID()
		}
		block := anthropic.ContentBlock{
			Type:  anthropic.BlockToolUse,
			ID:    id,
			Name:  p.FunctionCall.Name,
			Input: map[string]interface{}{},
		}
		if isValidSignatureAnyFamily(p.ThoughtSignature) {
			block.Signature = p.ThoughtSignature
			if s.cache != nil {
				s.cache.Put(id, p.ThoughtSignature)
			}
		}
		s.openBlock(anthropic.BlockToolUse, block, events)

		args := "{}"
		if p.FunctionCall.Args != nil {
			if raw, err := json.Marshal(p.FunctionCall.Args); err == nil {
				args = string(raw)
			}
		}
		*events = append(*events, deltaEvent(s.blockIndex, anthropic.Delta{
			Type:        anthropic.DeltaInputJSON,
			PartialJSON: args,
		}))
		s.sawToolUse = true

	case p.Thought:
		s.ensureStarted(events)
		if s.blockType != anthropic.BlockThinking {
			s.closeBlock(events)
			s.openBlock(anthropic.BlockThinking, anthropic.ContentBlock{Type: anthropic.BlockThinking}, events)
		}
		if p.Text != "" {
			*events = append(*events, deltaEvent(s.blockIndex, anthropic.Delta{
				Type:     anthropic.DeltaThinking,
				Thinking: p.Text,
			}))
		}
		if len(p.ThoughtSignature) > len(s.thinkingSig) {
			s.thinkingSig = p.ThoughtSignature
		}

	case p.InlineData != nil || p.FileData != nil || p.FunctionResponse != nil:
		// Not expected in responses.

	default:
		if strings.TrimSpace(p.Text) == "" {
			return
		}
		s.ensureStarted(events)
		if s.blockType != anthropic.BlockText {
			s.closeBlock(events)
			s.openBlock(anthropic.BlockText, anthropic.ContentBlock{Type: anthropic.BlockText}, events)
		}
		*events = append(*events, deltaEvent(s.blockIndex, anthropic.Delta{
			Type: anthropic.DeltaText,
			Text: p.Text,
		}))
	}
}

// Close ends the stream: the open block is closed, then message_delta
// with the mapped stop reason and final usage, then message_stop. When
// no part ever arrived a minimal message with one empty text block is
// synthesized first.
func (s *StreamState) Close() []anthropic.Event {
	var events []anthropic.Event
	if !s.started {
		s.ensureStarted(&events)
		s.openBlock(anthropic.BlockText, anthropic.ContentBlock{Type: anthropic.BlockText}, &events)
	}
	s.closeBlock(&events)

	usage := UsageFromMetadata(s.usage)
	events = append(events, anthropic.Event{
		Name: "message_delta",
		Data: anthropic.MessageDeltaEvent{
			Type:  "message_delta",
			Delta: anthropic.MessageDelta{StopReason: StopReasonFrom(s.finishReason, s.sawToolUse)},
			Usage: &anthropic.Usage{
				OutputTokens:         usage.OutputTokens,
				CacheReadInputTokens: usage.CacheReadInputTokens,
			},
		},
	})
	events = append(events, anthropic.Event{
		Name: "message_stop",
		Data: anthropic.MessageStopEvent{Type: "message_stop"},
	})
	return events
}

func (s *StreamState) ensureStarted(events *[]anthropic.Event) {
	if s.started {
		return
	}
	s.started = true
	s.messageID = NewMessageID()
	usage := UsageFromMetadata(s.usage)
	usage.OutputTokens = 0
	*events = append(*events, anthropic.Event{
		Name: "message_start",
		Data: anthropic.MessageStartEvent{
			Type: "message_start",
			Message: anthropic.MessagesResponse{
				ID:      s.messageID,
				Type:    "message",
				Role:    "assistant",
				Model:   s.model,
				Content: []anthropic.ContentBlock{},
				Usage:   usage,
			},
		},
	})
}

func (s *StreamState) openBlock(blockType string, block anthropic.ContentBlock, events *[]anthropic.Event) {
	*events = append(*events, anthropic.Event{
		Name: "content_block_start",
		Data: anthropic.ContentBlockStartEvent{
			Type:         "content_block_start",
			Index:        s.blockIndex,
			ContentBlock: block,
		},
	})
	s.blockType = blockType
}

func (s *StreamState) closeBlock(events *[]anthropic.Event) {
	if s.blockType == "" {
		return
	}
	if s.blockType == anthropic.BlockThinking && s.thinkingSig != "" {
		*events = append(*events, deltaEvent(s.blockIndex, anthropic.Delta{
			Type:      anthropic.DeltaSignature,
			Signature: s.thinkingSig,
		}))
		s.thinkingSig = ""
	}
	*events = append(*events, anthropic.Event{
		Name: "content_block_stop",
		Data: anthropic.ContentBlockStopEvent{Type: "content_block_stop", Index: s.blockIndex},
	})
	s.blockIndex++
	s.blockType = ""
}

func deltaEvent(index int, delta anthropic.Delta) anthropic.Event {
	return anthropic.Event{
		Name: "content_block_delta",
		Data: anthropic.ContentBlockDeltaEvent{
			Type:  "content_block_delta",
			Index: index,
			Delta: delta,
		},
	}
}
