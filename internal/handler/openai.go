package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"agproxy/internal/anthropic"
	"agproxy/internal/apierr"
	"agproxy/internal/convert"
	"agproxy/internal/gemini"
	"agproxy/internal/openai"
)

// ChatCompletions handles POST /chat/completions. The request is
// converted to the Anthropic shape, dispatched through the same path as
// Messages, and the response translated back.
func (h *ProxyHandler) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, openai.NewErrorResponse(apierr.TypeInvalidRequest, "failed to read request body"))
		return
	}

	var req openai.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, openai.NewErrorResponse(apierr.TypeInvalidRequest, "invalid request body: "+err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, openai.NewErrorResponse(apierr.TypeInvalidRequest, "messages: at least one message is required"))
		return
	}

	h.resetIfAllLimited()

	areq := convert.ToMessagesRequest(&req)
	greq, meta := convert.BuildRequest(areq, h.prefix, h.cache)
	h.metrics.RecordToolTokens(meta.Model, meta.ToolTokens)
	logConversationState(meta)
	start := time.Now()

	ctx := c.Request.Context()
	if err := h.throttle.Wait(ctx, meta.Family); err != nil {
		h.finish(c, meta, req.Stream, body, start, 0, "", err)
		return
	}

	if req.Stream {
		h.streamChat(c, meta, greq, body, start)
		return
	}

	resp, served, err := h.client.Generate(ctx, meta, greq)
	if err != nil {
		status := h.chatFailure(c, err)
		h.finish(c, meta, false, body, start, status, served, err)
		return
	}

	out := convert.FromMessagesResponse(convert.BuildMessagesResponse(meta.Model, resp, h.cache))
	h.metrics.RecordTokens(meta.Model, int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens))
	c.JSON(http.StatusOK, out)
	h.finish(c, meta, false, body, start, http.StatusOK, served, nil)
}

// streamChat is the OpenAI flavor of the SSE path: bare data frames and
// a closing [DONE] sentinel instead of named events.
func (h *ProxyHandler) streamChat(c *gin.Context, meta *convert.RequestMeta, greq *gemini.Request, body []byte, start time.Time) {
	state := convert.NewStreamState(meta.Model, h.cache)
	translator := convert.NewChunkTranslator(meta.Model)
	headerSent := false

	served, err := h.client.Stream(c.Request.Context(), meta, greq, func(chunk *gemini.Response) error {
		if !headerSent {
			writeSSEHeaders(c)
			headerSent = true
		}
		return writeChunks(c, translator, state.Feed(chunk))
	})

	if err != nil {
		if !headerSent {
			status := h.chatFailure(c, err)
			h.finish(c, meta, true, body, start, status, served, err)
			return
		}
		writeData(c, openai.NewErrorResponse(classifyType(err), err.Error()))
		c.Writer.Flush()
		h.finish(c, meta, true, body, start, http.StatusOK, served, err)
		return
	}

	if !headerSent {
		writeSSEHeaders(c)
	}
	if err := writeChunks(c, translator, state.Close()); err != nil {
		h.finish(c, meta, true, body, start, http.StatusOK, served, err)
		return
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
	u := state.Usage()
	h.metrics.RecordTokens(meta.Model, int64(u.InputTokens+u.CacheReadInputTokens), int64(u.OutputTokens))
	h.finish(c, meta, true, body, start, http.StatusOK, served, nil)
}

func writeChunks(c *gin.Context, translator *convert.ChunkTranslator, events []anthropic.Event) error {
	wrote := false
	for _, ev := range events {
		chunk := translator.Translate(ev)
		if chunk == nil {
			continue
		}
		if err := writeData(c, chunk); err != nil {
			return err
		}
		wrote = true
	}
	if wrote {
		c.Writer.Flush()
	}
	return nil
}

// chatFailure is messagesFailure with the OpenAI error envelope.
func (h *ProxyHandler) chatFailure(c *gin.Context, err error) int {
	if c.Request.Context().Err() != nil {
		return 0
	}
	status, errType := apierr.HTTPStatus(err)
	log.Error().Err(err).Int("status", status).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(status, openai.NewErrorResponse(errType, err.Error()))
	return status
}

func writeData(c *gin.Context, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
	return err
}
