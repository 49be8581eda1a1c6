// Package handler implements the HTTP surface of the proxy: the
// Anthropic Messages endpoint, the OpenAI compatibility endpoint, the
// model catalog, and the operational endpoints.
package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"agproxy/internal/account"
	"agproxy/internal/anthropic"
	"agproxy/internal/apierr"
	"agproxy/internal/convert"
	"agproxy/internal/gemini"
	"agproxy/internal/history"
	"agproxy/internal/metrics"
	"agproxy/internal/signature"
	"agproxy/internal/throttle"
	"agproxy/internal/upstream"
)

// ProxyHandler serves the model-invoking endpoints. All state lives in
// the injected services; the handler itself is stateless.
type ProxyHandler struct {
	pool     *account.Pool
	client   *upstream.Client
	cache    *signature.Cache
	throttle *throttle.Throttle
	history  *history.Ring
	metrics  *metrics.Metrics
	prefix   string
}

// ProxyConfig collects the services a ProxyHandler needs.
type ProxyConfig struct {
	Pool        *account.Pool
	Client      *upstream.Client
	Signatures  *signature.Cache
	Throttle    *throttle.Throttle
	History     *history.Ring
	Metrics     *metrics.Metrics
	ModelPrefix string
}

func NewProxyHandler(cfg ProxyConfig) *ProxyHandler {
	return &ProxyHandler{
		pool:     cfg.Pool,
		client:   cfg.Client,
		cache:    cfg.Signatures,
		throttle: cfg.Throttle,
		history:  cfg.History,
		metrics:  cfg.Metrics,
		prefix:   cfg.ModelPrefix,
	}
}

// Messages handles POST /v1/messages.
func (h *ProxyHandler) Messages(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.messagesError(c, http.StatusBadRequest, apierr.TypeInvalidRequest, "failed to read request body")
		return
	}

	var req anthropic.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.messagesError(c, http.StatusBadRequest, apierr.TypeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		h.messagesError(c, http.StatusBadRequest, apierr.TypeInvalidRequest, "messages: at least one message is required")
		return
	}

	h.resetIfAllLimited()

	greq, meta := convert.BuildRequest(&req, h.prefix, h.cache)
	h.metrics.RecordToolTokens(meta.Model, meta.ToolTokens)
	logConversationState(meta)
	start := time.Now()

	ctx := c.Request.Context()
	if err := h.throttle.Wait(ctx, meta.Family); err != nil {
		h.finish(c, meta, req.Stream, body, start, 0, "", err)
		return
	}

	if req.Stream {
		h.streamMessages(c, meta, greq, body, start)
		return
	}

	resp, served, err := h.client.Generate(ctx, meta, greq)
	if err != nil {
		status := h.messagesFailure(c, err)
		h.finish(c, meta, false, body, start, status, served, err)
		return
	}

	out := convert.BuildMessagesResponse(meta.Model, resp, h.cache)
	h.metrics.RecordTokens(meta.Model,
		int64(out.Usage.InputTokens+out.Usage.CacheReadInputTokens),
		int64(out.Usage.OutputTokens))
	c.JSON(http.StatusOK, out)
	h.finish(c, meta, false, body, start, http.StatusOK, served, nil)
}

// streamMessages drives the SSE path. Response headers are held back
// until the first upstream chunk so dispatch failures still produce a
// proper JSON error status.
func (h *ProxyHandler) streamMessages(c *gin.Context, meta *convert.RequestMeta, greq *gemini.Request, body []byte, start time.Time) {
	state := convert.NewStreamState(meta.Model, h.cache)
	headerSent := false

	served, err := h.client.Stream(c.Request.Context(), meta, greq, func(chunk *gemini.Response) error {
		if !headerSent {
			writeSSEHeaders(c)
			headerSent = true
		}
		return h.writeEvents(c, state.Feed(chunk))
	})

	if err != nil {
		if !headerSent {
			status := h.messagesFailure(c, err)
			h.finish(c, meta, true, body, start, status, served, err)
			return
		}
		// The stream is already under way; all that is left is to tell
		// the client before closing.
		errType := classifyType(err)
		writeSSE(c, "error", anthropic.NewErrorResponse(errType, err.Error()))
		c.Writer.Flush()
		h.finish(c, meta, true, body, start, http.StatusOK, served, err)
		return
	}

	if !headerSent {
		writeSSEHeaders(c)
	}
	if err := h.writeEvents(c, state.Close()); err != nil {
		h.finish(c, meta, true, body, start, http.StatusOK, served, err)
		return
	}
	u := state.Usage()
	h.metrics.RecordTokens(meta.Model, int64(u.InputTokens+u.CacheReadInputTokens), int64(u.OutputTokens))
	h.finish(c, meta, true, body, start, http.StatusOK, served, nil)
}

// CountTokens handles POST /v1/messages/count_tokens. The upstream has
// no token-counting surface, so the endpoint is declared unimplemented
// rather than guessed at.
func (h *ProxyHandler) CountTokens(c *gin.Context) {
	c.JSON(http.StatusNotImplemented,
		anthropic.NewErrorResponse(apierr.TypeAPI, "count_tokens is not supported"))
}

// resetIfAllLimited clears rate-limit flags once when the whole pool is
// cooling down. Upstream quotas often recover before the advertised
// reset, and the dispatch loop re-marks accounts that are still limited.
func (h *ProxyHandler) resetIfAllLimited() {
	if !h.pool.IsAllRateLimited() {
		return
	}
	n := h.pool.ResetAllRateLimits()
	log.Info().Int("accounts", n).Msg("all accounts rate limited, optimistically clearing flags")
}

// writeEvents emits one batch of Anthropic stream events and flushes.
func (h *ProxyHandler) writeEvents(c *gin.Context, events []anthropic.Event) error {
	for _, ev := range events {
		if err := writeSSE(c, ev.Name, ev.Data); err != nil {
			return err
		}
	}
	if len(events) > 0 {
		c.Writer.Flush()
	}
	return nil
}

// finish records one completed request in metrics and history.
func (h *ProxyHandler) finish(c *gin.Context, meta *convert.RequestMeta, stream bool, body []byte, start time.Time, status int, served string, err error) {
	elapsed := time.Since(start)
	h.metrics.RecordRequest(meta.Model, served, metrics.Outcome(err), elapsed)

	rec := history.RequestRecord{
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		Model:      meta.Model,
		Account:    served,
		Status:     status,
		DurationMs: elapsed.Milliseconds(),
		Stream:     stream,
		Body:       history.Redact(body, 0),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	h.history.Add(rec)
}

func (h *ProxyHandler) messagesError(c *gin.Context, status int, errType, msg string) {
	c.JSON(status, anthropic.NewErrorResponse(errType, msg))
}

// messagesFailure maps a dispatch error onto the client-facing status
// and writes the Anthropic-shaped error body. It returns the status for
// the request record. Nothing is written when the client already went
// away.
func (h *ProxyHandler) messagesFailure(c *gin.Context, err error) int {
	if c.Request.Context().Err() != nil {
		return 0
	}
	status, errType := apierr.HTTPStatus(err)
	log.Error().Err(err).Int("status", status).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(status, anthropic.NewErrorResponse(errType, err.Error()))
	return status
}

func classifyType(err error) string {
	_, errType := apierr.HTTPStatus(err)
	return errType
}

// logConversationState emits a debug line when the history ends in a
// tool loop or an interrupted tool call. Plain turns log nothing.
func logConversationState(meta *convert.RequestMeta) {
	if !meta.Info.InToolLoop && !meta.Info.InterruptedTool {
		return
	}
	log.Debug().
		Str("model", meta.Model).
		Bool("in_tool_loop", meta.Info.InToolLoop).
		Bool("interrupted_tool", meta.Info.InterruptedTool).
		Bool("valid_thinking", meta.Info.TurnHasValidThinking).
		Msg("conversation state")
}

func writeSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

func writeSSE(c *gin.Context, name string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, payload)
	return err
}
