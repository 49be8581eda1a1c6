// Package upstream dispatches vendor requests across the account pool and
// the endpoint list, with bounded retries and rate-limit bookkeeping.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/imroc/req/v3"
	"github.com/rs/zerolog/log"

	"agproxy/internal/account"
	"agproxy/internal/apierr"
	"agproxy/internal/convert"
	"agproxy/internal/gemini"
)

// Config controls dispatch behavior.
type Config struct {
	// Endpoints are the base URLs tried in order for every attempt.
	Endpoints []string
	// MaxWait is the longest pool cooldown worth waiting out in-band.
	MaxWait time.Duration
	// MaxRetries floors the dispatch attempt budget; the effective limit
	// is the larger of MaxRetries and accounts+1.
	MaxRetries int
}

// Client sends enveloped requests to the v1internal service.
type Client struct {
	pool *account.Pool
	http *req.Client
	cfg  Config
}

// New builds an upstream client over the given pool and HTTP client.
func New(pool *account.Pool, httpClient *req.Client, cfg Config) *Client {
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = gemini.DefaultEndpoints
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Client{pool: pool, http: httpClient, cfg: cfg}
}

// Generate performs one completion and returns the full response along
// with the email of the account that served it. Thinking models only
// answer on the streaming endpoint, so their responses are collected
// from the stream.
func (c *Client) Generate(ctx context.Context, meta *convert.RequestMeta, greq *gemini.Request) (*gemini.Response, string, error) {
	if meta.Thinking {
		collector := convert.NewCollector()
		served, err := c.dispatch(ctx, meta, greq, true, func(resp *req.Response) error {
			return readSSE(ctx, resp.Body, func(chunk *gemini.Response) error {
				collector.Add(chunk)
				return nil
			})
		})
		if err != nil {
			return nil, served, err
		}
		return collector.Response(), served, nil
	}

	var result *gemini.Response
	served, err := c.dispatch(ctx, meta, greq, false, func(resp *req.Response) error {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &apierr.Transport{Cause: err}
		}
		out, err := gemini.Unwrap(body)
		if err != nil {
			return fmt.Errorf("decode upstream response: %w", err)
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, served, err
	}
	return result, served, nil
}

// Stream performs one completion on the streaming endpoint, handing each
// chunk to fn. Once the first chunk is delivered no retry is possible.
// The returned string is the serving account's email.
func (c *Client) Stream(ctx context.Context, meta *convert.RequestMeta, greq *gemini.Request, fn func(*gemini.Response) error) (string, error) {
	return c.dispatch(ctx, meta, greq, true, func(resp *req.Response) error {
		return readSSE(ctx, resp.Body, fn)
	})
}

// dispatch runs the outer retry loop: select an account, then sweep the
// endpoint list. Rate-limit and auth failures rotate accounts; anything
// else aborts. It returns the email of the account that served the
// request, or of the last one tried when every attempt failed.
func (c *Client) dispatch(ctx context.Context, meta *convert.RequestMeta, greq *gemini.Request, stream bool, consume func(*req.Response) error) (string, error) {
	maxAttempts := c.cfg.MaxRetries
	if n := c.pool.Len() + 1; n > maxAttempts {
		maxAttempts = n
	}

	var lastEmail string
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastEmail, err
		}
		acct, err := c.selectAccount(ctx)
		if err != nil {
			return lastEmail, err
		}
		lastEmail = acct.Email

		err = c.attempt(ctx, acct, meta, greq, stream, consume)
		if err == nil {
			return acct.Email, nil
		}
		lastErr = err

		if apierr.IsRateLimited(err) || apierr.IsAuthInvalid(err) {
			log.Warn().Err(err).Str("email", acct.Email).Int("attempt", attempt).Msg("rotating account")
			continue
		}
		return acct.Email, err
	}
	return lastEmail, &apierr.MaxRetries{Attempts: maxAttempts, Last: lastErr}
}

// selectAccount applies the sticky policy, sleeping out short cooldowns.
// When every account is cooling down past the wait ceiling the request
// fails fast with the minimum reset.
func (c *Client) selectAccount(ctx context.Context) (*account.Account, error) {
	for {
		acct, wait := c.pool.PickSticky()
		if acct != nil {
			return acct, nil
		}
		if c.pool.IsAllRateLimited() {
			minWait := c.pool.MinWait()
			if minWait > c.cfg.MaxWait {
				return nil, &apierr.RateLimited{ResetMs: minWait.Milliseconds()}
			}
			if wait <= 0 {
				wait = minWait
			}
		}
		if wait <= 0 {
			return nil, &apierr.NoAccounts{}
		}
		log.Info().Dur("wait", wait).Msg("waiting out sticky account cooldown")
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attempt sends the envelope to each endpoint in order for one account.
func (c *Client) attempt(ctx context.Context, acct *account.Account, meta *convert.RequestMeta, greq *gemini.Request, stream bool, consume func(*req.Response) error) error {
	token, err := c.pool.Token(ctx, acct.Email)
	if err != nil {
		return err
	}
	project, err := c.pool.Project(ctx, acct.Email, token)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(&gemini.Envelope{
		Project:   project,
		Model:     meta.Model,
		Request:   greq,
		UserAgent: gemini.EnvelopeUserAgent,
		RequestID: gemini.RequestIDPrefix + uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	metadataJSON, err := json.Marshal(gemini.ClientMetadata())
	if err != nil {
		return err
	}

	var lastErr error
	tried, limited := 0, 0
	minReset := time.Duration(0)

	for _, base := range c.cfg.Endpoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		tried++

		url := gemini.GenerateURL(base)
		if stream {
			url = gemini.StreamURL(base)
		}

		r := c.http.R().
			SetContext(ctx).
			SetBodyBytes(payload).
			SetHeader("Authorization", "Bearer "+token).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", gemini.UserAgent).
			SetHeader(gemini.APIClientHeader, gemini.APIClientValue).
			SetHeader(gemini.MetadataHeader, string(metadataJSON))
		if meta.Family == convert.FamilyClaude && meta.Thinking {
			r.SetHeader(gemini.AnthropicBetaHeader, gemini.InterleavedThinkingBeta)
		}
		r.DisableAutoReadResponse()

		resp, err := r.Post(url)
		if err != nil {
			lastErr = &apierr.Transport{Cause: err}
			log.Warn().Err(err).Str("endpoint", base).Msg("upstream transport error")
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			body := drain(resp)
			c.pool.ClearToken(acct.Email)
			lastErr = &apierr.Upstream{Status: resp.StatusCode, Body: string(body)}
			log.Warn().Str("endpoint", base).Str("email", acct.Email).Msg("upstream 401, cleared cached credentials")
			continue
		case resp.StatusCode == http.StatusTooManyRequests:
			body := drain(resp)
			if reset := ParseReset(resp.Header, body); reset > 0 && (minReset == 0 || reset < minReset) {
				minReset = reset
			}
			limited++
			lastErr = &apierr.Upstream{Status: resp.StatusCode, Body: string(body)}
			continue
		case resp.StatusCode >= 400:
			body := drain(resp)
			lastErr = &apierr.Upstream{Status: resp.StatusCode, Body: string(body)}
			log.Warn().Int("status", resp.StatusCode).Str("endpoint", base).Msg("upstream error")
			continue
		}

		err = consume(resp)
		resp.Body.Close()
		return err
	}

	if tried > 0 && limited == tried {
		c.pool.MarkRateLimited(acct.Email, minReset)
		return &apierr.RateLimited{AccountID: acct.Email, ResetMs: minReset.Milliseconds()}
	}
	return &apierr.EndpointsExhausted{Last: lastErr}
}

// drain reads a bounded error body and closes the response.
func drain(resp *req.Response) []byte {
	if resp.Body == nil {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
	return body
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
