package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agproxy/internal/apierr"
	"agproxy/internal/gemini"
)

// Models fetches the vendor model catalog using the sticky account.
func (c *Client) Models(ctx context.Context) ([]gemini.ModelInfo, error) {
	acct, err := c.selectAccount(ctx)
	if err != nil {
		return nil, err
	}
	token, err := c.pool.Token(ctx, acct.Email)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, base := range c.cfg.Endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := c.http.R().
			SetContext(ctx).
			SetBodyBytes([]byte("{}")).
			SetHeader("Authorization", "Bearer "+token).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", gemini.UserAgent).
			SetHeader(gemini.APIClientHeader, gemini.APIClientValue)
		r.DisableAutoReadResponse()

		resp, err := r.Post(gemini.ModelsURL(base))
		if err != nil {
			lastErr = &apierr.Transport{Cause: err}
			continue
		}
		body := drain(resp)
		if resp.StatusCode != http.StatusOK {
			lastErr = &apierr.Upstream{Status: resp.StatusCode, Body: string(body)}
			continue
		}
		var catalog gemini.ModelsResponse
		if err := json.Unmarshal(body, &catalog); err != nil {
			lastErr = fmt.Errorf("decode model catalog: %w", err)
			continue
		}
		return catalog.Models, nil
	}
	return nil, &apierr.EndpointsExhausted{Last: lastErr}
}
