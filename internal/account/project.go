package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"agproxy/internal/gemini"
)

// Project resolves the cloud project to bill requests against: cached
// value, then the account's explicit project, then loadCodeAssist
// discovery, then the shared default. The default is not cached so a
// later discovery can still succeed.
func (p *Pool) Project(ctx context.Context, email, token string) (string, error) {
	p.mu.Lock()
	if cached, ok := p.projects[email]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	explicit := ""
	if a := p.findLocked(email); a != nil {
		explicit = a.ProjectID
	}
	p.mu.Unlock()

	if explicit != "" {
		p.mu.Lock()
		p.projects[email] = explicit
		p.mu.Unlock()
		return explicit, nil
	}

	project, err := p.discoverProject(ctx, token)
	if err != nil {
		fallback := p.cfg.DefaultProject
		if fallback == "" {
			fallback = gemini.DefaultProject
		}
		log.Warn().Err(err).Str("email", email).Str("fallback", fallback).Msg("project discovery failed")
		return fallback, nil
	}

	p.mu.Lock()
	p.projects[email] = project
	p.mu.Unlock()
	log.Info().Str("email", email).Str("project", project).Msg("project discovered")
	return project, nil
}

// discoverProject asks each endpoint's loadCodeAssist for the managed
// project id.
func (p *Pool) discoverProject(ctx context.Context, token string) (string, error) {
	endpoints := p.cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = gemini.DefaultEndpoints
	}

	payload, err := json.Marshal(map[string]interface{}{
		"metadata": gemini.ClientMetadata(),
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for _, base := range endpoints {
		project, err := p.loadCodeAssist(ctx, base, token, payload)
		if err != nil {
			lastErr = err
			continue
		}
		if project != "" {
			return project, nil
		}
		lastErr = fmt.Errorf("%s returned no project", base)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured")
	}
	return "", lastErr
}

func (p *Pool) loadCodeAssist(ctx context.Context, base, token string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gemini.LoadCodeAssistURL(base), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loadCodeAssist %s: status %d: %s", base, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// The field is a plain id string in some responses and an object with
	// an id in others.
	field := gjson.GetBytes(body, "cloudaicompanionProject")
	if field.Type == gjson.String && field.Str != "" {
		return field.Str, nil
	}
	if id := field.Get("id"); id.Type == gjson.String && id.Str != "" {
		return id.Str, nil
	}
	return "", nil
}
