package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"agproxy/internal/dbstate"
)

const googleTokenURL = "https://oauth2.googleapis.com/token"

// oauthGrant is the subset of the token endpoint response we use.
type oauthGrant struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	IDToken     string `json:"id_token"`
}

// exchangeRefreshToken performs the refresh_token grant against Google's
// token endpoint.
func (p *Pool) exchangeRefreshToken(ctx context.Context, refreshToken string) (*oauthGrant, error) {
	if p.cfg.OAuthClientID == "" || p.cfg.OAuthClientSecret == "" {
		return nil, errors.New("oauth client credentials not configured")
	}

	form := url.Values{}
	form.Set("client_id", p.cfg.OAuthClientID)
	form.Set("client_secret", p.cfg.OAuthClientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var grant oauthGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, errors.New("token refresh failed: empty access token")
	}
	return &grant, nil
}

// AddOAuth onboards an account from a refresh token. The token is
// exchanged once to validate it and to learn the email from the id token.
func (p *Pool) AddOAuth(ctx context.Context, refreshToken, projectID string) (*Account, error) {
	grant, err := p.exchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	email := ""
	if grant.IDToken != "" {
		email, _ = EmailFromIDToken(grant.IDToken)
	}
	if email == "" {
		email = fmt.Sprintf("oauth-%s", shortFingerprint(refreshToken))
	}

	a := Account{
		Email:        email,
		Source:       SourceOAuth,
		RefreshToken: refreshToken,
		ProjectID:    projectID,
	}
	p.Add(a)
	p.mu.Lock()
	p.tokens[email] = tokenEntry{token: grant.AccessToken, fetchedAt: p.nowFunc()}
	p.mu.Unlock()

	added := a
	return &added, nil
}

// AddAPIKey onboards a static-key account under the given label.
func (p *Pool) AddAPIKey(label, apiKey, projectID string) (*Account, error) {
	if apiKey == "" {
		return nil, errors.New("api key is empty")
	}
	if label == "" {
		label = fmt.Sprintf("key-%s", shortFingerprint(apiKey))
	}
	a := Account{
		Email:     label,
		Source:    SourceManual,
		APIKey:    apiKey,
		ProjectID: projectID,
	}
	p.Add(a)
	added := a
	return &added, nil
}

// AddStateDB onboards an account backed by a local IDE state database. The
// database is read once to validate it and to learn the email.
func (p *Pool) AddStateDB(dbPath string) (*Account, error) {
	creds, err := dbstate.Read(dbPath, p.cfg.StateDBKey)
	if err != nil {
		return nil, err
	}
	email := creds.Email
	if email == "" {
		email = fmt.Sprintf("db-%s", shortFingerprint(dbPath))
	}
	a := Account{
		Email:     email,
		Source:    SourceDatabase,
		DBPath:    dbPath,
		ProjectID: creds.ProjectID,
	}
	p.Add(a)
	if creds.AccessToken != "" {
		p.mu.Lock()
		p.tokens[email] = tokenEntry{token: creds.AccessToken, fetchedAt: p.nowFunc()}
		p.mu.Unlock()
	}
	added := a
	return &added, nil
}

// shortFingerprint derives a stable short label from a secret without
// exposing it.
func shortFingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:3])
}
