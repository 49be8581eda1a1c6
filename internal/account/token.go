package account

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"agproxy/internal/apierr"
	"agproxy/internal/dbstate"
)

// Token returns a bearer token for the account, reusing a cached one when
// it is fresh enough. Failures mark the account invalid so selection skips
// it until repaired.
func (p *Pool) Token(ctx context.Context, email string) (string, error) {
	p.mu.Lock()
	a := p.findLocked(email)
	if a == nil {
		p.mu.Unlock()
		return "", fmt.Errorf("account %s not found", email)
	}
	if entry, ok := p.tokens[email]; ok && p.nowFunc().Sub(entry.fetchedAt) < p.cfg.TokenTTL {
		p.mu.Unlock()
		return entry.token, nil
	}
	source := a.Source
	refreshToken := a.RefreshToken
	apiKey := a.APIKey
	dbPath := a.DBPath
	p.mu.Unlock()

	var token string
	var err error
	switch source {
	case SourceManual:
		if apiKey == "" {
			err = fmt.Errorf("account %s has no api key", email)
		} else {
			token = apiKey
		}
	case SourceDatabase:
		token, err = dbstate.AccessToken(dbPath, p.cfg.StateDBKey)
	case SourceOAuth:
		token, err = p.refreshOAuth(ctx, email, refreshToken)
	default:
		err = fmt.Errorf("account %s has unknown source %q", email, source)
	}

	if err != nil {
		p.MarkInvalid(email, err.Error())
		return "", &apierr.AuthInvalid{AccountID: email, Reason: err.Error()}
	}

	p.mu.Lock()
	p.tokens[email] = tokenEntry{token: token, fetchedAt: p.nowFunc()}
	if a := p.findLocked(email); a != nil {
		p.clearInvalidLocked(a)
	}
	p.mu.Unlock()
	return token, nil
}

// refreshOAuth exchanges the refresh token and folds any id_token profile
// data back into the account record.
func (p *Pool) refreshOAuth(ctx context.Context, email, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", fmt.Errorf("account %s has no refresh token", email)
	}
	grant, err := p.exchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	if grant.IDToken != "" {
		if claimed, err := EmailFromIDToken(grant.IDToken); err == nil && claimed != "" && claimed != email {
			log.Warn().Str("account", email).Str("claimed", claimed).Msg("id token email mismatch")
		}
	}
	return grant.AccessToken, nil
}

// ClearToken drops the cached token and project for the account, forcing a
// fresh fetch on the next request. Used after an upstream 401.
func (p *Pool) ClearToken(email string) {
	p.mu.Lock()
	delete(p.tokens, email)
	delete(p.projects, email)
	p.mu.Unlock()
}
