// Package dbstate extracts credentials from a local Antigravity IDE state
// database. The IDE keeps its auth material as a JSON blob in the
// VS Code style ItemTable key/value store.
package dbstate

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tidwall/gjson"
)

// DefaultKey is the ItemTable row holding the IDE's auth state.
const DefaultKey = "antigravity.auth"

// Credentials is the auth material recovered from a state database. Only
// AccessToken is guaranteed; the rest depends on what the IDE stored.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Email        string
	ProjectID    string
}

// Read opens the database read-only and extracts credentials from the
// given ItemTable key. An empty key falls back to DefaultKey.
func Read(path, key string) (*Credentials, error) {
	if key == "" {
		key = DefaultKey
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("state database: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=2000", url.PathEscape(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT value FROM ItemTable WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("state database has no %q entry", key)
	}
	if err != nil {
		return nil, fmt.Errorf("read state database: %w", err)
	}

	creds := parseAuthBlob(value)
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil, fmt.Errorf("no tokens in %q entry", key)
	}
	return creds, nil
}

// AccessToken is the common case: just the current bearer token.
func AccessToken(path, key string) (string, error) {
	creds, err := Read(path, key)
	if err != nil {
		return "", err
	}
	if creds.AccessToken == "" {
		return "", errors.New("state database entry has no access token")
	}
	return creds.AccessToken, nil
}

// parseAuthBlob probes the known field spellings across IDE versions.
func parseAuthBlob(value string) *Credentials {
	return &Credentials{
		AccessToken:  firstString(value, "accessToken", "access_token", "token", "tokens.accessToken"),
		RefreshToken: firstString(value, "refreshToken", "refresh_token", "tokens.refreshToken"),
		Email:        firstString(value, "email", "user.email", "profile.email"),
		ProjectID:    firstString(value, "projectId", "project_id", "cloudaicompanionProject"),
	}
}

func firstString(value string, paths ...string) string {
	for _, path := range paths {
		if r := gjson.Get(value, path); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}
