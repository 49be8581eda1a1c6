// Package account manages the upstream account pool: sticky selection
// with cooldown failover, rate-limit and validity state, token and
// project caches, and atomic persistence of the pool file.
package account

import "time"

// Source selects how an account's access token is obtained.
type Source string

const (
	// SourceOAuth refreshes an access token from a stored refresh token.
	SourceOAuth Source = "oauth"
	// SourceManual uses a static key as the bearer token.
	SourceManual Source = "manual"
	// SourceDatabase extracts tokens from a local Antigravity IDE state
	// database.
	SourceDatabase Source = "database"
)

// Account is one upstream identity. The json shape matches the persisted
// pool file.
type Account struct {
	Email              string `json:"email"`
	Source             Source `json:"source"`
	DBPath             string `json:"dbPath,omitempty"`
	RefreshToken       string `json:"refreshToken,omitempty"`
	APIKey             string `json:"apiKey,omitempty"`
	ProjectID          string `json:"projectId,omitempty"`
	AddedAt            string `json:"addedAt,omitempty"`
	IsRateLimited      bool   `json:"isRateLimited"`
	RateLimitResetTime int64  `json:"rateLimitResetTime,omitempty"`
	IsInvalid          bool   `json:"isInvalid"`
	InvalidReason      string `json:"invalidReason,omitempty"`
	InvalidAt          string `json:"invalidAt,omitempty"`
	Disabled           bool   `json:"disabled,omitempty"`
	LastUsed           string `json:"lastUsed,omitempty"`
}

// Available reports whether the account may serve a request right now.
func (a *Account) Available() bool {
	return !a.IsInvalid && !a.IsRateLimited && !a.Disabled
}

// ResetRemaining returns how long until the rate-limit cooldown elapses.
func (a *Account) ResetRemaining(now time.Time) time.Duration {
	if !a.IsRateLimited {
		return 0
	}
	remaining := time.UnixMilli(a.RateLimitResetTime).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// File is the persisted pool state.
type File struct {
	Accounts    []*Account             `json:"accounts"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
	ActiveIndex int                    `json:"activeIndex"`
}
