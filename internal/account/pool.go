package account

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config controls pool behavior. Zero values fall back to defaults.
type Config struct {
	// Path is the pool file location. Empty keeps the pool in memory only.
	Path string
	// DefaultCooldown applies when an upstream rate limit carries no reset
	// hint.
	DefaultCooldown time.Duration
	// MaxWait is the longest cooldown the sticky picker will wait out
	// before failing over to another account.
	MaxWait time.Duration
	// TokenTTL bounds how long a cached access token is reused.
	TokenTTL time.Duration
	// OAuthClientID and OAuthClientSecret authenticate token refreshes for
	// oauth accounts.
	OAuthClientID     string
	OAuthClientSecret string
	// StateDBKey overrides the ItemTable key read from IDE state databases.
	StateDBKey string
	// DefaultProject is billed when an account carries no explicit project
	// and discovery fails.
	DefaultProject string
	// Endpoints are the upstream base URLs used for project discovery.
	Endpoints []string
	// HTTPClient is used for token refresh and project discovery.
	HTTPClient *http.Client
}

const (
	defaultCooldown = 60 * time.Second
	defaultMaxWait  = 120 * time.Second
	defaultTokenTTL = 5 * time.Minute
)

// Pool holds the accounts and serves selection decisions. All state is
// guarded by a single mutex; the persisted file is rewritten by a
// background worker after every mutation.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	index    int
	settings map[string]interface{}
	tokens   map[string]tokenEntry
	projects map[string]string

	cfg Config
	now func() time.Time

	persistMu sync.Mutex
	pending   []byte
	kick      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type tokenEntry struct {
	token     string
	fetchedAt time.Time
}

// NewPool loads the pool file at cfg.Path (a missing file yields an empty
// pool) and starts the persistence worker.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = defaultCooldown
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	p := &Pool{
		settings: map[string]interface{}{},
		tokens:   map[string]tokenEntry{},
		projects: map[string]string{},
		cfg:      cfg,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	if cfg.Path != "" {
		file, err := loadFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("load account file: %w", err)
		}
		if file != nil {
			p.accounts = file.Accounts
			p.index = file.ActiveIndex
			if file.Settings != nil {
				p.settings = file.Settings
			}
			if p.index < 0 || p.index >= len(p.accounts) {
				p.index = 0
			}
		}
	}

	go p.persistWorker()
	return p, nil
}

// Close flushes any pending persistence and stops the worker.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	<-p.stopped
}

// Len returns the number of accounts in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Accounts returns a snapshot of all accounts.
func (p *Pool) Accounts() []Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Account, len(p.accounts))
	for i, a := range p.accounts {
		out[i] = *a
	}
	return out
}

// ActiveIndex returns the sticky position.
func (p *Pool) ActiveIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Add inserts an account, replacing any existing entry with the same email.
func (p *Pool) Add(a Account) {
	if a.AddedAt == "" {
		a.AddedAt = p.nowFunc().UTC().Format(time.RFC3339)
	}
	p.mu.Lock()
	replaced := false
	for i, existing := range p.accounts {
		if existing.Email == a.Email {
			p.accounts[i] = &a
			replaced = true
			break
		}
	}
	if !replaced {
		p.accounts = append(p.accounts, &a)
	}
	delete(p.tokens, a.Email)
	delete(p.projects, a.Email)
	p.queuePersistLocked()
	p.mu.Unlock()

	log.Info().Str("email", a.Email).Str("source", string(a.Source)).Bool("replaced", replaced).Msg("account added")
}

// Remove deletes the account with the given email and reports whether it
// existed.
func (p *Pool) Remove(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, a := range p.accounts {
		if a.Email != email {
			continue
		}
		p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
		if p.index > i || p.index >= len(p.accounts) {
			p.index = 0
		}
		delete(p.tokens, email)
		delete(p.projects, email)
		p.queuePersistLocked()
		return true
	}
	return false
}

// PickSticky returns the preferred account for the next request. When the
// sticky account is cooling down and the cooldown is short enough to wait
// out, it returns no account and the remaining wait instead of failing
// over.
func (p *Pool) PickSticky() (*Account, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.accounts) == 0 {
		return nil, 0
	}

	changed := p.clearExpiredLocked()
	if p.index < 0 || p.index >= len(p.accounts) {
		p.index = 0
	}

	current := p.accounts[p.index]
	if current.Available() {
		if changed {
			p.queuePersistLocked()
		}
		picked := *current
		return &picked, 0
	}

	if current.IsRateLimited {
		remaining := current.ResetRemaining(p.nowFunc())
		if remaining > 0 && remaining <= p.cfg.MaxWait {
			if changed {
				p.queuePersistLocked()
			}
			return nil, remaining
		}
	}

	picked := p.pickNextLocked()
	if picked != nil || changed {
		p.queuePersistLocked()
	}
	if picked == nil {
		return nil, 0
	}
	out := *picked
	return &out, 0
}

// PickNext advances to the next available account, skipping the current
// one. It stamps the pick time and persists the new position.
func (p *Pool) PickNext() *Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := p.clearExpiredLocked()
	picked := p.pickNextLocked()
	if picked != nil || changed {
		p.queuePersistLocked()
	}
	if picked == nil {
		return nil
	}
	out := *picked
	return &out
}

// pickNextLocked probes forward from the sticky position and returns the
// first available account, updating the position and last-used stamp.
func (p *Pool) pickNextLocked() *Account {
	n := len(p.accounts)
	if n == 0 {
		return nil
	}
	for step := 1; step <= n; step++ {
		i := (p.index + step) % n
		a := p.accounts[i]
		if !a.Available() {
			continue
		}
		p.index = i
		a.LastUsed = p.nowFunc().UTC().Format(time.RFC3339)
		log.Info().Str("email", a.Email).Int("index", i).Msg("switched account")
		return a
	}
	return nil
}

// IsAllRateLimited reports whether every non-invalid account is cooling
// down. An empty pool or an all-invalid pool reports false.
func (p *Pool) IsAllRateLimited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.clearExpiredLocked() {
		p.queuePersistLocked()
	}
	usable := 0
	for _, a := range p.accounts {
		if a.IsInvalid {
			continue
		}
		usable++
		if !a.IsRateLimited {
			return false
		}
	}
	return usable > 0
}

// MinWait returns the shortest remaining cooldown across rate-limited
// accounts, or zero when none are limited.
func (p *Pool) MinWait() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.clearExpiredLocked() {
		p.queuePersistLocked()
	}
	min := time.Duration(0)
	now := p.nowFunc()
	for _, a := range p.accounts {
		if a.IsInvalid || !a.IsRateLimited {
			continue
		}
		remaining := a.ResetRemaining(now)
		if remaining <= 0 {
			continue
		}
		if min == 0 || remaining < min {
			min = remaining
		}
	}
	return min
}

// MarkRateLimited puts the account into cooldown. A zero reset falls back
// to the default cooldown.
func (p *Pool) MarkRateLimited(email string, reset time.Duration) {
	if reset <= 0 {
		reset = p.cfg.DefaultCooldown
	}
	until := p.nowFunc().Add(reset)

	p.mu.Lock()
	a := p.findLocked(email)
	if a == nil {
		p.mu.Unlock()
		return
	}
	a.IsRateLimited = true
	a.RateLimitResetTime = until.UnixMilli()
	p.queuePersistLocked()
	p.mu.Unlock()

	log.Warn().Str("email", email).Dur("reset", reset).Msg("account rate limited")
}

// MarkInvalid takes the account out of rotation until its credentials are
// repaired.
func (p *Pool) MarkInvalid(email, reason string) {
	p.mu.Lock()
	a := p.findLocked(email)
	if a == nil {
		p.mu.Unlock()
		return
	}
	a.IsInvalid = true
	a.InvalidReason = reason
	a.InvalidAt = p.nowFunc().UTC().Format(time.RFC3339)
	delete(p.tokens, email)
	p.queuePersistLocked()
	p.mu.Unlock()

	log.Warn().Str("email", email).Str("reason", reason).Msg("account marked invalid")
}

// clearInvalidLocked restores an account after a successful credential
// operation.
func (p *Pool) clearInvalidLocked(a *Account) {
	if !a.IsInvalid {
		return
	}
	a.IsInvalid = false
	a.InvalidReason = ""
	a.InvalidAt = ""
	p.queuePersistLocked()
}

// SetDisabled flips the manual out-of-rotation flag and reports whether
// the account exists. Disabled accounts keep their credentials and state.
func (p *Pool) SetDisabled(email string, disabled bool) bool {
	p.mu.Lock()
	a := p.findLocked(email)
	if a == nil {
		p.mu.Unlock()
		return false
	}
	a.Disabled = disabled
	p.queuePersistLocked()
	p.mu.Unlock()

	log.Info().Str("email", email).Bool("disabled", disabled).Msg("account availability changed")
	return true
}

// ResetAllRateLimits clears every rate-limit flag. Invalid markers are
// left untouched.
func (p *Pool) ResetAllRateLimits() int {
	p.mu.Lock()
	cleared := 0
	for _, a := range p.accounts {
		if !a.IsRateLimited {
			continue
		}
		a.IsRateLimited = false
		a.RateLimitResetTime = 0
		cleared++
	}
	if cleared > 0 {
		p.queuePersistLocked()
	}
	p.mu.Unlock()

	if cleared > 0 {
		log.Info().Int("count", cleared).Msg("rate limits reset")
	}
	return cleared
}

// AnyRateLimited reports whether at least one account is currently marked.
func (p *Pool) AnyRateLimited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if a.IsRateLimited {
			return true
		}
	}
	return false
}

// clearExpiredLocked drops rate-limit flags whose reset time has passed.
func (p *Pool) clearExpiredLocked() bool {
	now := p.nowFunc()
	cleared := false
	for _, a := range p.accounts {
		if !a.IsRateLimited {
			continue
		}
		if a.RateLimitResetTime > 0 && now.UnixMilli() < a.RateLimitResetTime {
			continue
		}
		a.IsRateLimited = false
		a.RateLimitResetTime = 0
		cleared = true
	}
	return cleared
}

func (p *Pool) findLocked(email string) *Account {
	for _, a := range p.accounts {
		if a.Email == email {
			return a
		}
	}
	return nil
}

func (p *Pool) nowFunc() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}
