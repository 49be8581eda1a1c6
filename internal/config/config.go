// Package config loads proxy settings from defaults, an optional
// config.yaml, and AGPROXY_* environment variables.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"agproxy/internal/gemini"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Accounts  AccountsConfig  `mapstructure:"accounts"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Signature SignatureConfig `mapstructure:"signature"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	History   HistoryConfig   `mapstructure:"history"`
}

type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	Mode    string `mapstructure:"mode"` // gin mode: "release", "debug", or "test"
	AuthKey string `mapstructure:"auth_key"`
	KeyFile string `mapstructure:"key_file"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type AccountsConfig struct {
	Path                 string        `mapstructure:"path"`
	DefaultProject       string        `mapstructure:"default_project"`
	DefaultCooldown      time.Duration `mapstructure:"default_cooldown_ms"`
	MaxWaitBeforeError   time.Duration `mapstructure:"max_wait_before_error_ms"`
	TokenRefreshInterval time.Duration `mapstructure:"token_refresh_interval_ms"`
}

type UpstreamConfig struct {
	Endpoints   []string `mapstructure:"endpoints"`
	ModelPrefix string   `mapstructure:"model_prefix"`
	MaxRetries  int      `mapstructure:"max_retries"`
}

type SignatureConfig struct {
	TTL           time.Duration `mapstructure:"ttl_ms"`
	SweepInterval time.Duration `mapstructure:"sweep_interval_ms"`
}

type ThrottleConfig struct {
	Claude  time.Duration `mapstructure:"claude_ms"`
	Gemini  time.Duration `mapstructure:"gemini_ms"`
	Default time.Duration `mapstructure:"default_ms"`
}

type HistoryConfig struct {
	Size int `mapstructure:"size"`
}

// Load reads configuration from an optional yaml file (the given path,
// else ./config.yaml or ./config/config.yaml), layered under AGPROXY_*
// environment variables and the built-in defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	// Set defaults - Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.auth_key", "")
	viper.SetDefault("server.key_file", "data/server-key.txt")

	// Set defaults - Logging
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")

	// Set defaults - Accounts
	viper.SetDefault("accounts.path", "data/accounts.json")
	viper.SetDefault("accounts.default_project", gemini.DefaultProject)
	viper.SetDefault("accounts.default_cooldown_ms", 60000)
	viper.SetDefault("accounts.max_wait_before_error_ms", 120000)
	viper.SetDefault("accounts.token_refresh_interval_ms", 300000)

	// Set defaults - Upstream
	viper.SetDefault("upstream.endpoints", gemini.DefaultEndpoints)
	viper.SetDefault("upstream.model_prefix", "antigravity-")
	viper.SetDefault("upstream.max_retries", 5)

	// Set defaults - Signature cache
	viper.SetDefault("signature.ttl_ms", 7200000)
	viper.SetDefault("signature.sweep_interval_ms", 600000)

	// Set defaults - Throttle
	viper.SetDefault("throttle.claude_ms", 3000)
	viper.SetDefault("throttle.gemini_ms", 1500)
	viper.SetDefault("throttle.default_ms", 3000)

	// Set defaults - History
	viper.SetDefault("history.size", 200)

	// Environment variable support
	viper.SetEnvPrefix("AGPROXY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file if exists. A named path that cannot be read is
	// fatal; an absent file on the search path is not.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	parseDurations(cfg)

	return cfg, nil
}

// parseDurations converts the *_ms integer keys into durations. Viper
// unmarshals raw integers into time.Duration as nanoseconds, so every
// millisecond field is rewritten here.
func parseDurations(cfg *Config) {
	cfg.Accounts.DefaultCooldown = time.Duration(viper.GetInt64("accounts.default_cooldown_ms")) * time.Millisecond
	cfg.Accounts.MaxWaitBeforeError = time.Duration(viper.GetInt64("accounts.max_wait_before_error_ms")) * time.Millisecond
	cfg.Accounts.TokenRefreshInterval = time.Duration(viper.GetInt64("accounts.token_refresh_interval_ms")) * time.Millisecond
	cfg.Signature.TTL = time.Duration(viper.GetInt64("signature.ttl_ms")) * time.Millisecond
	cfg.Signature.SweepInterval = time.Duration(viper.GetInt64("signature.sweep_interval_ms")) * time.Millisecond
	cfg.Throttle.Claude = time.Duration(viper.GetInt64("throttle.claude_ms")) * time.Millisecond
	cfg.Throttle.Gemini = time.Duration(viper.GetInt64("throttle.gemini_ms")) * time.Millisecond
	cfg.Throttle.Default = time.Duration(viper.GetInt64("throttle.default_ms")) * time.Millisecond
}

// ResolveAuthKey returns the server key: the configured value, then the
// AGPROXY_AUTH_KEY variable, then the key file. When none exist a fresh
// key is generated and written to the key file; created reports that.
func (c *Config) ResolveAuthKey() (key string, created bool, err error) {
	if c.Server.AuthKey != "" {
		return c.Server.AuthKey, false, nil
	}
	if env := os.Getenv("AGPROXY_AUTH_KEY"); env != "" {
		return env, false, nil
	}

	raw, err := os.ReadFile(c.Server.KeyFile)
	if err == nil {
		if key := strings.TrimSpace(string(raw)); key != "" {
			return key, false, nil
		}
	} else if !os.IsNotExist(err) {
		return "", false, err
	}

	key, err = generateKey()
	if err != nil {
		return "", false, err
	}
	if dir := filepath.Dir(c.Server.KeyFile); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, err
		}
	}
	if err := os.WriteFile(c.Server.KeyFile, []byte(key+"\n"), 0o600); err != nil {
		return "", false, err
	}
	return key, true, nil
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ag_" + hex.EncodeToString(buf), nil
}
