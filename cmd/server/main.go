package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"agproxy/internal/account"
	"agproxy/internal/config"
	"agproxy/internal/handler"
	"agproxy/internal/history"
	"agproxy/internal/httpclient"
	"agproxy/internal/metrics"
	"agproxy/internal/middleware"
	"agproxy/internal/signature"
	"agproxy/internal/throttle"
	"agproxy/internal/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Setup logging
	logFile := setupLogging(cfg)
	if logFile != nil {
		defer logFile.Close()
	}

	// Resolve server key
	authKey, created, err := cfg.ResolveAuthKey()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve server key")
	}
	if created {
		log.Info().Str("file", cfg.Server.KeyFile).Msg("generated new server key")
	}

	// Initialize account pool
	pool, err := account.NewPool(account.Config{
		Path:            cfg.Accounts.Path,
		DefaultCooldown: cfg.Accounts.DefaultCooldown,
		MaxWait:         cfg.Accounts.MaxWaitBeforeError,
		TokenTTL:        cfg.Accounts.TokenRefreshInterval,
		DefaultProject:  cfg.Accounts.DefaultProject,
		Endpoints:       cfg.Upstream.Endpoints,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load account pool")
	}
	defer pool.Close()
	if pool.Len() == 0 {
		log.Warn().Str("path", cfg.Accounts.Path).Msg("no accounts configured, add one via POST /v1/accounts")
	} else {
		log.Info().Int("accounts", pool.Len()).Str("path", cfg.Accounts.Path).Msg("account pool loaded")
	}

	// Initialize signature cache
	signatures := signature.NewCache(cfg.Signature.TTL)
	signatures.StartSweeper(cfg.Signature.SweepInterval)
	defer signatures.Stop()

	// Initialize dispatch services
	throttler := throttle.New(throttle.Config{
		Claude:  cfg.Throttle.Claude,
		Gemini:  cfg.Throttle.Gemini,
		Default: cfg.Throttle.Default,
	})
	ring := history.New(cfg.History.Size)
	collector := metrics.New()
	client := upstream.New(pool, httpclient.Get(), upstream.Config{
		Endpoints:  cfg.Upstream.Endpoints,
		MaxWait:    cfg.Accounts.MaxWaitBeforeError,
		MaxRetries: cfg.Upstream.MaxRetries,
	})

	// Initialize handlers
	proxyHandler := handler.NewProxyHandler(handler.ProxyConfig{
		Pool:        pool,
		Client:      client,
		Signatures:  signatures,
		Throttle:    throttler,
		History:     ring,
		Metrics:     collector,
		ModelPrefix: cfg.Upstream.ModelPrefix,
	})
	accountHandler := handler.NewAccountHandler(pool, collector)
	systemHandler := handler.NewSystemHandler(pool, collector, ring)
	keyAuth := middleware.NewKeyAuth(authKey)

	// Setup router
	switch cfg.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	default:
		log.Warn().Str("mode", cfg.Server.Mode).Msg("unknown server mode, using release")
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	// Health check
	router.GET("/health", systemHandler.Health)

	// Anthropic-native endpoints
	v1 := router.Group("/v1")
	v1.Use(keyAuth.Auth())
	{
		v1.POST("/messages", proxyHandler.Messages)
		v1.POST("/messages/count_tokens", proxyHandler.CountTokens)
		v1.GET("/models", proxyHandler.ListModels)

		v1.POST("/chat/completions", proxyHandler.ChatCompletions)

		v1.GET("/accounts", accountHandler.List)
		v1.POST("/accounts", accountHandler.Create)
		v1.PATCH("/accounts/:email", accountHandler.Update)
		v1.DELETE("/accounts/:email", accountHandler.Delete)
		v1.GET("/history", systemHandler.History)

		// Handle double /v1/v1 paths (client has /v1 in base URL)
		v1.POST("/v1/messages", proxyHandler.Messages)
		v1.POST("/v1/messages/count_tokens", proxyHandler.CountTokens)
	}

	// OpenAI-compatible endpoint for clients without the /v1 base
	router.POST("/chat/completions", keyAuth.Auth(), proxyHandler.ChatCompletions)

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().
			Str("addr", addr).
			Int("accounts", pool.Len()).
			Strs("endpoints", cfg.Upstream.Endpoints).
			Str("model_prefix", cfg.Upstream.ModelPrefix).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// setupLogging configures the global zerolog logger from config. The
// returned file, when non-nil, must stay open for the process lifetime.
func setupLogging(cfg *config.Config) *os.File {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if cfg.Log.File == "" {
		log.Logger = log.Output(console)
		return nil
	}

	logFile, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Logger = log.Output(console)
		log.Warn().Err(err).Str("file", cfg.Log.File).Msg("failed to open log file, logging to console only")
		return nil
	}

	// Multi-writer: write to both console and file
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, logFile))
	return logFile
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info().
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}
