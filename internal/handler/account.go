package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"agproxy/internal/account"
	"agproxy/internal/metrics"
)

// AccountHandler exposes the pool over HTTP.
type AccountHandler struct {
	pool    *account.Pool
	metrics *metrics.Metrics
}

func NewAccountHandler(pool *account.Pool, m *metrics.Metrics) *AccountHandler {
	return &AccountHandler{pool: pool, metrics: m}
}

// List reports pool state and usage counters. Credentials never leave
// the process.
func (h *AccountHandler) List(c *gin.Context) {
	accounts := h.pool.Accounts()
	now := time.Now()

	rows := make([]gin.H, len(accounts))
	for i, acc := range accounts {
		row := gin.H{
			"email":        acc.Email,
			"source":       acc.Source,
			"project_id":   acc.ProjectID,
			"added_at":     acc.AddedAt,
			"last_used":    acc.LastUsed,
			"rate_limited": acc.IsRateLimited,
			"invalid":      acc.IsInvalid,
			"disabled":     acc.Disabled,
		}
		if acc.IsRateLimited {
			row["reset_in_ms"] = acc.ResetRemaining(now).Milliseconds()
		}
		if acc.IsInvalid {
			row["invalid_reason"] = acc.InvalidReason
		}
		rows[i] = row
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts":     rows,
		"active_index": h.pool.ActiveIndex(),
		"metrics":      h.metrics.Snapshot(),
	})
}

// Create registers a new account from one of the supported credential
// sources.
func (h *AccountHandler) Create(c *gin.Context) {
	var req struct {
		Source       string `json:"source" binding:"required"`
		RefreshToken string `json:"refresh_token"`
		APIKey       string `json:"api_key"`
		Label        string `json:"label"`
		ProjectID    string `json:"project_id"`
		DBPath       string `json:"db_path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		acc *account.Account
		err error
	)
	switch account.Source(req.Source) {
	case account.SourceOAuth:
		acc, err = h.pool.AddOAuth(c.Request.Context(), req.RefreshToken, req.ProjectID)
	case account.SourceManual:
		acc, err = h.pool.AddAPIKey(req.Label, req.APIKey, req.ProjectID)
	case account.SourceDatabase:
		acc, err = h.pool.AddStateDB(req.DBPath)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "source must be one of oauth, manual, database"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("source", req.Source).Msg("account registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("email", acc.Email).Str("source", req.Source).Msg("account added")
	c.JSON(http.StatusOK, gin.H{
		"email":      acc.Email,
		"source":     acc.Source,
		"project_id": acc.ProjectID,
	})
}

// Update toggles the disabled flag, keeping the account and its
// credentials in the pool.
func (h *AccountHandler) Update(c *gin.Context) {
	var req struct {
		Disabled *bool `json:"disabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "disabled is required"})
		return
	}

	email := c.Param("email")
	if !h.pool.SetDisabled(email, *req.Disabled) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	log.Info().Str("email", email).Bool("disabled", *req.Disabled).Msg("account updated")
	c.JSON(http.StatusOK, gin.H{"email": email, "disabled": *req.Disabled})
}

// Delete removes an account by email.
func (h *AccountHandler) Delete(c *gin.Context) {
	email := c.Param("email")
	if !h.pool.Remove(email) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	log.Info().Str("email", email).Msg("account removed")
	c.JSON(http.StatusOK, gin.H{"message": "account removed"})
}
