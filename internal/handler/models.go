package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"agproxy/internal/anthropic"
	"agproxy/internal/convert"
)

// fallbackModels is served when the upstream catalog cannot be fetched.
// The set mirrors what the v1internal surface exposes today.
var fallbackModels = []anthropic.ModelInfo{
	{ID: "claude-sonnet-4-5", Description: "Claude Sonnet 4.5"},
	{ID: "claude-sonnet-4-5-thinking", Description: "Claude Sonnet 4.5 with extended thinking"},
	{ID: "gemini-3-pro", Description: "Gemini 3 Pro"},
	{ID: "gemini-3-flash", Description: "Gemini 3 Flash"},
	{ID: "gemini-2.5-flash", Description: "Gemini 2.5 Flash"},
}

// ListModels handles GET /v1/models.
func (h *ProxyHandler) ListModels(c *gin.Context) {
	models, err := h.client.Models(c.Request.Context())
	if err != nil || len(models) == 0 {
		if err != nil {
			log.Warn().Err(err).Msg("model catalog fetch failed, serving static list")
		}
		c.JSON(http.StatusOK, modelList(fallbackModels))
		return
	}

	infos := make([]anthropic.ModelInfo, 0, len(models))
	for _, m := range models {
		id := convert.NormalizeModel(m.Name, h.prefix)
		desc := m.Description
		if desc == "" {
			desc = m.DisplayName
		}
		infos = append(infos, anthropic.ModelInfo{ID: id, Description: desc})
	}
	c.JSON(http.StatusOK, modelList(infos))
}

func modelList(infos []anthropic.ModelInfo) anthropic.ModelList {
	now := time.Now().Unix()
	data := make([]anthropic.ModelInfo, len(infos))
	for i, m := range infos {
		m.Object = "model"
		m.Created = now
		m.OwnedBy = ownerOf(m.ID)
		data[i] = m
	}
	return anthropic.ModelList{Object: "list", Data: data}
}

func ownerOf(model string) string {
	if convert.FamilyOf(model) == convert.FamilyClaude {
		return "anthropic"
	}
	return "google"
}
