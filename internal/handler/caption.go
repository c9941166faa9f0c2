package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetCaption(c *gin.Context) {
	sessionID := SessionID(c)

	state, err := h.captions.State(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error().Err(err).Str("session", sessionID).Msg("failed to load session state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load caption state"})
		return
	}
	c.JSON(http.StatusOK, CaptionResponse{SessionID: sessionID, State: state})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
