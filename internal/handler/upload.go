package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"image-captioner/internal/intake"
	"image-captioner/internal/models"
)

// multipartOverhead leaves room for boundaries and part headers on top of the image itself.
const multipartOverhead = 1 << 20

const maxWait = 3 * time.Minute

type CaptionResponse struct {
	SessionID string `json:"session_id"`
	models.State
}

func (h *Handler) UploadImage(c *gin.Context) {
	sessionID := SessionID(c)

	// Set max upload size
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image exceeds maximum upload size"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to get file from request"})
		return
	}

	headers := form.File["image"]
	files := make([]intake.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, intake.FromMultipart(fh))
	}

	file, err := intake.Select(files)
	switch {
	case errors.Is(err, intake.ErrNoFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to get file from request"})
		return
	case errors.Is(err, intake.ErrUnsupportedType):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Only JPEG, PNG, GIF and WEBP images are allowed"})
		return
	}

	ctx := c.Request.Context()
	payload, err := h.intake.Submit(ctx, file)
	if err != nil {
		h.handleIntakeError(c, sessionID, err)
		return
	}

	ticket, err := h.captions.RequestCaption(ctx, sessionID, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("session", sessionID).Msg("failed to start caption request")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start caption request"})
		return
	}

	wait := c.Query("wait") == "true"
	if wait {
		waitCtx, cancel := context.WithTimeout(ctx, maxWait)
		defer cancel()
		_, _ = ticket.Wait(waitCtx)
	}

	state, err := h.captions.State(ctx, sessionID)
	if err != nil {
		h.logger.Error().Err(err).Str("session", sessionID).Msg("failed to load session state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load caption state"})
		return
	}

	status := http.StatusAccepted
	if wait && state.Terminal() {
		status = http.StatusOK
	}
	c.JSON(status, CaptionResponse{SessionID: sessionID, State: state})
}

func (h *Handler) handleIntakeError(c *gin.Context, sessionID string, err error) {
	switch {
	case errors.Is(err, intake.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image exceeds maximum upload size"})
	case errors.Is(err, intake.ErrUnsupportedType):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Only JPEG, PNG, GIF and WEBP images are allowed"})
	case errors.Is(err, intake.ErrUnreadableImage):
		state, rejectErr := h.captions.RejectImage(c.Request.Context(), sessionID, err)
		if rejectErr != nil {
			h.logger.Error().Err(rejectErr).Str("session", sessionID).Msg("failed to record rejected image")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load caption state"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, CaptionResponse{SessionID: sessionID, State: state})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file from request"})
	}
}
