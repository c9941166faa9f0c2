package handler

import (
	"github.com/rs/zerolog"

	"image-captioner/internal/caption"
	"image-captioner/internal/intake"
)

type Handler struct {
	intake        *intake.Intake
	captions      *caption.Service
	logger        zerolog.Logger
	maxUploadSize int64
}

func NewHandler(in *intake.Intake, captions *caption.Service, maxUploadSize int64, logger zerolog.Logger) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = intake.DefaultMaxSize
	}
	return &Handler{
		intake:        in,
		captions:      captions,
		logger:        logger,
		maxUploadSize: maxUploadSize,
	}
}
