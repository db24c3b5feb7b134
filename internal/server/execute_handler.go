package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/core"
	"github.com/cmdwarden/warden/internal/pipeline"
)

type ExecuteHandler struct {
	pipe *pipeline.Pipeline
}

func NewExecuteHandler(pipe *pipeline.Pipeline) *ExecuteHandler {
	return &ExecuteHandler{pipe: pipe}
}

type ExecuteRequest struct {
	Input string `json:"input"`
	Label string `json:"label,omitempty"`
}

// Execute runs one natural-language request through the full pipeline
// and returns the sealed ledger record. The HTTP status reflects how
// the request was handled, not whether the command itself succeeded.
func (h *ExecuteHandler) Execute(c echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	if strings.TrimSpace(req.Input) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "input is required",
		})
	}

	rec, err := h.pipe.Process(c.Request().Context(), core.SourceWeb, req.Label, req.Input)
	if err != nil {
		log.Error().Err(err).Str("request_id", rec.Request.ID).Msg("request processing failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "request processing failed",
		})
	}

	// A blocked caller should learn to back off; everything else is a
	// normal outcome described by the record itself.
	if rec.Decision.Reason == core.ReasonRateLimited {
		return c.JSON(http.StatusTooManyRequests, rec)
	}

	return c.JSON(http.StatusOK, rec)
}
