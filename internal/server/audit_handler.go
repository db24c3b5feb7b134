package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/audit"
	"github.com/cmdwarden/warden/internal/core"
)

type AuditHandler struct {
	store audit.Store
}

func NewAuditHandler(store audit.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

// List returns ledger records, newest first. Filters arrive as query
// parameters: action, outcome, source, since, until, q and limit.
func (h *AuditHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	query, err := queryFromParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	records, err := h.store.Filter(ctx, query)
	if err != nil {
		log.Error().Err(err).Msg("failed to retrieve audit records")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve audit records",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":   len(records),
		"records": records,
	})
}

// Get returns the single record behind a request id.
func (h *AuditHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	record, err := h.store.ByRequest(ctx, id)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "record not found",
			})
		}
		log.Error().Err(err).Str("request_id", id).Msg("failed to retrieve audit record")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve audit record",
		})
	}

	return c.JSON(http.StatusOK, record)
}

// Stats returns aggregate counts over the whole ledger.
func (h *AuditHandler) Stats(c echo.Context) error {
	stats, err := h.store.Stats(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to compute audit stats")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to compute audit stats",
		})
	}

	return c.JSON(http.StatusOK, stats)
}

func queryFromParams(c echo.Context) (audit.Query, error) {
	var query audit.Query

	query.Action = core.Action(c.QueryParam("action"))
	query.Outcome = core.Outcome(c.QueryParam("outcome"))
	query.Source = core.SourceKind(c.QueryParam("source"))
	query.Search = c.QueryParam("q")

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return audit.Query{}, errors.New("limit must be a positive integer")
		}
		query.Limit = limit
	}

	if raw := c.QueryParam("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Query{}, errors.New("since must be an RFC3339 timestamp")
		}
		query.Since = since
	}

	if raw := c.QueryParam("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Query{}, errors.New("until must be an RFC3339 timestamp")
		}
		query.Until = until
	}

	return query, nil
}
