package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/approval"
	"github.com/cmdwarden/warden/internal/auth"
)

type ApprovalHandler struct {
	broker approval.Broker
	hub    *Hub
}

func NewApprovalHandler(broker approval.Broker, hub *Hub) *ApprovalHandler {
	return &ApprovalHandler{broker: broker, hub: hub}
}

// List returns every command currently waiting for a ruling.
func (h *ApprovalHandler) List(c echo.Context) error {
	pending, err := h.broker.GetPending(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get pending approvals")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve pending approvals",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":   len(pending),
		"pending": pending,
	})
}

// Approve handles POST /api/v1/approvals/:id/approve.
func (h *ApprovalHandler) Approve(c echo.Context) error {
	return h.decide(c, true)
}

// Deny handles POST /api/v1/approvals/:id/deny.
func (h *ApprovalHandler) Deny(c echo.Context) error {
	return h.decide(c, false)
}

type decideRequest struct {
	Approver string `json:"approver,omitempty"`
	Note     string `json:"note,omitempty"`
}

func (h *ApprovalHandler) decide(c echo.Context, approved bool) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req decideRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	if !approved && req.Note == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "a note is required when denying",
		})
	}

	decidedBy := req.Approver
	if user := auth.GetUserFromContext(c); user != nil {
		decidedBy = user.Name
	}
	if decidedBy == "" {
		decidedBy = "operator"
	}

	ruling := approval.Ruling{
		Approved:  approved,
		DecidedBy: decidedBy,
		Note:      req.Note,
	}

	if err := h.broker.Resolve(ctx, id, ruling); err != nil {
		log.Warn().Err(err).Str("id", id).Bool("approved", approved).Msg("failed to resolve approval")
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "approval not found or already resolved",
		})
	}

	status := "denied"
	if approved {
		status = "approved"
	}

	if h.hub != nil {
		h.hub.BroadcastResolved(id, status)
	}

	log.Info().
		Str("id", id).
		Bool("approved", approved).
		Str("decided_by", decidedBy).
		Msg("approval resolved")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": status,
	})
}
