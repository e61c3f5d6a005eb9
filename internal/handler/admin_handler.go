package handler

import (
	"strings"

	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/internal/repository"
	"github.com/gamingglow/portal/internal/service"
	"github.com/gamingglow/portal/pkg/response"
	"github.com/gofiber/fiber/v2"
)

type AdminHandler struct {
	authSvc  *service.AuthService
	statsSvc *service.StatsService
	auditSvc *service.AuditService
}

func NewAdminHandler(authSvc *service.AuthService, statsSvc *service.StatsService, auditSvc *service.AuditService) *AdminHandler {
	return &AdminHandler{
		authSvc:  authSvc,
		statsSvc: statsSvc,
		auditSvc: auditSvc,
	}
}

type SetDisabledRequest struct {
	Disabled *bool `json:"disabled" validate:"required"`
}

// GetStats returns download counts for one product, or the dashboard
// overview when no product_id is given.
func (h *AdminHandler) GetStats(c *fiber.Ctx) error {
	productID := strings.TrimSpace(c.Query("product_id"))
	if productID == "" {
		stats, err := h.statsSvc.Dashboard(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return response.Success(c, stats)
	}
	days := c.QueryInt("days", 0)

	stats, err := h.statsSvc.ProductDownloads(c.UserContext(), productID, days)
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, stats)
}

func (h *AdminHandler) SetPrincipalDisabled(c *fiber.Ctx) error {
	actor := currentPrincipal(c)
	if actor == nil {
		return response.Unauthorized(c, "authentication required")
	}

	var req SetDisabledRequest
	if err := bindJSON(c, &req); err != nil {
		return response.BadRequest(c, err.Error())
	}

	targetID := c.Params("id")
	if err := h.authSvc.SetPrincipalDisabled(c.UserContext(), actor, targetID, *req.Disabled, requestMeta(c)); err != nil {
		return respondError(c, err)
	}
	return response.Success(c, fiber.Map{
		"id":       targetID,
		"disabled": *req.Disabled,
	})
}

// ListAudit returns the newest audit entries first.
func (h *AdminHandler) ListAudit(c *fiber.Ctx) error {
	entries, err := h.auditSvc.List(c.UserContext(), repository.AuditFilter{
		ActorID: c.Query("actor_id"),
		Action:  models.AuditAction(c.Query("action")),
		Limit:   c.QueryInt("limit", 0),
	})
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, entries)
}
