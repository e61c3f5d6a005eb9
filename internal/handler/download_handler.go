package handler

import (
	"github.com/gamingglow/portal/internal/service"
	"github.com/gamingglow/portal/pkg/response"
	"github.com/gofiber/fiber/v2"
)

type DownloadHandler struct {
	downloadSvc *service.DownloadService
}

func NewDownloadHandler(downloadSvc *service.DownloadService) *DownloadHandler {
	return &DownloadHandler{downloadSvc: downloadSvc}
}

type DownloadRequest struct {
	ProductSlug string `json:"productSlug" validate:"required,max=128"`
	Version     string `json:"version" validate:"max=64"`
}

type RedeemRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

type RedeemResponse struct {
	ProductID string `json:"product_id"`
	ReleaseID string `json:"release_id"`
}

// Request issues a presigned URL and one-time token for a public release.
func (h *DownloadHandler) Request(c *fiber.Ctx) error {
	var req DownloadRequest
	if err := bindJSON(c, &req); err != nil {
		return response.BadRequest(c, err.Error())
	}

	ticket, err := h.downloadSvc.RequestDownload(c.UserContext(), req.ProductSlug, req.Version, requestMeta(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, ticket)
}

// Redeem consumes a download token. Unknown, replayed, expired and
// foreign-IP tokens all answer the same 404.
func (h *DownloadHandler) Redeem(c *fiber.Ctx) error {
	var req RedeemRequest
	if err := bindJSON(c, &req); err != nil {
		return response.BadRequest(c, err.Error())
	}

	grant, err := h.downloadSvc.RedeemGrant(c.UserContext(), req.Token, c.IP())
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, RedeemResponse{
		ProductID: grant.ProductID,
		ReleaseID: grant.ReleaseID,
	})
}
