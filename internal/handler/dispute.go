package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gigvault/escrow/internal/middleware"
	"github.com/gigvault/escrow/internal/model"
	"github.com/gigvault/escrow/internal/service"
	"github.com/gigvault/escrow/pkg/response"
)

type DisputeHandler struct {
	service   *service.EscrowService
	validator *validator.Validate
}

func NewDisputeHandler(svc *service.EscrowService, v *validator.Validate) *DisputeHandler {
	return &DisputeHandler{
		service:   svc,
		validator: v,
	}
}

// Initiate handles POST /api/escrows/:escrowId/milestones/:milestoneId/dispute
func (h *DisputeHandler) Initiate(c *fiber.Ctx) error {
	escrowID := c.Params("escrowId")

	account, err := h.service.GetAccount(c.Context(), escrowID)
	if err != nil {
		return mapServiceError(c, err)
	}

	var req model.InitiateDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	// The caller must actually be the party they claim to dispute as.
	userID := middleware.GetUserID(c)
	switch req.InitiatedBy {
	case model.PartyBusiness:
		if userID != account.BusinessID {
			return response.Forbidden(c, "Caller is not the business party on this account")
		}
	case model.PartyTalent:
		if userID != account.TalentID {
			return response.Forbidden(c, "Caller is not the talent party on this account")
		}
	}

	dispute, err := h.service.InitiateDispute(c.Context(), escrowID, c.Params("milestoneId"), &req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.Created(c, dispute)
}

// Get handles GET /api/disputes/:disputeId
func (h *DisputeHandler) Get(c *fiber.Ctx) error {
	dispute, err := h.service.GetDispute(c.Context(), c.Params("disputeId"))
	if err != nil {
		return mapServiceError(c, err)
	}

	if middleware.GetUserRole(c) != "admin" {
		account, err := h.service.GetAccount(c.Context(), dispute.EscrowID)
		if err != nil {
			return mapServiceError(c, err)
		}
		userID := middleware.GetUserID(c)
		if userID != account.BusinessID && userID != account.TalentID {
			return response.Forbidden(c, "Not a party on this dispute")
		}
	}
	return response.OK(c, dispute)
}

// Resolve handles POST /api/disputes/:disputeId/resolve (admin only, enforced
// at the route level)
func (h *DisputeHandler) Resolve(c *fiber.Ctx) error {
	var req model.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	dispute, err := h.service.ResolveDispute(c.Context(), c.Params("disputeId"), &req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, dispute)
}

// Close handles POST /api/disputes/:disputeId/close (admin only, enforced at
// the route level)
func (h *DisputeHandler) Close(c *fiber.Ctx) error {
	var req struct {
		AdminNotes string `json:"adminNotes"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	dispute, err := h.service.CloseDispute(c.Context(), c.Params("disputeId"), req.AdminNotes)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, dispute)
}
