package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gigvault/escrow/internal/middleware"
	"github.com/gigvault/escrow/internal/model"
	"github.com/gigvault/escrow/internal/service"
	"github.com/gigvault/escrow/pkg/response"
)

type EscrowHandler struct {
	service   *service.EscrowService
	validator *validator.Validate
}

func NewEscrowHandler(svc *service.EscrowService, v *validator.Validate) *EscrowHandler {
	return &EscrowHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/escrows
func (h *EscrowHandler) Create(c *fiber.Ctx) error {
	var req model.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	account, err := h.service.CreateEscrowAccount(c.Context(), &req)
	if err != nil {
		return mapServiceError(c, err)
	}

	return response.Created(c, account)
}

// Get handles GET /api/escrows/:escrowId
func (h *EscrowHandler) Get(c *fiber.Ctx) error {
	account, err := h.requireParticipant(c, c.Params("escrowId"))
	if err != nil {
		return err
	}
	return response.OK(c, account)
}

// Fund handles POST /api/escrows/:escrowId/fund
func (h *EscrowHandler) Fund(c *fiber.Ctx) error {
	escrowID := c.Params("escrowId")
	if _, err := h.requireParty(c, escrowID, model.PartyBusiness); err != nil {
		return err
	}

	account, err := h.service.FundEscrowAccount(c.Context(), escrowID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, account)
}

// Summary handles GET /api/escrows/:escrowId/summary
func (h *EscrowHandler) Summary(c *fiber.Ctx) error {
	escrowID := c.Params("escrowId")
	if _, err := h.requireParticipant(c, escrowID); err != nil {
		return err
	}

	summary, err := h.service.CalculateEscrowSummary(c.Context(), escrowID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, summary)
}

// Transactions handles GET /api/escrows/:escrowId/transactions
func (h *EscrowHandler) Transactions(c *fiber.Ctx) error {
	escrowID := c.Params("escrowId")
	if _, err := h.requireParticipant(c, escrowID); err != nil {
		return err
	}

	txs, err := h.service.ListTransactions(c.Context(), escrowID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"transactions": txs})
}

// SubmitMilestone handles POST /api/escrows/:escrowId/milestones/:milestoneId/submit
func (h *EscrowHandler) SubmitMilestone(c *fiber.Ctx) error {
	escrowID := c.Params("escrowId")
	if _, err := h.requireParty(c, escrowID, model.PartyTalent); err != nil {
		return err
	}

	var req model.SubmitMilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	account, err := h.service.SubmitMilestone(c.Context(), escrowID, c.Params("milestoneId"), &req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, account)
}

// ApproveMilestone handles POST /api/escrows/:escrowId/milestones/:milestoneId/approve
func (h *EscrowHandler) ApproveMilestone(c *fiber.Ctx) error {
	escrowID := c.Params("escrowId")
	if _, err := h.requireParty(c, escrowID, model.PartyBusiness); err != nil {
		return err
	}

	var req model.ApproveMilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	account, err := h.service.ApproveMilestone(c.Context(), escrowID, c.Params("milestoneId"), &req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, account)
}

// RejectMilestone handles POST /api/escrows/:escrowId/milestones/:milestoneId/reject
func (h *EscrowHandler) RejectMilestone(c *fiber.Ctx) error {
	escrowID := c.Params("escrowId")
	if _, err := h.requireParty(c, escrowID, model.PartyBusiness); err != nil {
		return err
	}

	var req model.RejectMilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	account, err := h.service.RejectMilestone(c.Context(), escrowID, c.Params("milestoneId"), &req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, account)
}

// Cancel handles POST /api/escrows/:escrowId/cancel
func (h *EscrowHandler) Cancel(c *fiber.Ctx) error {
	escrowID := c.Params("escrowId")
	if _, err := h.requireParty(c, escrowID, model.PartyBusiness); err != nil {
		return err
	}

	var req model.CancelEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	account, err := h.service.CancelEscrowAccount(c.Context(), escrowID, &req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, account)
}

// requireParty loads the account and checks that the caller is the named
// party on it. Admins pass regardless.
func (h *EscrowHandler) requireParty(c *fiber.Ctx, escrowID string, party model.Party) (*model.EscrowAccount, error) {
	account, err := h.service.GetAccount(c.Context(), escrowID)
	if err != nil {
		return nil, mapServiceError(c, err)
	}

	userID := middleware.GetUserID(c)
	if middleware.GetUserRole(c) == "admin" {
		return account, nil
	}
	expected := account.BusinessID
	if party == model.PartyTalent {
		expected = account.TalentID
	}
	if userID != expected {
		return nil, response.Forbidden(c, "Only the "+string(party)+" party may perform this operation")
	}
	return account, nil
}

// requireParticipant allows either party on the account, or an admin.
func (h *EscrowHandler) requireParticipant(c *fiber.Ctx, escrowID string) (*model.EscrowAccount, error) {
	account, err := h.service.GetAccount(c.Context(), escrowID)
	if err != nil {
		return nil, mapServiceError(c, err)
	}

	userID := middleware.GetUserID(c)
	if middleware.GetUserRole(c) == "admin" || userID == account.BusinessID || userID == account.TalentID {
		return account, nil
	}
	return nil, response.Forbidden(c, "Not a party on this escrow account")
}
