package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateEscrowRequest opens a new escrow account for an agreed contract.
// Milestone amounts must sum to totalAmount and percentages to 100.
type CreateEscrowRequest struct {
	ContractID      string          `json:"contractId" validate:"required"`
	BusinessID      string          `json:"businessId" validate:"required"`
	TalentID        string          `json:"talentId" validate:"required"`
	PayoutAccountID string          `json:"payoutAccountId" validate:"required"`
	TotalAmount     decimal.Decimal `json:"totalAmount" validate:"required"`
	Currency        string          `json:"currency" validate:"required,iso4217"`
	Milestones      []MilestoneSpec `json:"milestones" validate:"required,min=1,dive"`
}

// MilestoneSpec describes one milestone at account creation time.
type MilestoneSpec struct {
	Title                string          `json:"title" validate:"required"`
	Description          string          `json:"description"`
	Amount               decimal.Decimal `json:"amount" validate:"required"`
	Percentage           decimal.Decimal `json:"percentage" validate:"required"`
	DueDate              *time.Time      `json:"dueDate"`
	ApprovalRequirements []string        `json:"approvalRequirements"`
}

// DeliverableSpec is one piece of submitted work evidence.
type DeliverableSpec struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	FileURL     string `json:"fileUrl" validate:"required,url"`
}

// SubmitMilestoneRequest delivers work for review.
type SubmitMilestoneRequest struct {
	Deliverables []DeliverableSpec `json:"deliverables" validate:"omitempty,dive"`
	Notes        string            `json:"notes"`
}

// ApproveMilestoneRequest accepts submitted work and releases the milestone
// funds.
type ApproveMilestoneRequest struct {
	Notes string `json:"notes"`
}

// RejectMilestoneRequest sends submitted work back for rework.
type RejectMilestoneRequest struct {
	Reason string `json:"reason" validate:"required"`
	Notes  string `json:"notes"`
}

// InitiateDisputeRequest opens a dispute case against a milestone.
type InitiateDisputeRequest struct {
	InitiatedBy Party  `json:"initiatedBy" validate:"required,oneof=business talent"`
	Reason      string `json:"reason" validate:"required"`
	Description string `json:"description"`
}

// ResolveDisputeRequest records the administrative decision on a dispute.
// ResolutionAmount is required for partial_split only.
type ResolveDisputeRequest struct {
	Resolution       DisputeResolution `json:"resolution" validate:"required,oneof=refund_business release_talent partial_split mediation_required"`
	ResolutionAmount *decimal.Decimal  `json:"resolutionAmount"`
	Notes            string            `json:"notes"`
	AdminNotes       string            `json:"adminNotes"`
}

// CancelEscrowRequest aborts the account and voids outstanding holds.
type CancelEscrowRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// EscrowSummary is the read-only rollup over an account. Derived on request,
// never stored.
type EscrowSummary struct {
	EscrowID           string          `json:"escrowId"`
	Status             EscrowStatus    `json:"status"`
	Currency           string          `json:"currency"`
	TotalAmount        decimal.Decimal `json:"totalAmount"`
	ReleasedAmount     decimal.Decimal `json:"releasedAmount"`
	PendingAmount      decimal.Decimal `json:"pendingAmount"`
	PlatformFees       decimal.Decimal `json:"platformFees"`
	ProcessorFees      decimal.Decimal `json:"processorFees"`
	NetReleased        decimal.Decimal `json:"netReleased"`
	MilestonesTotal    int             `json:"milestonesTotal"`
	MilestonesReleased int             `json:"milestonesReleased"`
	CompletionPercent  decimal.Decimal `json:"completionPercent"`
	OpenDisputes       int             `json:"openDisputes"`
}
