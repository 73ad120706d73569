package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowAccount is the per-contract aggregate holding the total contracted
// amount and its milestone breakdown. Milestones are exclusively owned by
// their account and never reassigned.
type EscrowAccount struct {
	ID              string          `json:"id"`
	ContractID      string          `json:"contractId"`
	BusinessID      string          `json:"businessId"`
	TalentID        string          `json:"talentId"`
	PayoutAccountID string          `json:"payoutAccountId"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Currency        string          `json:"currency"`
	Status          EscrowStatus    `json:"status"`
	Milestones      []Milestone     `json:"milestones"`
	PaymentIntentID string          `json:"paymentIntentId,omitempty"`
	CancelReason    string          `json:"cancelReason,omitempty"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
	// Version is the optimistic concurrency counter, incremented on every save.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Milestone is a discrete unit of deliverable work with its own amount and
// approval cycle.
type Milestone struct {
	ID                   string                 `json:"id"`
	EscrowID             string                 `json:"escrowId"`
	Title                string                 `json:"title"`
	Description          string                 `json:"description,omitempty"`
	Amount               decimal.Decimal        `json:"amount"`
	Percentage           decimal.Decimal        `json:"percentage"`
	DueDate              *time.Time             `json:"dueDate,omitempty"`
	Status               MilestoneStatus        `json:"status"`
	Deliverables         []MilestoneDeliverable `json:"deliverables"`
	ApprovalRequirements []string               `json:"approvalRequirements,omitempty"`
	SubmissionNotes      string                 `json:"submissionNotes,omitempty"`
	ApprovalNotes        string                 `json:"approvalNotes,omitempty"`
	RejectionReason      string                 `json:"rejectionReason,omitempty"`
	SubmittedAt          *time.Time             `json:"submittedAt,omitempty"`
	ApprovedAt           *time.Time             `json:"approvedAt,omitempty"`
	ReleasedAt           *time.Time             `json:"releasedAt,omitempty"`
	DisputedAt           *time.Time             `json:"disputedAt,omitempty"`
	PaymentIntentID      string                 `json:"paymentIntentId,omitempty"`
}

// MilestoneDeliverable is an opaque file reference submitted as evidence of
// work. Status mirrors the milestone-level submit/approve/reject transition.
type MilestoneDeliverable struct {
	ID          string            `json:"id"`
	MilestoneID string            `json:"milestoneId"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	FileURL     string            `json:"fileUrl"`
	Status      DeliverableStatus `json:"status"`
	SubmittedAt time.Time         `json:"submittedAt"`
}

// MilestoneByID returns a pointer into the account's milestone slice, or nil.
func (a *EscrowAccount) MilestoneByID(id string) *Milestone {
	for i := range a.Milestones {
		if a.Milestones[i].ID == id {
			return &a.Milestones[i]
		}
	}
	return nil
}

// DeriveAccountStatus recomputes the account-level status from the milestone
// statuses. It is the single source of truth for the derived states: completed
// when all milestones are released, partially_released when some are, disputed
// while any dispute is open. Terminal cancel is applied by the cancel
// operation, never here.
func DeriveAccountStatus(current EscrowStatus, milestones []Milestone, hasOpenDispute bool) EscrowStatus {
	if current == EscrowStatusCancelled {
		return EscrowStatusCancelled
	}

	released := 0
	for _, m := range milestones {
		if m.Status == MilestoneStatusReleased {
			released++
		}
	}

	if len(milestones) > 0 && released == len(milestones) {
		return EscrowStatusCompleted
	}
	if hasOpenDispute {
		return EscrowStatusDisputed
	}
	if released > 0 {
		return EscrowStatusPartiallyReleased
	}
	if current == EscrowStatusCreated {
		return EscrowStatusCreated
	}
	return EscrowStatusFunded
}
