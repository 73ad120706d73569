package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisputeCase is a formal disagreement over a milestone. Its lifecycle runs
// beside the escrow account's and freezes the targeted milestone until
// resolved. Closing is terminal; a new dispute must be filed to reopen a
// disagreement.
type DisputeCase struct {
	ID               string             `json:"id"`
	EscrowID         string             `json:"escrowId"`
	MilestoneID      string             `json:"milestoneId,omitempty"`
	InitiatedBy      Party              `json:"initiatedBy"`
	Reason           string             `json:"reason"`
	Description      string             `json:"description,omitempty"`
	Status           DisputeStatus      `json:"status"`
	Resolution       DisputeResolution  `json:"resolution,omitempty"`
	ResolutionAmount *decimal.Decimal   `json:"resolutionAmount,omitempty"`
	ResolutionNotes  string             `json:"resolutionNotes,omitempty"`
	AdminNotes       string             `json:"adminNotes,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	ResolvedAt       *time.Time         `json:"resolvedAt,omitempty"`
	ClosedAt         *time.Time         `json:"closedAt,omitempty"`
}

// IsOpen reports whether the dispute still blocks its milestone.
func (d *DisputeCase) IsOpen() bool {
	return d.Status == DisputeStatusOpen || d.Status == DisputeStatusUnderReview
}
