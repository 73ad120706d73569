package model

// Escrow account status
type EscrowStatus string

const (
	EscrowStatusCreated           EscrowStatus = "created"
	EscrowStatusFunded            EscrowStatus = "funded"
	EscrowStatusPartiallyReleased EscrowStatus = "partially_released"
	EscrowStatusCompleted         EscrowStatus = "completed"
	EscrowStatusDisputed          EscrowStatus = "disputed"
	EscrowStatusCancelled         EscrowStatus = "cancelled"
)

var ValidEscrowStatuses = []EscrowStatus{
	EscrowStatusCreated, EscrowStatusFunded, EscrowStatusPartiallyReleased,
	EscrowStatusCompleted, EscrowStatusDisputed, EscrowStatusCancelled,
}

// Milestone status
type MilestoneStatus string

const (
	MilestoneStatusPending    MilestoneStatus = "pending"
	MilestoneStatusInProgress MilestoneStatus = "in_progress"
	MilestoneStatusSubmitted  MilestoneStatus = "submitted"
	MilestoneStatusApproved   MilestoneStatus = "approved"
	MilestoneStatusReleased   MilestoneStatus = "released"
	MilestoneStatusDisputed   MilestoneStatus = "disputed"
)

var ValidMilestoneStatuses = []MilestoneStatus{
	MilestoneStatusPending, MilestoneStatusInProgress, MilestoneStatusSubmitted,
	MilestoneStatusApproved, MilestoneStatusReleased, MilestoneStatusDisputed,
}

// Deliverable status
type DeliverableStatus string

const (
	DeliverableStatusPending   DeliverableStatus = "pending"
	DeliverableStatusSubmitted DeliverableStatus = "submitted"
	DeliverableStatusApproved  DeliverableStatus = "approved"
	DeliverableStatusRejected  DeliverableStatus = "rejected"
)

// Transaction types
type TransactionType string

const (
	TransactionTypeDeposit       TransactionType = "deposit"
	TransactionTypeRelease       TransactionType = "release"
	TransactionTypeRefund        TransactionType = "refund"
	TransactionTypeDisputeHold   TransactionType = "dispute_hold"
	TransactionTypeFeeCollection TransactionType = "fee_collection"
)

// Transaction status
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Dispute status
type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusResolved    DisputeStatus = "resolved"
	DisputeStatusClosed      DisputeStatus = "closed"
)

// Dispute resolution outcomes
type DisputeResolution string

const (
	ResolutionRefundBusiness    DisputeResolution = "refund_business"
	ResolutionReleaseTalent     DisputeResolution = "release_talent"
	ResolutionPartialSplit      DisputeResolution = "partial_split"
	ResolutionMediationRequired DisputeResolution = "mediation_required"
)

var ValidResolutions = []DisputeResolution{
	ResolutionRefundBusiness, ResolutionReleaseTalent,
	ResolutionPartialSplit, ResolutionMediationRequired,
}

// Party identifies which side of the contract performed an action.
type Party string

const (
	PartyBusiness Party = "business"
	PartyTalent   Party = "talent"
)
