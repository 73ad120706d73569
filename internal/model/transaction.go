package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowTransaction is an append-only ledger record. Every successful fund
// movement produces exactly one, appended as pending; processor events settle
// it to completed or failed, after which it is never mutated again.
type EscrowTransaction struct {
	ID            string            `json:"id"`
	EscrowID      string            `json:"escrowId"`
	MilestoneID   string            `json:"milestoneId,omitempty"`
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	ProcessorRef  string            `json:"processorRef,omitempty"`
	Breakdown     *ReleaseBreakdown `json:"breakdown,omitempty"`
	ProcessedAt   *time.Time        `json:"processedAt,omitempty"`
	FailureReason string            `json:"failureReason,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// ReleaseBreakdown carries the gross/fee/net decomposition of a release so
// every payout is traceable to its fee components.
type ReleaseBreakdown struct {
	GrossAmount  decimal.Decimal `json:"grossAmount"`
	PlatformFee  decimal.Decimal `json:"platformFee"`
	ProcessorFee decimal.Decimal `json:"processorFee"`
	NetAmount    decimal.Decimal `json:"netAmount"`
}
