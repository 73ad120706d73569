package client

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentProcessor defines the operations the escrow core needs from the
// external payment rail: place holds, capture them (partially or fully),
// void them, and move money directly. Every call carries a caller-supplied
// idempotency key so retries with identical parameters are safe.
type PaymentProcessor interface {
	Authorize(ctx context.Context, p *AuthorizeParams) (*AuthorizationHandle, error)
	Capture(ctx context.Context, p *CaptureParams) (*AuthorizationHandle, error)
	Cancel(ctx context.Context, authorizationID, idempotencyKey string) (*AuthorizationHandle, error)
	Transfer(ctx context.Context, p *TransferParams) (*TransferHandle, error)
	Refund(ctx context.Context, p *RefundParams) (*RefundHandle, error)
}

// PaymentMetadata is the typed metadata attached to every processor object.
// A fixed struct rather than a string map so a typo cannot silently drop a
// reconciliation field.
type PaymentMetadata struct {
	EscrowID     string `json:"escrow_id"`
	MilestoneID  string `json:"milestone_id,omitempty"`
	ContractID   string `json:"contract_id,omitempty"`
	GrossAmount  string `json:"gross_amount,omitempty"`
	PlatformFee  string `json:"platform_fee,omitempty"`
	ProcessorFee string `json:"processor_fee,omitempty"`
}

// AuthorizeParams places a hold against the payer, tagged with the payee's
// payout account as eventual destination. No funds move to the payee yet.
type AuthorizeParams struct {
	Amount               decimal.Decimal
	Currency             string
	DestinationAccountID string
	ApplicationFeeAmount decimal.Decimal
	Metadata             PaymentMetadata
	IdempotencyKey       string
}

// CaptureParams converts a hold into an actual transfer to the payee.
// Capturing less than authorized releases the remainder back to the payer.
type CaptureParams struct {
	AuthorizationID string
	AmountToCapture *decimal.Decimal // nil captures the full held amount
	IdempotencyKey  string
}

type TransferParams struct {
	Amount               decimal.Decimal
	Currency             string
	DestinationAccountID string
	Description          string
	Metadata             PaymentMetadata
	IdempotencyKey       string
}

type RefundParams struct {
	PaymentID      string
	Amount         *decimal.Decimal // nil refunds the full amount
	Reason         string
	IdempotencyKey string
}

// AuthorizationHandle is the processor-side view of a hold.
type AuthorizationHandle struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type TransferHandle struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type RefundHandle struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}

// Processor error kinds.
const (
	ProcessorErrDeclined          = "declined"
	ProcessorErrInsufficientFunds = "insufficient_funds"
	ProcessorErrAccountRestricted = "account_restricted"
	ProcessorErrTimeout           = "timeout"
)

// ProcessorError is returned when a processor call fails. The entity state
// surrounding the call is never committed, so the caller may retry the whole
// operation with the same idempotency key.
type ProcessorError struct {
	Kind    string
	Message string
	Err     error
}

func (e *ProcessorError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment processor: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("payment processor: %s", e.Kind)
}

func (e *ProcessorError) Unwrap() error { return e.Err }
