package client

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockProcessor is the fallback PaymentProcessor used when Stripe is not
// configured (local development). Every call succeeds and nothing leaves the
// process. Never wire this in production.
type MockProcessor struct{}

func NewMockProcessor() *MockProcessor {
	return &MockProcessor{}
}

func (m *MockProcessor) Authorize(ctx context.Context, p *AuthorizeParams) (*AuthorizationHandle, error) {
	id := "pi_mock_" + uuid.New().String()
	log.Printf("Mock processor: authorize %s %s -> %s", p.Amount.StringFixed(2), p.Currency, id)
	return &AuthorizationHandle{
		ID:       id,
		Status:   "requires_capture",
		Amount:   p.Amount,
		Currency: p.Currency,
	}, nil
}

func (m *MockProcessor) Capture(ctx context.Context, p *CaptureParams) (*AuthorizationHandle, error) {
	amount := decimal.Zero
	if p.AmountToCapture != nil {
		amount = *p.AmountToCapture
	}
	log.Printf("Mock processor: capture %s on %s", amount.StringFixed(2), p.AuthorizationID)
	return &AuthorizationHandle{
		ID:     p.AuthorizationID,
		Status: "succeeded",
		Amount: amount,
	}, nil
}

func (m *MockProcessor) Cancel(ctx context.Context, authorizationID, idempotencyKey string) (*AuthorizationHandle, error) {
	log.Printf("Mock processor: cancel %s", authorizationID)
	return &AuthorizationHandle{
		ID:     authorizationID,
		Status: "canceled",
	}, nil
}

func (m *MockProcessor) Transfer(ctx context.Context, p *TransferParams) (*TransferHandle, error) {
	id := "tr_mock_" + uuid.New().String()
	log.Printf("Mock processor: transfer %s %s -> %s", p.Amount.StringFixed(2), p.Currency, id)
	return &TransferHandle{
		ID:       id,
		Status:   "paid",
		Amount:   p.Amount,
		Currency: p.Currency,
	}, nil
}

func (m *MockProcessor) Refund(ctx context.Context, p *RefundParams) (*RefundHandle, error) {
	id := "re_mock_" + uuid.New().String()
	amount := decimal.Zero
	if p.Amount != nil {
		amount = *p.Amount
	}
	log.Printf("Mock processor: refund %s on %s -> %s", amount.StringFixed(2), p.PaymentID, id)
	return &RefundHandle{
		ID:     id,
		Status: "succeeded",
		Amount: amount,
	}, nil
}
