package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gigvault/escrow/internal/config"
)

// StripeClient implements PaymentProcessor against the Stripe Connect API.
// It owns no business rules; the orchestrator decides when money moves.
type StripeClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewStripeClient creates a new Stripe API client
func NewStripeClient(cfg *config.StripeConfig) *StripeClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StripeClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

// IsConfigured returns true when an API key is present
func (c *StripeClient) IsConfigured() bool {
	return c.apiKey != ""
}

type paymentIntentRequest struct {
	Amount        string          `json:"amount"`
	Currency      string          `json:"currency"`
	Destination   string          `json:"destination"`
	AppFeeAmount  string          `json:"application_fee_amount,omitempty"`
	CaptureMethod string          `json:"capture_method"`
	Metadata      PaymentMetadata `json:"metadata"`
}

type captureRequest struct {
	AmountToCapture string `json:"amount_to_capture,omitempty"`
}

type transferRequest struct {
	Amount      string          `json:"amount"`
	Currency    string          `json:"currency"`
	Destination string          `json:"destination"`
	Description string          `json:"description,omitempty"`
	Metadata    PaymentMetadata `json:"metadata"`
}

type refundRequest struct {
	PaymentIntent string `json:"payment_intent"`
	Amount        string `json:"amount,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Authorize places a manual-capture hold against the payer.
func (c *StripeClient) Authorize(ctx context.Context, p *AuthorizeParams) (*AuthorizationHandle, error) {
	req := &paymentIntentRequest{
		Amount:        p.Amount.StringFixed(2),
		Currency:      p.Currency,
		Destination:   p.DestinationAccountID,
		CaptureMethod: "manual",
		Metadata:      p.Metadata,
	}
	if p.ApplicationFeeAmount.IsPositive() {
		req.AppFeeAmount = p.ApplicationFeeAmount.StringFixed(2)
	}
	var handle AuthorizationHandle
	if err := c.post(ctx, "/v1/payment_intents", p.IdempotencyKey, req, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// Capture releases some or all of a held amount to the payee.
func (c *StripeClient) Capture(ctx context.Context, p *CaptureParams) (*AuthorizationHandle, error) {
	req := &captureRequest{}
	if p.AmountToCapture != nil {
		req.AmountToCapture = p.AmountToCapture.StringFixed(2)
	}
	endpoint := fmt.Sprintf("/v1/payment_intents/%s/capture", p.AuthorizationID)
	var handle AuthorizationHandle
	if err := c.post(ctx, endpoint, p.IdempotencyKey, req, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// Cancel voids a hold entirely, refunding the payer.
func (c *StripeClient) Cancel(ctx context.Context, authorizationID, idempotencyKey string) (*AuthorizationHandle, error) {
	endpoint := fmt.Sprintf("/v1/payment_intents/%s/cancel", authorizationID)
	var handle AuthorizationHandle
	if err := c.post(ctx, endpoint, idempotencyKey, struct{}{}, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// Transfer moves money to a payout account immediately, outside escrow.
func (c *StripeClient) Transfer(ctx context.Context, p *TransferParams) (*TransferHandle, error) {
	req := &transferRequest{
		Amount:      p.Amount.StringFixed(2),
		Currency:    p.Currency,
		Destination: p.DestinationAccountID,
		Description: p.Description,
		Metadata:    p.Metadata,
	}
	var handle TransferHandle
	if err := c.post(ctx, "/v1/transfers", p.IdempotencyKey, req, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// Refund returns captured funds to the payer.
func (c *StripeClient) Refund(ctx context.Context, p *RefundParams) (*RefundHandle, error) {
	req := &refundRequest{
		PaymentIntent: p.PaymentID,
		Reason:        p.Reason,
	}
	if p.Amount != nil {
		req.Amount = p.Amount.StringFixed(2)
	}
	var handle RefundHandle
	if err := c.post(ctx, "/v1/refunds", p.IdempotencyKey, req, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// post sends a POST request with JSON body and idempotency key
func (c *StripeClient) post(ctx context.Context, endpoint, idempotencyKey string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &ProcessorError{Kind: ProcessorErrTimeout, Message: "request timed out", Err: err}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return &ProcessorError{Kind: ProcessorErrTimeout, Message: "request timed out", Err: err}
		}
		return &ProcessorError{Kind: ProcessorErrTimeout, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.apiError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiError maps processor API failures onto error kinds
func (c *StripeClient) apiError(status int, body []byte) error {
	var apiErr struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)

	kind := ProcessorErrDeclined
	switch apiErr.Error.Code {
	case "insufficient_funds", "balance_insufficient":
		kind = ProcessorErrInsufficientFunds
	case "account_restricted", "account_invalid":
		kind = ProcessorErrAccountRestricted
	}
	if status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout {
		kind = ProcessorErrTimeout
	}

	msg := apiErr.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("status %d", status)
	}
	return &ProcessorError{Kind: kind, Message: msg}
}
