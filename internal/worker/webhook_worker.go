package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/gigvault/escrow/internal/model"
	"github.com/gigvault/escrow/internal/repository"
)

// TypeProcessorEvent is the asynq task type for payment processor webhook
// events queued for reconciliation.
const TypeProcessorEvent = "processor:event"

// ProcessorEventPayload is the queued form of a processor webhook event.
// Only the fields the reconciler needs survive the webhook handler.
type ProcessorEventPayload struct {
	EventID       string `json:"eventId"`
	EventType     string `json:"eventType"`
	ProcessorRef  string `json:"processorRef"`
	FailureReason string `json:"failureReason,omitempty"`
}

// NewProcessorEventTask builds the asynq task enqueued by the webhook handler.
func NewProcessorEventTask(payload *ProcessorEventPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal processor event: %w", err)
	}
	return asynq.NewTask(TypeProcessorEvent, data, asynq.MaxRetry(5)), nil
}

// WebhookWorker reconciles ledger entries against asynchronous processor
// outcomes. It only confirms or fails pending transaction records; entity
// state transitions are driven exclusively by the service layer.
type WebhookWorker struct {
	transactions repository.TransactionRepository
}

// NewWebhookWorker creates a new webhook reconciliation worker
func NewWebhookWorker(transactions repository.TransactionRepository) *WebhookWorker {
	return &WebhookWorker{transactions: transactions}
}

// ProcessTask handles a queued processor event
func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ProcessorEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal processor event payload: %w", err)
	}

	log.Printf("Processing webhook event %s (%s) for %s", payload.EventID, payload.EventType, payload.ProcessorRef)

	status, reason := outcomeFor(payload.EventType, payload.FailureReason)
	if status == "" {
		// Event types we do not reconcile are acknowledged and dropped.
		log.Printf("Ignoring webhook event type %s", payload.EventType)
		return nil
	}

	tx, err := w.transactions.GetByProcessorRef(ctx, payload.ProcessorRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// The webhook can arrive before the originating request commits
			// its ledger entry. Let asynq retry with backoff.
			return fmt.Errorf("no transaction for processor ref %s yet: %w", payload.ProcessorRef, err)
		}
		return err
	}
	if tx.Status != model.TransactionStatusPending {
		// Already settled by a synchronous response or an earlier delivery
		// of the same event.
		return nil
	}

	if err := w.transactions.MarkStatus(ctx, tx.ID, status, reason); err != nil {
		return fmt.Errorf("failed to mark transaction %s %s: %w", tx.ID, status, err)
	}
	log.Printf("Transaction %s marked %s from webhook event %s", tx.ID, status, payload.EventID)
	return nil
}

// outcomeFor maps a processor event type to the transaction status it
// settles, or "" for events that carry no reconciliation meaning.
func outcomeFor(eventType, failureReason string) (model.TransactionStatus, string) {
	switch eventType {
	case "payment_intent.succeeded", "transfer.paid", "refund.succeeded":
		return model.TransactionStatusCompleted, ""
	case "payment_intent.payment_failed", "transfer.failed", "refund.failed":
		if failureReason == "" {
			failureReason = "processor reported failure"
		}
		return model.TransactionStatusFailed, failureReason
	default:
		return "", ""
	}
}
