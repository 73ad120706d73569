package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gigvault/escrow/internal/client"
	"github.com/gigvault/escrow/internal/fees"
	"github.com/gigvault/escrow/internal/model"
	"github.com/gigvault/escrow/internal/repository"
	"github.com/gigvault/escrow/internal/service"
)

func seedTransaction(t *testing.T, transactions repository.TransactionRepository, status model.TransactionStatus) *model.EscrowTransaction {
	t.Helper()
	tx := &model.EscrowTransaction{
		ID:           "tx1",
		EscrowID:     "e1",
		Type:         model.TransactionTypeRelease,
		Amount:       decimal.NewFromInt(100),
		Currency:     "USD",
		Status:       status,
		ProcessorRef: "pi_1",
	}
	if err := transactions.Append(context.Background(), tx); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return tx
}

func processEvent(t *testing.T, w *WebhookWorker, payload *ProcessorEventPayload) error {
	t.Helper()
	task, err := NewProcessorEventTask(payload)
	if err != nil {
		t.Fatalf("NewProcessorEventTask: %v", err)
	}
	return w.ProcessTask(context.Background(), task)
}

func TestReconcileSuccessEvent(t *testing.T) {
	transactions := repository.NewMemoryStore().Transactions()
	seedTransaction(t, transactions, model.TransactionStatusPending)
	w := NewWebhookWorker(transactions)

	if err := processEvent(t, w, &ProcessorEventPayload{
		EventID:      "evt_1",
		EventType:    "payment_intent.succeeded",
		ProcessorRef: "pi_1",
	}); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	got, _ := transactions.GetByProcessorRef(context.Background(), "pi_1")
	if got.Status != model.TransactionStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestReconcileFailureEvent(t *testing.T) {
	transactions := repository.NewMemoryStore().Transactions()
	seedTransaction(t, transactions, model.TransactionStatusPending)
	w := NewWebhookWorker(transactions)

	if err := processEvent(t, w, &ProcessorEventPayload{
		EventID:       "evt_1",
		EventType:     "transfer.failed",
		ProcessorRef:  "pi_1",
		FailureReason: "destination account closed",
	}); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	got, _ := transactions.GetByProcessorRef(context.Background(), "pi_1")
	if got.Status != model.TransactionStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.FailureReason != "destination account closed" {
		t.Errorf("failure reason = %q", got.FailureReason)
	}
}

func TestSettledTransactionsAreLeftAlone(t *testing.T) {
	transactions := repository.NewMemoryStore().Transactions()
	seedTransaction(t, transactions, model.TransactionStatusCompleted)
	w := NewWebhookWorker(transactions)

	if err := processEvent(t, w, &ProcessorEventPayload{
		EventID:      "evt_1",
		EventType:    "payment_intent.payment_failed",
		ProcessorRef: "pi_1",
	}); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	got, _ := transactions.GetByProcessorRef(context.Background(), "pi_1")
	if got.Status != model.TransactionStatusCompleted {
		t.Errorf("status = %s, late events must not flip settled records", got.Status)
	}
}

func TestUnknownEventTypesAreDropped(t *testing.T) {
	transactions := repository.NewMemoryStore().Transactions()
	w := NewWebhookWorker(transactions)

	if err := processEvent(t, w, &ProcessorEventPayload{
		EventID:      "evt_1",
		EventType:    "customer.updated",
		ProcessorRef: "pi_unknown",
	}); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
}

// The full path: the service appends pending ledger records, the worker
// settles them from processor events.
func TestReconcileLedgerWrittenByService(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := service.NewEscrowService(store.Escrows(), store.Disputes(), store.Transactions(), client.NewMockProcessor(), fees.New())
	w := NewWebhookWorker(store.Transactions())

	account, err := svc.CreateEscrowAccount(ctx, &model.CreateEscrowRequest{
		ContractID:      "contract-1",
		BusinessID:      "biz-1",
		TalentID:        "tal-1",
		PayoutAccountID: "acct_talent",
		TotalAmount:     decimal.NewFromInt(5000),
		Currency:        "USD",
		Milestones: []model.MilestoneSpec{
			{Title: "all", Amount: decimal.NewFromInt(5000), Percentage: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("CreateEscrowAccount: %v", err)
	}
	if _, err = svc.FundEscrowAccount(ctx, account.ID); err != nil {
		t.Fatalf("FundEscrowAccount: %v", err)
	}
	m1 := account.Milestones[0].ID
	if _, err = svc.SubmitMilestone(ctx, account.ID, m1, &model.SubmitMilestoneRequest{}); err != nil {
		t.Fatalf("SubmitMilestone: %v", err)
	}
	if _, err = svc.ApproveMilestone(ctx, account.ID, m1, &model.ApproveMilestoneRequest{}); err != nil {
		t.Fatalf("ApproveMilestone: %v", err)
	}

	txs, err := store.Transactions().ListByEscrow(ctx, account.ID)
	if err != nil {
		t.Fatalf("ListByEscrow: %v", err)
	}
	var deposit, release *model.EscrowTransaction
	for i := range txs {
		switch txs[i].Type {
		case model.TransactionTypeDeposit:
			deposit = &txs[i]
		case model.TransactionTypeRelease:
			release = &txs[i]
		}
	}
	if deposit == nil || release == nil {
		t.Fatalf("expected deposit and release transactions, got %+v", txs)
	}
	if deposit.Status != model.TransactionStatusPending || release.Status != model.TransactionStatusPending {
		t.Fatalf("appended statuses = %s/%s, want pending/pending", deposit.Status, release.Status)
	}

	if err := processEvent(t, w, &ProcessorEventPayload{
		EventID:      "evt_dep",
		EventType:    "payment_intent.succeeded",
		ProcessorRef: deposit.ProcessorRef,
	}); err != nil {
		t.Fatalf("ProcessTask(deposit): %v", err)
	}
	if err := processEvent(t, w, &ProcessorEventPayload{
		EventID:       "evt_rel",
		EventType:     "payment_intent.payment_failed",
		ProcessorRef:  release.ProcessorRef,
		FailureReason: "card reversed",
	}); err != nil {
		t.Fatalf("ProcessTask(release): %v", err)
	}

	got, _ := store.Transactions().GetByProcessorRef(ctx, deposit.ProcessorRef)
	if got.Status != model.TransactionStatusCompleted {
		t.Errorf("deposit status = %s, want completed", got.Status)
	}
	got, _ = store.Transactions().GetByProcessorRef(ctx, release.ProcessorRef)
	if got.Status != model.TransactionStatusFailed {
		t.Errorf("release status = %s, want failed", got.Status)
	}
	if got.FailureReason != "card reversed" {
		t.Errorf("failure reason = %q, want the processor's reason retained", got.FailureReason)
	}
}

func TestUnmatchedRefRetries(t *testing.T) {
	transactions := repository.NewMemoryStore().Transactions()
	w := NewWebhookWorker(transactions)

	err := processEvent(t, w, &ProcessorEventPayload{
		EventID:      "evt_1",
		EventType:    "payment_intent.succeeded",
		ProcessorRef: "pi_not_yet_recorded",
	})
	// The ledger entry may simply not be committed yet; the task must error
	// so asynq retries it later.
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("error = %v, want wrapped ErrNotFound", err)
	}
}
