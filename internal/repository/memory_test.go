package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gigvault/escrow/internal/model"
)

func testAccount(id string) *model.EscrowAccount {
	return &model.EscrowAccount{
		ID:          id,
		ContractID:  "c1",
		BusinessID:  "b1",
		TalentID:    "t1",
		TotalAmount: decimal.NewFromInt(1000),
		Currency:    "USD",
		Status:      model.EscrowStatusCreated,
		Milestones:  []model.Milestone{{ID: "m1", EscrowID: id, Amount: decimal.NewFromInt(1000)}},
	}
}

func TestEscrowVersioning(t *testing.T) {
	ctx := context.Background()
	escrows := NewMemoryStore().Escrows()

	account := testAccount("e1")
	if err := escrows.Create(ctx, account); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if account.Version != 1 {
		t.Errorf("version after create = %d, want 1", account.Version)
	}
	if err := escrows.Create(ctx, testAccount("e1")); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate create error = %v, want ErrDuplicateID", err)
	}

	// Two readers load the same version; only the first save wins.
	first, err := escrows.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := escrows.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	first.Status = model.EscrowStatusFunded
	if err := escrows.Save(ctx, first, first.Version); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("version after save = %d, want 2", first.Version)
	}

	second.Status = model.EscrowStatusCancelled
	if err := escrows.Save(ctx, second, second.Version); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale Save error = %v, want ErrVersionConflict", err)
	}

	// The losing write left no trace.
	got, _ := escrows.Get(ctx, "e1")
	if got.Status != model.EscrowStatusFunded {
		t.Errorf("status = %s, want funded", got.Status)
	}

	if err := escrows.Save(ctx, testAccount("missing"), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Save missing error = %v, want ErrNotFound", err)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	escrows := NewMemoryStore().Escrows()

	if err := escrows.Create(ctx, testAccount("e1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	a, _ := escrows.Get(ctx, "e1")
	a.Milestones[0].Status = model.MilestoneStatusReleased

	b, _ := escrows.Get(ctx, "e1")
	if b.Milestones[0].Status == model.MilestoneStatusReleased {
		t.Error("mutation through one read leaked into another")
	}
}

func TestDisputeListOpenByEscrow(t *testing.T) {
	ctx := context.Background()
	disputes := NewMemoryStore().Disputes()

	cases := []model.DisputeCase{
		{ID: "d1", EscrowID: "e1", Status: model.DisputeStatusOpen},
		{ID: "d2", EscrowID: "e1", Status: model.DisputeStatusUnderReview},
		{ID: "d3", EscrowID: "e1", Status: model.DisputeStatusResolved},
		{ID: "d4", EscrowID: "e2", Status: model.DisputeStatusOpen},
	}
	for i := range cases {
		if err := disputes.Create(ctx, &cases[i]); err != nil {
			t.Fatalf("Create(%s): %v", cases[i].ID, err)
		}
	}

	open, err := disputes.ListOpenByEscrow(ctx, "e1")
	if err != nil {
		t.Fatalf("ListOpenByEscrow: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open disputes = %d, want 2 (open and under_review)", len(open))
	}

	if err := disputes.Save(ctx, &model.DisputeCase{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Save missing error = %v, want ErrNotFound", err)
	}
}

func TestTransactionLedger(t *testing.T) {
	ctx := context.Background()
	transactions := NewMemoryStore().Transactions()

	tx := &model.EscrowTransaction{
		ID:           "tx1",
		EscrowID:     "e1",
		Type:         model.TransactionTypeRelease,
		Amount:       decimal.NewFromInt(100),
		Status:       model.TransactionStatusPending,
		ProcessorRef: "pi_1",
	}
	if err := transactions.Append(ctx, tx); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := transactions.Append(ctx, tx); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate Append error = %v, want ErrDuplicateID", err)
	}

	got, err := transactions.GetByProcessorRef(ctx, "pi_1")
	if err != nil {
		t.Fatalf("GetByProcessorRef: %v", err)
	}
	if got.ID != "tx1" {
		t.Errorf("ID = %s, want tx1", got.ID)
	}
	if _, err := transactions.GetByProcessorRef(ctx, "pi_unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown ref error = %v, want ErrNotFound", err)
	}

	if err := transactions.MarkStatus(ctx, "tx1", model.TransactionStatusCompleted, ""); err != nil {
		t.Fatalf("MarkStatus: %v", err)
	}
	got, _ = transactions.GetByProcessorRef(ctx, "pi_1")
	if got.Status != model.TransactionStatusCompleted || got.ProcessedAt == nil {
		t.Errorf("tx after MarkStatus = %+v", got)
	}

	// Settled records are immutable.
	if err := transactions.MarkStatus(ctx, "tx1", model.TransactionStatusFailed, "late event"); err != nil {
		t.Fatalf("MarkStatus on settled: %v", err)
	}
	got, _ = transactions.GetByProcessorRef(ctx, "pi_1")
	if got.Status != model.TransactionStatusCompleted {
		t.Errorf("status = %s, settled record must not change", got.Status)
	}

	list, err := transactions.ListByEscrow(ctx, "e1")
	if err != nil {
		t.Fatalf("ListByEscrow: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("transactions = %d, want 1", len(list))
	}
}
