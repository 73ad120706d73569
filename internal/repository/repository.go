// Package repository is the persistence seam for the escrow core. The
// orchestrator only ever sees these interfaces; the concrete store (Postgres
// in production, memory in tests and local development) is chosen at wiring
// time.
package repository

import (
	"context"
	"errors"

	"github.com/gigvault/escrow/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned by Save when the account was modified
	// since it was loaded. The caller reloads and retries.
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicateID     = errors.New("duplicate id")
)

// EscrowRepository stores escrow accounts with their milestones. Save is an
// atomic compare-and-swap on the account's version counter.
type EscrowRepository interface {
	Create(ctx context.Context, account *model.EscrowAccount) error
	Get(ctx context.Context, id string) (*model.EscrowAccount, error)
	// Save persists the account only if the stored version still equals
	// expectedVersion, then increments it. Returns ErrVersionConflict
	// otherwise.
	Save(ctx context.Context, account *model.EscrowAccount, expectedVersion int64) error
}

// DisputeRepository stores dispute cases.
type DisputeRepository interface {
	Create(ctx context.Context, dispute *model.DisputeCase) error
	Get(ctx context.Context, id string) (*model.DisputeCase, error)
	Save(ctx context.Context, dispute *model.DisputeCase) error
	// ListOpenByEscrow returns disputes in open or under_review status for
	// the account.
	ListOpenByEscrow(ctx context.Context, escrowID string) ([]model.DisputeCase, error)
}

// TransactionRepository is the append-only ledger. Completed and failed
// records are never mutated.
type TransactionRepository interface {
	Append(ctx context.Context, tx *model.EscrowTransaction) error
	ListByEscrow(ctx context.Context, escrowID string) ([]model.EscrowTransaction, error)
	// GetByProcessorRef finds the transaction recorded for a processor-side
	// object, used by webhook reconciliation.
	GetByProcessorRef(ctx context.Context, ref string) (*model.EscrowTransaction, error)
	// MarkStatus updates a pending transaction's status and failure reason.
	MarkStatus(ctx context.Context, id string, status model.TransactionStatus, failureReason string) error
}
