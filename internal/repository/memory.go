package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gigvault/escrow/internal/model"
)

// MemoryStore keeps all records in process memory. It backs tests and local
// development when Postgres is not configured. Records are deep-copied via
// JSON on the way in and out so callers never share entity memory.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string][]byte
	versions     map[string]int64
	disputes     map[string][]byte
	transactions []model.EscrowTransaction
	txByID       map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string][]byte),
		versions: make(map[string]int64),
		disputes: make(map[string][]byte),
		txByID:   make(map[string]int),
	}
}

// Escrows returns the store's EscrowRepository view.
func (s *MemoryStore) Escrows() EscrowRepository { return (*memoryEscrows)(s) }

// Disputes returns the store's DisputeRepository view.
func (s *MemoryStore) Disputes() DisputeRepository { return (*memoryDisputes)(s) }

// Transactions returns the store's TransactionRepository view.
func (s *MemoryStore) Transactions() TransactionRepository { return (*memoryTransactions)(s) }

type memoryEscrows MemoryStore

func (s *memoryEscrows) Create(ctx context.Context, account *model.EscrowAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; ok {
		return ErrDuplicateID
	}
	account.Version = 1
	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	s.accounts[account.ID] = raw
	s.versions[account.ID] = 1
	return nil
}

func (s *memoryEscrows) Get(ctx context.Context, id string) (*model.EscrowAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	var account model.EscrowAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *memoryEscrows) Save(ctx context.Context, account *model.EscrowAccount, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.versions[account.ID]
	if !ok {
		return ErrNotFound
	}
	if current != expectedVersion {
		return ErrVersionConflict
	}
	account.Version = current + 1
	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	s.accounts[account.ID] = raw
	s.versions[account.ID] = account.Version
	return nil
}

type memoryDisputes MemoryStore

func (s *memoryDisputes) Create(ctx context.Context, dispute *model.DisputeCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disputes[dispute.ID]; ok {
		return ErrDuplicateID
	}
	raw, err := json.Marshal(dispute)
	if err != nil {
		return err
	}
	s.disputes[dispute.ID] = raw
	return nil
}

func (s *memoryDisputes) Get(ctx context.Context, id string) (*model.DisputeCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	var dispute model.DisputeCase
	if err := json.Unmarshal(raw, &dispute); err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (s *memoryDisputes) Save(ctx context.Context, dispute *model.DisputeCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disputes[dispute.ID]; !ok {
		return ErrNotFound
	}
	raw, err := json.Marshal(dispute)
	if err != nil {
		return err
	}
	s.disputes[dispute.ID] = raw
	return nil
}

func (s *memoryDisputes) ListOpenByEscrow(ctx context.Context, escrowID string) ([]model.DisputeCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.DisputeCase
	for _, raw := range s.disputes {
		var dispute model.DisputeCase
		if err := json.Unmarshal(raw, &dispute); err != nil {
			return nil, err
		}
		if dispute.EscrowID == escrowID && dispute.IsOpen() {
			out = append(out, dispute)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memoryTransactions MemoryStore

func (s *memoryTransactions) Append(ctx context.Context, tx *model.EscrowTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txByID[tx.ID]; ok {
		return ErrDuplicateID
	}
	s.transactions = append(s.transactions, *tx)
	s.txByID[tx.ID] = len(s.transactions) - 1
	return nil
}

func (s *memoryTransactions) ListByEscrow(ctx context.Context, escrowID string) ([]model.EscrowTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.EscrowTransaction
	for _, tx := range s.transactions {
		if tx.EscrowID == escrowID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *memoryTransactions) GetByProcessorRef(ctx context.Context, ref string) (*model.EscrowTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.transactions {
		if s.transactions[i].ProcessorRef == ref {
			tx := s.transactions[i]
			return &tx, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryTransactions) MarkStatus(ctx context.Context, id string, status model.TransactionStatus, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.txByID[id]
	if !ok {
		return ErrNotFound
	}
	tx := &s.transactions[idx]
	// Completed and failed records are immutable.
	if tx.Status != model.TransactionStatusPending {
		return nil
	}
	tx.Status = status
	tx.FailureReason = failureReason
	now := time.Now()
	tx.ProcessedAt = &now
	return nil
}
