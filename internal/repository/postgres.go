package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigvault/escrow/internal/model"
)

// PostgresStore persists escrow records in Postgres. Accounts and disputes
// are stored as JSONB documents beside the columns the queries need; the
// transactions table is append-only.
//
// Expected schema:
//
//	CREATE TABLE escrow_accounts (
//	    id      TEXT PRIMARY KEY,
//	    version BIGINT NOT NULL,
//	    data    JSONB  NOT NULL
//	);
//	CREATE TABLE dispute_cases (
//	    id        TEXT PRIMARY KEY,
//	    escrow_id TEXT NOT NULL,
//	    status    TEXT NOT NULL,
//	    data      JSONB NOT NULL
//	);
//	CREATE TABLE escrow_transactions (
//	    id            TEXT PRIMARY KEY,
//	    escrow_id     TEXT NOT NULL,
//	    processor_ref TEXT,
//	    status        TEXT NOT NULL,
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    data          JSONB NOT NULL
//	);
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) Escrows() EscrowRepository           { return (*pgEscrows)(s) }
func (s *PostgresStore) Disputes() DisputeRepository         { return (*pgDisputes)(s) }
func (s *PostgresStore) Transactions() TransactionRepository { return (*pgTransactions)(s) }

type pgEscrows PostgresStore

func (s *pgEscrows) Create(ctx context.Context, account *model.EscrowAccount) error {
	account.Version = 1
	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO escrow_accounts (id, version, data) VALUES ($1, $2, $3)",
		account.ID, account.Version, raw)
	if err != nil {
		return fmt.Errorf("escrow insert failed: %w", err)
	}
	return nil
}

func (s *pgEscrows) Get(ctx context.Context, id string) (*model.EscrowAccount, error) {
	var raw []byte
	var version int64
	err := s.db.QueryRow(ctx,
		"SELECT version, data FROM escrow_accounts WHERE id = $1", id).Scan(&version, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var account model.EscrowAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	account.Version = version
	return &account, nil
}

func (s *pgEscrows) Save(ctx context.Context, account *model.EscrowAccount, expectedVersion int64) error {
	account.Version = expectedVersion + 1
	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE escrow_accounts SET version = $1, data = $2 WHERE id = $3 AND version = $4",
		account.Version, raw, account.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("escrow update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row is gone or someone saved a newer version first.
		var exists bool
		if err := s.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM escrow_accounts WHERE id = $1)", account.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

type pgDisputes PostgresStore

func (s *pgDisputes) Create(ctx context.Context, dispute *model.DisputeCase) error {
	raw, err := json.Marshal(dispute)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO dispute_cases (id, escrow_id, status, data) VALUES ($1, $2, $3, $4)",
		dispute.ID, dispute.EscrowID, dispute.Status, raw)
	if err != nil {
		return fmt.Errorf("dispute insert failed: %w", err)
	}
	return nil
}

func (s *pgDisputes) Get(ctx context.Context, id string) (*model.DisputeCase, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		"SELECT data FROM dispute_cases WHERE id = $1", id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var dispute model.DisputeCase
	if err := json.Unmarshal(raw, &dispute); err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (s *pgDisputes) Save(ctx context.Context, dispute *model.DisputeCase) error {
	raw, err := json.Marshal(dispute)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE dispute_cases SET status = $1, data = $2 WHERE id = $3",
		dispute.Status, raw, dispute.ID)
	if err != nil {
		return fmt.Errorf("dispute update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgDisputes) ListOpenByEscrow(ctx context.Context, escrowID string) ([]model.DisputeCase, error) {
	rows, err := s.db.Query(ctx,
		"SELECT data FROM dispute_cases WHERE escrow_id = $1 AND status IN ('open', 'under_review') ORDER BY data->>'createdAt'",
		escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DisputeCase
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var dispute model.DisputeCase
		if err := json.Unmarshal(raw, &dispute); err != nil {
			return nil, err
		}
		out = append(out, dispute)
	}
	return out, rows.Err()
}

type pgTransactions PostgresStore

func (s *pgTransactions) Append(ctx context.Context, tx *model.EscrowTransaction) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO escrow_transactions (id, escrow_id, processor_ref, status, created_at, data) VALUES ($1, $2, $3, $4, $5, $6)",
		tx.ID, tx.EscrowID, tx.ProcessorRef, tx.Status, tx.CreatedAt, raw)
	if err != nil {
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

func (s *pgTransactions) ListByEscrow(ctx context.Context, escrowID string) ([]model.EscrowTransaction, error) {
	rows, err := s.db.Query(ctx,
		"SELECT data FROM escrow_transactions WHERE escrow_id = $1 ORDER BY created_at", escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EscrowTransaction
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var tx model.EscrowTransaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *pgTransactions) GetByProcessorRef(ctx context.Context, ref string) (*model.EscrowTransaction, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		"SELECT data FROM escrow_transactions WHERE processor_ref = $1", ref).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var tx model.EscrowTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *pgTransactions) MarkStatus(ctx context.Context, id string, status model.TransactionStatus, failureReason string) error {
	// Only pending records may change; completed and failed are immutable.
	now := time.Now()
	tag, err := s.db.Exec(ctx,
		`UPDATE escrow_transactions
		 SET status = $1,
		     data = jsonb_set(jsonb_set(jsonb_set(data, '{status}', to_jsonb($1::text)),
		            '{failureReason}', to_jsonb($2::text)), '{processedAt}', to_jsonb($3::timestamptz))
		 WHERE id = $4 AND status = 'pending'`,
		status, failureReason, now, id)
	if err != nil {
		return fmt.Errorf("transaction update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM escrow_transactions WHERE id = $1)", id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}
