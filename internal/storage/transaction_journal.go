package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

// JournalEntry is one persisted observation of a pending transaction.
// Payload bytes never land here; the journal records lifecycle, not content.
type JournalEntry struct {
	ID            uuid.UUID
	Status        string
	Channel       string
	Signature     *string
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TransactionJournal persists pending-transaction lifecycles for audit and
// crash-recovery inspection.
type TransactionJournal struct {
	store *Store
}

// NewTransactionJournal creates a new transaction journal
func NewTransactionJournal(store *Store) *TransactionJournal {
	return &TransactionJournal{store: store}
}

// Record inserts a journal row for a freshly built transaction.
func (r *TransactionJournal) Record(ctx context.Context, tx *types.PendingTransaction) error {
	query := `
		INSERT INTO pending_transactions (id, status, channel)
		VALUES ($1, $2, $3)
	`

	_, err := r.store.pool.Exec(ctx, query, tx.ID, string(tx.Status), string(tx.Channel))
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	return nil
}

// UpdateStatus records a lifecycle transition.
func (r *TransactionJournal) UpdateStatus(ctx context.Context, id uuid.UUID, status types.TxStatus, channel types.ChannelKind, signature, failureReason *string) error {
	query := `
		UPDATE pending_transactions
		SET status = $2,
			channel = CASE WHEN $3 = '' THEN channel ELSE $3 END,
			signature = COALESCE($4, signature),
			failure_reason = $5,
			updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.store.pool.Exec(ctx, query, id, string(status), string(channel), signature, failureReason)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}

	return nil
}

// GetByID retrieves a journal entry by transaction ID
func (r *TransactionJournal) GetByID(ctx context.Context, id uuid.UUID) (*JournalEntry, error) {
	query := `
		SELECT id, status, channel, signature, failure_reason, created_at, updated_at
		FROM pending_transactions
		WHERE id = $1
	`

	var entry JournalEntry
	err := r.store.pool.QueryRow(ctx, query, id).Scan(
		&entry.ID,
		&entry.Status,
		&entry.Channel,
		&entry.Signature,
		&entry.FailureReason,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &entry, nil
}

// ListRecent retrieves the most recent journal entries
func (r *TransactionJournal) ListRecent(ctx context.Context, limit int) ([]*JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, status, channel, signature, failure_reason, created_at, updated_at
		FROM pending_transactions
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.store.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var entries []*JournalEntry
	for rows.Next() {
		var entry JournalEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.Status,
			&entry.Channel,
			&entry.Signature,
			&entry.FailureReason,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}
