package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/quangdm/finsync-be/internal/sync/domain"
)

// TransactionRepo stores transactions and their category links. The link
// table is a pure many-to-many with cascade delete on either side.
type TransactionRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

const transactionColumns = `
	transaction_id, user_id, amount, type, date, description, created_at, updated_at
`

// FindByKey matches a transaction on the exact field key
// (owner, amount, date, description, type).
func (r *TransactionRepo) FindByKey(ctx context.Context, userID string, amount decimal.Decimal, date time.Time, description, txnType string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1 AND amount = $2 AND date = $3 AND description = $4 AND type = $5
	`

	var txn domain.Transaction
	err := r.db.GetContext(ctx, &txn, query, userID, amount, date, description, txnType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction not found: %w", sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}

	return &txn, nil
}

// Insert adds a transaction. A hit on the exact-field unique index comes
// back as domain.ErrDuplicateRecord.
func (r *TransactionRepo) Insert(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		txn.TransactionID,
		txn.UserID,
		txn.Amount,
		txn.Type,
		txn.Date,
		txn.Description,
		txn.CreatedAt,
		txn.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("transaction %s %s: %w", txn.Type, txn.Amount, domain.ErrDuplicateRecord)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

// ReplaceCategoryLinks clears a transaction's existing category links and
// writes the current set. No incremental diff of the association set: the
// full replace keeps the structure simple at the cost of extra writes.
func (r *TransactionRepo) ReplaceCategoryLinks(ctx context.Context, transactionID string, categoryIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_categories WHERE transaction_id = $1`, transactionID); err != nil {
		return fmt.Errorf("failed to clear category links: %w", err)
	}

	for _, categoryID := range categoryIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transaction_categories (transaction_id, category_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			transactionID, categoryID,
		)
		if err != nil {
			return fmt.Errorf("failed to link category: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit category links: %w", err)
	}

	return nil
}

// ListByUser returns all transactions of an owner, newest date first, with
// category names resolved on each row.
func (r *TransactionRepo) ListByUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY date DESC, transaction_id DESC
	`

	var transactions []domain.Transaction
	if err := r.db.SelectContext(ctx, &transactions, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	if len(transactions) == 0 {
		return transactions, nil
	}

	ids := make([]string, len(transactions))
	for i, txn := range transactions {
		ids[i] = txn.TransactionID
	}

	names, err := r.categoryNames(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range transactions {
		transactions[i].CategoryNames = names[transactions[i].TransactionID]
	}

	return transactions, nil
}

// categoryNames maps transaction ids to their linked category names.
func (r *TransactionRepo) categoryNames(ctx context.Context, transactionIDs []string) (map[string][]string, error) {
	query := `
		SELECT tc.transaction_id, c.name
		FROM transaction_categories tc
		JOIN categories c ON c.category_id = tc.category_id
		WHERE tc.transaction_id = ANY($1)
		ORDER BY c.name ASC
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(transactionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load category links: %w", err)
	}
	defer rows.Close()

	names := make(map[string][]string)
	for rows.Next() {
		var transactionID, name string
		if err := rows.Scan(&transactionID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan category link: %w", err)
		}
		names[transactionID] = append(names[transactionID], name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read category links: %w", err)
	}

	return names, nil
}
