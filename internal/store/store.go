// Package store implements the remote relational store and the durable job
// queue on PostgreSQL. Uniqueness constraints on (user_id, name) for
// categories and (user_id, amount, date, description, type) for transactions
// convert would-be duplicate inserts into domain.ErrDuplicateRecord, which
// the reconciliation engine treats as "record already exists".
package store

import (
	"errors"
	"log/slog"

	"github.com/lib/pq"

	"github.com/quangdm/finsync-be/shared/postgresql"
)

// Store bundles the repositories over one connection pool.
type Store struct {
	Jobs         *JobStore
	Categories   *CategoryRepo
	Transactions *TransactionRepo
}

// New creates the repositories on top of a connected client.
func New(pg *postgresql.Client, logger *slog.Logger) *Store {
	db := pg.GetDB()
	return &Store{
		Jobs:         &JobStore{db: db, logger: logger},
		Categories:   &CategoryRepo{db: db, logger: logger},
		Transactions: &TransactionRepo{db: db, logger: logger},
	}
}

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
