package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction type constants
const (
	TransactionTypeIncome  = "income"
	TransactionTypeExpense = "expense"
)

// NormalizeTransactionType maps a payload type literal (or its numeric
// type-id equivalent) to a canonical type. ok is false for anything else.
func NormalizeTransactionType(s string) (string, bool) {
	switch s {
	case TransactionTypeIncome, "1":
		return TransactionTypeIncome, true
	case TransactionTypeExpense, "2":
		return TransactionTypeExpense, true
	}
	return "", false
}

// Amount bounds accepted for a transaction.
var (
	MinTransactionAmount = decimal.NewFromFloat(0.01)
	MaxTransactionAmount = decimal.NewFromFloat(999999999.99)
)

// Category is a stored category row, unique per (user_id, name).
type Category struct {
	CategoryID string    `db:"category_id" json:"id"`
	UserID     string    `db:"user_id" json:"-"`
	Name       string    `db:"name" json:"name"`
	Color      string    `db:"color" json:"color,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is a stored transaction row. The storage layer enforces
// uniqueness on (user_id, amount, date, description, type), so replaying an
// upload turns duplicate inserts into no-ops.
type Transaction struct {
	TransactionID string          `db:"transaction_id" json:"id"`
	UserID        string          `db:"user_id" json:"-"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Type          string          `db:"type" json:"type"`
	Date          time.Time       `db:"date" json:"date"`
	Description   string          `db:"description" json:"description,omitempty"`
	CategoryNames []string        `db:"-" json:"categories,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}
