package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quangdm/finsync-be/internal/sync/domain"
)

// CategoryRepo stores categories, unique per (user_id, name).
type CategoryRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// GetByName looks up an owner's category by name.
func (r *CategoryRepo) GetByName(ctx context.Context, userID, name string) (*domain.Category, error) {
	query := `
		SELECT category_id, user_id, name, color, created_at, updated_at
		FROM categories
		WHERE user_id = $1 AND name = $2
	`

	var category domain.Category
	err := r.db.GetContext(ctx, &category, query, userID, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}

	return &category, nil
}

// Insert adds a category. A hit on the (user_id, name) unique index comes
// back as domain.ErrDuplicateRecord.
func (r *CategoryRepo) Insert(ctx context.Context, category *domain.Category) error {
	query := `
		INSERT INTO categories (category_id, user_id, name, color, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		category.CategoryID,
		category.UserID,
		category.Name,
		category.Color,
		category.CreatedAt,
		category.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("category %q: %w", category.Name, domain.ErrDuplicateRecord)
		}
		return fmt.Errorf("failed to insert category: %w", err)
	}

	return nil
}

// UpdateColor overwrites color and updated_at; the caller has already
// decided the incoming record wins.
func (r *CategoryRepo) UpdateColor(ctx context.Context, categoryID, color string, updatedAt time.Time) error {
	query := `
		UPDATE categories
		SET color = $1, updated_at = $2
		WHERE category_id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, color, updatedAt, categoryID); err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}

	return nil
}

// ListByUser returns all categories of an owner, name-ordered.
func (r *CategoryRepo) ListByUser(ctx context.Context, userID string) ([]domain.Category, error) {
	query := `
		SELECT category_id, user_id, name, color, created_at, updated_at
		FROM categories
		WHERE user_id = $1
		ORDER BY name ASC
	`

	var categories []domain.Category
	if err := r.db.SelectContext(ctx, &categories, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	return categories, nil
}
