// Package engine merges local payloads into the remote store with
// last-write-wins conflict resolution and partial-failure semantics: every
// item in a batch is attempted, failures are reported at item granularity,
// and one bad item never aborts its siblings.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quangdm/finsync-be/internal/sync/domain"
	"github.com/quangdm/finsync-be/internal/sync/resilience"
	"github.com/quangdm/finsync-be/internal/sync/validate"
)

// CategoryStore is the remote store surface for categories.
type CategoryStore interface {
	GetByName(ctx context.Context, userID, name string) (*domain.Category, error)
	Insert(ctx context.Context, category *domain.Category) error
	UpdateColor(ctx context.Context, categoryID, color string, updatedAt time.Time) error
	ListByUser(ctx context.Context, userID string) ([]domain.Category, error)
}

// TransactionStore is the remote store surface for transactions and their
// category links.
type TransactionStore interface {
	FindByKey(ctx context.Context, userID string, amount decimal.Decimal, date time.Time, description, txnType string) (*domain.Transaction, error)
	Insert(ctx context.Context, txn *domain.Transaction) error
	ReplaceCategoryLinks(ctx context.Context, transactionID string, categoryIDs []string) error
	ListByUser(ctx context.Context, userID string) ([]domain.Transaction, error)
}

// Config holds engine dependencies.
type Config struct {
	Logger       *slog.Logger
	Categories   CategoryStore
	Transactions TransactionStore
	Retry        resilience.RetryConfig
	Limits       validate.Limits
	Now          func() time.Time
}

// Engine is the reconciliation engine.
type Engine struct {
	logger       *slog.Logger
	categories   CategoryStore
	transactions TransactionStore
	retry        resilience.RetryConfig
	limits       validate.Limits
	now          func() time.Time
}

// New creates a reconciliation engine.
func New(cfg *Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		logger:       cfg.Logger,
		categories:   cfg.Categories,
		transactions: cfg.Transactions,
		retry:        cfg.Retry,
		limits:       cfg.Limits,
		now:          now,
	}
}

// ProgressFunc is called after each synced item with running counters.
type ProgressFunc func(processed, total int)

// Upload validates the payload, then syncs categories to completion before
// transactions. Categories go first because transaction-category link
// resolution depends on category rows already existing. Validation failures
// abort before anything is written.
func (e *Engine) Upload(ctx context.Context, userID string, payload *domain.SyncPayload, onProgress ProgressFunc) (*domain.UploadResult, error) {
	result, err := validate.PayloadOrError(payload, e.limits)
	if err != nil {
		return nil, resilience.NewError(resilience.TypeValidation, err)
	}
	for _, warning := range result.Warnings {
		e.logger.Warn("payload warning",
			slog.String("user_id", userID),
			slog.String("field", warning.Field),
			slog.String("message", warning.Message),
		)
	}

	total := payload.ItemCount()
	processed := 0
	emit := func(n int) {
		processed += n
		if onProgress != nil {
			onProgress(processed, total)
		}
	}

	upload := &domain.UploadResult{
		Categories:   domain.NewSyncResult(),
		Transactions: domain.NewSyncResult(),
	}

	if len(payload.Categories) > 0 {
		upload.Categories = e.SyncCategories(ctx, userID, payload.Categories)
	}
	emit(len(payload.Categories))

	if len(payload.Transactions) > 0 {
		upload.Transactions = e.SyncTransactions(ctx, userID, payload.Transactions)
	}
	emit(len(payload.Transactions))

	return upload, nil
}

// SyncCategories upserts categories for an owner. Matching is by
// (owner, name); an existing record is only overwritten when the incoming
// item's modification timestamp is strictly newer. Ties favor the existing
// record so replays are no-ops.
func (e *Engine) SyncCategories(ctx context.Context, userID string, categories []domain.PayloadCategory) *domain.SyncResult {
	result := domain.NewSyncResult()
	failures := resilience.NewAggregator()

	for i, item := range categories {
		outcome, err := e.syncCategory(ctx, userID, &item)
		if err != nil {
			failures.Add(err)
			result.Errors = append(result.Errors, domain.ItemError{
				Index: i,
				Item:  item.Name,
				Error: err.Error(),
			})
			continue
		}
		switch outcome {
		case outcomeCreated:
			result.Created++
		case outcomeUpdated:
			result.Updated++
		}
	}

	e.logBatch("categories", userID, result, failures)
	return result
}

type syncOutcome int

const (
	outcomeNoop syncOutcome = iota
	outcomeCreated
	outcomeUpdated
)

func (e *Engine) syncCategory(ctx context.Context, userID string, item *domain.PayloadCategory) (syncOutcome, error) {
	var outcome syncOutcome

	err := resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		existing, err := e.categories.GetByName(ctx, userID, item.Name)
		switch {
		case errors.Is(err, domain.ErrCategoryNotFound):
			if insertErr := e.insertCategory(ctx, userID, item); insertErr != nil {
				if errors.Is(insertErr, domain.ErrDuplicateRecord) {
					// Lost an insert race; next retry takes the update path.
					return resilience.NewError(resilience.TypeServer, insertErr)
				}
				return insertErr
			}
			outcome = outcomeCreated
			return nil
		case err != nil:
			return err
		}

		incoming := item.ModTime()
		if !incoming.After(existing.UpdatedAt) {
			outcome = outcomeNoop
			return nil
		}
		if err := e.categories.UpdateColor(ctx, existing.CategoryID, item.Color, incoming); err != nil {
			return err
		}
		outcome = outcomeUpdated
		return nil
	}, e.logRetry("sync category", userID))

	return outcome, err
}

func (e *Engine) insertCategory(ctx context.Context, userID string, item *domain.PayloadCategory) error {
	timestamp := item.ModTime()
	if timestamp.IsZero() {
		timestamp = e.now().UTC()
	}
	return e.categories.Insert(ctx, &domain.Category{
		CategoryID: uuid.New().String(),
		UserID:     userID,
		Name:       item.Name,
		Color:      item.Color,
		CreatedAt:  timestamp,
		UpdatedAt:  timestamp,
	})
}

// SyncTransactions upserts transactions for an owner. Transactions are
// append-mostly: an item matches an existing record on the exact field key
// (owner, amount, date, description, type), and the storage uniqueness
// constraint turns duplicate inserts into a no-op. Category links are
// resynchronized as a full replace either way.
func (e *Engine) SyncTransactions(ctx context.Context, userID string, transactions []domain.PayloadTransaction) *domain.SyncResult {
	result := domain.NewSyncResult()
	failures := resilience.NewAggregator()

	for i, item := range transactions {
		outcome, err := e.syncTransaction(ctx, userID, &item)
		if err != nil {
			failures.Add(err)
			result.Errors = append(result.Errors, domain.ItemError{
				Index: i,
				Item:  itemLabel(&item),
				Error: err.Error(),
			})
			continue
		}
		switch outcome {
		case outcomeCreated:
			result.Created++
		case outcomeUpdated:
			result.Updated++
		}
	}

	e.logBatch("transactions", userID, result, failures)
	return result
}

func itemLabel(item *domain.PayloadTransaction) string {
	return fmt.Sprintf("%s %s on %s", item.Type, item.Amount, item.Date)
}

func (e *Engine) syncTransaction(ctx context.Context, userID string, item *domain.PayloadTransaction) (syncOutcome, error) {
	amount, err := decimal.NewFromString(item.Amount.String())
	if err != nil {
		return outcomeNoop, resilience.NewError(resilience.TypeValidation,
			fmt.Errorf("amount %q is not a number", item.Amount.String()))
	}
	date, err := validate.ParseDate(item.Date)
	if err != nil {
		return outcomeNoop, resilience.NewError(resilience.TypeValidation, err)
	}
	txnType, ok := domain.NormalizeTransactionType(item.Type)
	if !ok {
		return outcomeNoop, resilience.NewError(resilience.TypeValidation,
			fmt.Errorf("type %q must be income or expense", item.Type))
	}

	var outcome syncOutcome

	retryErr := resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		now := e.now().UTC()
		txn := &domain.Transaction{
			TransactionID: uuid.New().String(),
			UserID:        userID,
			Amount:        amount,
			Type:          txnType,
			Date:          date,
			Description:   item.Description,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		outcome = outcomeCreated
		if err := e.transactions.Insert(ctx, txn); err != nil {
			if !errors.Is(err, domain.ErrDuplicateRecord) {
				return err
			}
			existing, findErr := e.transactions.FindByKey(ctx, userID, amount, date, item.Description, txnType)
			if findErr != nil {
				return findErr
			}
			txn = existing
			outcome = outcomeUpdated
		}

		categoryIDs, err := e.resolveCategoryIDs(ctx, userID, item.Categories)
		if err != nil {
			return err
		}
		return e.transactions.ReplaceCategoryLinks(ctx, txn.TransactionID, categoryIDs)
	}, e.logRetry("sync transaction", userID))

	return outcome, retryErr
}

// resolveCategoryIDs maps category names to ids, creating name-only
// categories for references the owner does not have yet.
func (e *Engine) resolveCategoryIDs(ctx context.Context, userID string, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		category, err := e.categories.GetByName(ctx, userID, name)
		if errors.Is(err, domain.ErrCategoryNotFound) {
			created := &domain.Category{
				CategoryID: uuid.New().String(),
				UserID:     userID,
				Name:       name,
				CreatedAt:  e.now().UTC(),
				UpdatedAt:  e.now().UTC(),
			}
			if insertErr := e.categories.Insert(ctx, created); insertErr != nil {
				if !errors.Is(insertErr, domain.ErrDuplicateRecord) {
					return nil, insertErr
				}
				if category, err = e.categories.GetByName(ctx, userID, name); err != nil {
					return nil, err
				}
			} else {
				category = created
			}
		} else if err != nil {
			return nil, err
		}
		ids = append(ids, category.CategoryID)
	}
	return ids, nil
}

// GetUserData is a pure read projection of an owner's categories and
// transactions, with each transaction's category names resolved. It never
// mutates.
func (e *Engine) GetUserData(ctx context.Context, userID string) (*domain.DownloadResult, error) {
	var snapshot domain.DownloadResult

	err := resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		categories, err := e.categories.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		transactions, err := e.transactions.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		snapshot = domain.DownloadResult{Categories: categories, Transactions: transactions}
		return nil
	}, e.logRetry("get user data", userID))

	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// FullSync uploads the local payload (skipping empty kinds), then
// unconditionally fetches and returns the authoritative remote snapshot.
func (e *Engine) FullSync(ctx context.Context, userID string, payload *domain.SyncPayload, onProgress ProgressFunc) (*domain.FullSyncResult, error) {
	upload, err := e.Upload(ctx, userID, payload, onProgress)
	if err != nil {
		return nil, err
	}

	download, err := e.GetUserData(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &domain.FullSyncResult{Upload: upload, Download: download}, nil
}

func (e *Engine) logBatch(kind, userID string, result *domain.SyncResult, failures *resilience.Aggregator) {
	if failures.HasErrors() {
		e.logger.Warn("batch finished with item failures",
			slog.String("kind", kind),
			slog.String("user_id", userID),
			slog.Int("created", result.Created),
			slog.Int("updated", result.Updated),
			slog.Int("failed", failures.Count()),
			slog.Bool("any_retryable", failures.AnyRetryable()),
			slog.Any("failure_types", failures.CountByType()),
		)
		return
	}
	e.logger.Info("batch synced",
		slog.String("kind", kind),
		slog.String("user_id", userID),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
	)
}

func (e *Engine) logRetry(operation, userID string) resilience.RetryCallback {
	return func(attempt int, delay time.Duration, err *resilience.ClassifiedError) {
		e.logger.Warn("retrying operation",
			slog.String("operation", operation),
			slog.String("user_id", userID),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", delay),
			slog.String("error_type", string(err.Type)),
			slog.String("error", err.Error()),
		)
	}
}
