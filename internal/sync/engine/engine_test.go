package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quangdm/finsync-be/internal/sync/domain"
	"github.com/quangdm/finsync-be/internal/sync/engine"
	"github.com/quangdm/finsync-be/internal/sync/resilience"
)

const testUser = "user-1"

type fakeCategoryStore struct {
	rows    map[string]*domain.Category // userID|name
	getErrs map[string][]error
}

func newFakeCategoryStore() *fakeCategoryStore {
	return &fakeCategoryStore{
		rows:    make(map[string]*domain.Category),
		getErrs: make(map[string][]error),
	}
}

func (s *fakeCategoryStore) key(userID, name string) string {
	return userID + "|" + name
}

// queueGetError makes the next GetByName calls for name return the given
// errors, in order, before falling through to the stored rows.
func (s *fakeCategoryStore) queueGetError(name string, errs ...error) {
	s.getErrs[name] = append(s.getErrs[name], errs...)
}

func (s *fakeCategoryStore) GetByName(_ context.Context, userID, name string) (*domain.Category, error) {
	if queue := s.getErrs[name]; len(queue) > 0 {
		err := queue[0]
		s.getErrs[name] = queue[1:]
		return nil, err
	}
	if row, ok := s.rows[s.key(userID, name)]; ok {
		clone := *row
		return &clone, nil
	}
	return nil, domain.ErrCategoryNotFound
}

func (s *fakeCategoryStore) Insert(_ context.Context, category *domain.Category) error {
	key := s.key(category.UserID, category.Name)
	if _, ok := s.rows[key]; ok {
		return domain.ErrDuplicateRecord
	}
	clone := *category
	s.rows[key] = &clone
	return nil
}

func (s *fakeCategoryStore) UpdateColor(_ context.Context, categoryID, color string, updatedAt time.Time) error {
	for _, row := range s.rows {
		if row.CategoryID == categoryID {
			row.Color = color
			row.UpdatedAt = updatedAt
			return nil
		}
	}
	return domain.ErrCategoryNotFound
}

func (s *fakeCategoryStore) ListByUser(_ context.Context, userID string) ([]domain.Category, error) {
	var out []domain.Category
	for _, row := range s.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeCategoryStore) mustGet(t *testing.T, userID, name string) *domain.Category {
	t.Helper()
	row, ok := s.rows[s.key(userID, name)]
	require.True(t, ok, "category %q not stored", name)
	return row
}

type fakeTransactionStore struct {
	rows  []*domain.Transaction
	links map[string][]string
}

func newFakeTransactionStore() *fakeTransactionStore {
	return &fakeTransactionStore{links: make(map[string][]string)}
}

func (s *fakeTransactionStore) find(userID string, amount decimal.Decimal, date time.Time, description, txnType string) *domain.Transaction {
	for _, row := range s.rows {
		if row.UserID == userID && row.Amount.Equal(amount) && row.Date.Equal(date) &&
			row.Description == description && row.Type == txnType {
			return row
		}
	}
	return nil
}

func (s *fakeTransactionStore) FindByKey(_ context.Context, userID string, amount decimal.Decimal, date time.Time, description, txnType string) (*domain.Transaction, error) {
	if row := s.find(userID, amount, date, description, txnType); row != nil {
		clone := *row
		return &clone, nil
	}
	return nil, fmt.Errorf("transaction not found")
}

func (s *fakeTransactionStore) Insert(_ context.Context, txn *domain.Transaction) error {
	if s.find(txn.UserID, txn.Amount, txn.Date, txn.Description, txn.Type) != nil {
		return domain.ErrDuplicateRecord
	}
	clone := *txn
	s.rows = append(s.rows, &clone)
	return nil
}

func (s *fakeTransactionStore) ReplaceCategoryLinks(_ context.Context, transactionID string, categoryIDs []string) error {
	s.links[transactionID] = categoryIDs
	return nil
}

func (s *fakeTransactionStore) ListByUser(_ context.Context, userID string) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, row := range s.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func newTestEngine(categories *fakeCategoryStore, transactions *fakeTransactionStore) *engine.Engine {
	return engine.New(&engine.Config{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Categories:   categories,
		Transactions: transactions,
		Retry: resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
			Multiplier:  1,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
		Now: func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func ts(value string) *time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestSyncCategories_CreatesNewRecords(t *testing.T) {
	categories := newFakeCategoryStore()
	eng := newTestEngine(categories, newFakeTransactionStore())

	result := eng.SyncCategories(context.Background(), testUser, []domain.PayloadCategory{
		{Name: "Food", Color: "#FF0000"},
		{Name: "Rent"},
	})

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Empty(t, result.Errors)

	stored := categories.mustGet(t, testUser, "Food")
	assert.Equal(t, "#FF0000", stored.Color)
	assert.NotEmpty(t, stored.CategoryID)
}

func TestSyncCategories_LastWriteWins(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		incoming   *time.Time
		wantColor  string
		wantUpdate int
	}{
		{
			name:       "newer incoming overwrites",
			incoming:   ts("2024-05-02T00:00:00Z"),
			wantColor:  "#00FF00",
			wantUpdate: 1,
		},
		{
			name:       "older incoming is ignored",
			incoming:   ts("2024-04-30T00:00:00Z"),
			wantColor:  "#FF0000",
			wantUpdate: 0,
		},
		{
			name:       "tie favors the existing record",
			incoming:   ts("2024-05-01T00:00:00Z"),
			wantColor:  "#FF0000",
			wantUpdate: 0,
		},
		{
			name:       "missing timestamp loses",
			incoming:   nil,
			wantColor:  "#FF0000",
			wantUpdate: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			categories := newFakeCategoryStore()
			categories.rows[categories.key(testUser, "Food")] = &domain.Category{
				CategoryID: "cat-1",
				UserID:     testUser,
				Name:       "Food",
				Color:      "#FF0000",
				UpdatedAt:  base,
			}
			eng := newTestEngine(categories, newFakeTransactionStore())

			result := eng.SyncCategories(context.Background(), testUser, []domain.PayloadCategory{
				{Name: "Food", Color: "#00FF00", UpdatedAt: tt.incoming},
			})

			assert.Equal(t, 0, result.Created)
			assert.Equal(t, tt.wantUpdate, result.Updated)
			assert.Empty(t, result.Errors)
			assert.Equal(t, tt.wantColor, categories.mustGet(t, testUser, "Food").Color)
		})
	}
}

func TestSyncCategories_ReplayIsNoop(t *testing.T) {
	categories := newFakeCategoryStore()
	eng := newTestEngine(categories, newFakeTransactionStore())

	payload := []domain.PayloadCategory{
		{Name: "Food", Color: "#FF0000", UpdatedAt: ts("2024-05-01T00:00:00Z")},
	}

	first := eng.SyncCategories(context.Background(), testUser, payload)
	assert.Equal(t, 1, first.Created)

	second := eng.SyncCategories(context.Background(), testUser, payload)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Empty(t, second.Errors)
}

func TestSyncCategories_PartialFailure(t *testing.T) {
	categories := newFakeCategoryStore()
	// a non-retryable failure on one lookup
	categories.queueGetError("Travel", &resilience.StatusError{StatusCode: 400})
	eng := newTestEngine(categories, newFakeTransactionStore())

	batch := []domain.PayloadCategory{
		{Name: "Food"},
		{Name: "Rent"},
		{Name: "Savings"},
		{Name: "Travel"},
		{Name: "Health"},
	}

	result := eng.SyncCategories(context.Background(), testUser, batch)

	assert.Equal(t, 4, result.Created)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 3, result.Errors[0].Index)
	assert.Equal(t, "Travel", result.Errors[0].Item)
}

func TestSyncCategories_RetriesTransientFailures(t *testing.T) {
	categories := newFakeCategoryStore()
	categories.queueGetError("Food",
		&resilience.StatusError{StatusCode: 500},
		&resilience.StatusError{StatusCode: 503},
	)
	eng := newTestEngine(categories, newFakeTransactionStore())

	result := eng.SyncCategories(context.Background(), testUser, []domain.PayloadCategory{{Name: "Food"}})

	assert.Equal(t, 1, result.Created)
	assert.Empty(t, result.Errors)
}

func TestSyncCategories_InsertRaceFallsBackToUpdate(t *testing.T) {
	categories := newFakeCategoryStore()
	// the row exists, but the first lookup misses it: the insert hits the
	// duplicate and the retry takes the update path
	categories.rows[categories.key(testUser, "Food")] = &domain.Category{
		CategoryID: "cat-1",
		UserID:     testUser,
		Name:       "Food",
		Color:      "#FF0000",
		UpdatedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	categories.queueGetError("Food", domain.ErrCategoryNotFound)
	eng := newTestEngine(categories, newFakeTransactionStore())

	result := eng.SyncCategories(context.Background(), testUser, []domain.PayloadCategory{
		{Name: "Food", Color: "#00FF00", UpdatedAt: ts("2024-05-02T00:00:00Z")},
	})

	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "#00FF00", categories.mustGet(t, testUser, "Food").Color)
}

func TestSyncTransactions_CreateAndReplay(t *testing.T) {
	transactions := newFakeTransactionStore()
	eng := newTestEngine(newFakeCategoryStore(), transactions)

	batch := []domain.PayloadTransaction{
		{Amount: "12.50", Type: "expense", Date: "2024-03-01", Description: "groceries"},
		{Amount: "2500", Type: "income", Date: "2024-03-01 09:30:00"},
	}

	first := eng.SyncTransactions(context.Background(), testUser, batch)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, first.Updated)
	assert.Empty(t, first.Errors)
	assert.Len(t, transactions.rows, 2)

	// replay matches on the exact field key and must not duplicate
	second := eng.SyncTransactions(context.Background(), testUser, batch)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Updated)
	assert.Empty(t, second.Errors)
	assert.Len(t, transactions.rows, 2)
}

func TestSyncTransactions_InvalidItemsFailInPlace(t *testing.T) {
	transactions := newFakeTransactionStore()
	eng := newTestEngine(newFakeCategoryStore(), transactions)

	result := eng.SyncTransactions(context.Background(), testUser, []domain.PayloadTransaction{
		{Amount: "10", Type: "expense", Date: "2024-03-01"},
		{Amount: "abc", Type: "expense", Date: "2024-03-01"},
		{Amount: "10", Type: "transfer", Date: "2024-03-01"},
		{Amount: "10", Type: "expense", Date: "bad-date"},
	})

	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, 1, result.Errors[0].Index)
	assert.Equal(t, 2, result.Errors[1].Index)
	assert.Equal(t, 3, result.Errors[2].Index)
	assert.Len(t, transactions.rows, 1)
}

func TestSyncTransactions_ResolvesCategoryLinks(t *testing.T) {
	categories := newFakeCategoryStore()
	categories.rows[categories.key(testUser, "Food")] = &domain.Category{
		CategoryID: "cat-food",
		UserID:     testUser,
		Name:       "Food",
	}
	transactions := newFakeTransactionStore()
	eng := newTestEngine(categories, transactions)

	result := eng.SyncTransactions(context.Background(), testUser, []domain.PayloadTransaction{
		{Amount: "10", Type: "expense", Date: "2024-03-01", Categories: []string{"Food", "Snacks"}},
	})

	assert.Equal(t, 1, result.Created)
	require.Empty(t, result.Errors)

	// unknown references are created as name-only categories
	created := categories.mustGet(t, testUser, "Snacks")

	require.Len(t, transactions.rows, 1)
	linked := transactions.links[transactions.rows[0].TransactionID]
	assert.Equal(t, []string{"cat-food", created.CategoryID}, linked)
}

func TestSyncTransactions_NumericTypeIDs(t *testing.T) {
	transactions := newFakeTransactionStore()
	eng := newTestEngine(newFakeCategoryStore(), transactions)

	result := eng.SyncTransactions(context.Background(), testUser, []domain.PayloadTransaction{
		{Amount: "10", Type: "1", Date: "2024-03-01"},
		{Amount: "20", Type: "2", Date: "2024-03-01"},
	})

	require.Empty(t, result.Errors)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, domain.TransactionTypeIncome, transactions.rows[0].Type)
	assert.Equal(t, domain.TransactionTypeExpense, transactions.rows[1].Type)
}

func TestUpload(t *testing.T) {
	eng := newTestEngine(newFakeCategoryStore(), newFakeTransactionStore())

	var progress [][2]int
	result, err := eng.Upload(context.Background(), testUser, &domain.SyncPayload{
		Categories: []domain.PayloadCategory{{Name: "Food"}},
		Transactions: []domain.PayloadTransaction{
			{Amount: "10", Type: "expense", Date: "2024-03-01"},
			{Amount: "20", Type: "income", Date: "2024-03-02"},
		},
	}, func(processed, total int) {
		progress = append(progress, [2]int{processed, total})
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Categories.Created)
	assert.Equal(t, 2, result.Transactions.Created)
	assert.Equal(t, [][2]int{{1, 3}, {3, 3}}, progress)
}

func TestUpload_ValidationAbortsBeforeWriting(t *testing.T) {
	categories := newFakeCategoryStore()
	eng := newTestEngine(categories, newFakeTransactionStore())

	_, err := eng.Upload(context.Background(), testUser, &domain.SyncPayload{
		Categories: []domain.PayloadCategory{{Name: "Food"}, {Name: ""}},
	}, nil)

	require.Error(t, err)
	var classified *resilience.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, resilience.TypeValidation, classified.Type)
	assert.False(t, classified.Retryable)
	assert.Empty(t, categories.rows, "nothing may be written on validation failure")
}

func TestGetUserData(t *testing.T) {
	categories := newFakeCategoryStore()
	transactions := newFakeTransactionStore()
	eng := newTestEngine(categories, transactions)

	_, err := eng.Upload(context.Background(), testUser, &domain.SyncPayload{
		Categories: []domain.PayloadCategory{{Name: "Food"}, {Name: "Rent"}},
		Transactions: []domain.PayloadTransaction{
			{Amount: "10", Type: "expense", Date: "2024-03-01"},
		},
	}, nil)
	require.NoError(t, err)

	snapshot, err := eng.GetUserData(context.Background(), testUser)
	require.NoError(t, err)
	assert.Len(t, snapshot.Categories, 2)
	assert.Len(t, snapshot.Transactions, 1)
	assert.Equal(t, map[string]int{"categories": 2, "transactions": 1}, snapshot.Counts())

	other, err := eng.GetUserData(context.Background(), "someone-else")
	require.NoError(t, err)
	assert.Empty(t, other.Categories)
	assert.Empty(t, other.Transactions)
}

func TestFullSync(t *testing.T) {
	eng := newTestEngine(newFakeCategoryStore(), newFakeTransactionStore())

	result, err := eng.FullSync(context.Background(), testUser, &domain.SyncPayload{
		Categories: []domain.PayloadCategory{{Name: "Food"}},
		Transactions: []domain.PayloadTransaction{
			{Amount: "10", Type: "expense", Date: "2024-03-01"},
		},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Upload.Categories.Created)
	assert.Equal(t, 1, result.Upload.Transactions.Created)
	assert.Len(t, result.Download.Categories, 1)
	assert.Len(t, result.Download.Transactions, 1)
}

func TestSyncResult_SerializesEmptyErrors(t *testing.T) {
	raw, err := json.Marshal(domain.NewSyncResult())
	require.NoError(t, err)
	assert.JSONEq(t, `{"created":0,"updated":0,"errors":[]}`, string(raw))
}
