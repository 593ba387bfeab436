// Package validate checks the structural and semantic correctness of a sync
// payload before anything is persisted or transmitted. It is purely
// analytical: no side effects, never panics, always returns a structured
// result. Callers decide whether to abort on errors or proceed with warnings
// logged.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quangdm/finsync-be/internal/sync/domain"
)

// Limits bounds payload size and item fields.
type Limits struct {
	MaxPayloadBytes   int
	MaxItemsPerKind   int
	MaxNameLength     int
	MaxDescriptionLen int
}

// DefaultLimits are the limits used when a zero Limits is given.
var DefaultLimits = Limits{
	MaxPayloadBytes:   1 << 20, // 1 MiB
	MaxItemsPerKind:   1000,
	MaxNameLength:     100,
	MaxDescriptionLen: 500,
}

// warnThreshold is the fraction of a limit at which a warning is emitted.
const warnThreshold = 0.8

// Issue is a single field-qualified validation finding.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return i.Field + ": " + i.Message
}

// Result is the outcome of validating one payload.
type Result struct {
	IsValid  bool    `json:"is_valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func (r *Result) addError(field, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addWarning(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// DecodePayload parses raw JSON into a SyncPayload, mapping structural
// problems (non-object payload, non-array kinds, wrongly typed fields) to
// field-qualified issues instead of opaque decode errors.
func DecodePayload(raw []byte) (*domain.SyncPayload, *Result) {
	var payload domain.SyncPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		result := &Result{Errors: []Issue{}, Warnings: []Issue{}}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "payload"
			}
			result.addError(field, "expected %s, got %s", expectedShape(typeErr), typeErr.Value)
		} else {
			result.addError("payload", "payload must be a JSON object: %v", err)
		}
		return nil, result
	}
	return &payload, nil
}

func expectedShape(typeErr *json.UnmarshalTypeError) string {
	switch typeErr.Type.Kind() {
	case reflect.Slice:
		return "an array"
	case reflect.Struct:
		return "an object"
	default:
		return "a " + typeErr.Type.Kind().String()
	}
}

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// Accepted date layouts for transaction dates.
var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05"}

// ParseDate parses a payload date in either accepted layout.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q must match YYYY-MM-DD or YYYY-MM-DD HH:mm:ss", s)
}

// Payload validates a sync payload against the given limits. A zero Limits
// falls back to DefaultLimits.
func Payload(payload *domain.SyncPayload, limits Limits) *Result {
	if limits == (Limits{}) {
		limits = DefaultLimits
	}

	result := &Result{Errors: []Issue{}, Warnings: []Issue{}}

	if payload == nil {
		result.addError("payload", "payload is required")
		return result
	}

	checkSize(payload, limits, result)
	checkCategories(payload.Categories, limits, result)
	checkTransactions(payload.Transactions, limits, result)

	result.IsValid = len(result.Errors) == 0
	return result
}

// PayloadOrError validates and converts a failed result into an error whose
// message lists every finding. Warnings never produce an error.
func PayloadOrError(payload *domain.SyncPayload, limits Limits) (*Result, error) {
	result := Payload(payload, limits)
	if !result.IsValid {
		messages := make([]string, len(result.Errors))
		for i, issue := range result.Errors {
			messages[i] = issue.String()
		}
		return result, fmt.Errorf("invalid sync payload: %s", strings.Join(messages, "; "))
	}
	return result, nil
}

func checkSize(payload *domain.SyncPayload, limits Limits, result *Result) {
	raw, err := json.Marshal(payload)
	if err != nil {
		result.addError("payload", "payload is not serializable: %v", err)
		return
	}

	size := len(raw)
	switch {
	case size > limits.MaxPayloadBytes:
		result.addError("payload", "payload size %d bytes exceeds limit of %d bytes", size, limits.MaxPayloadBytes)
	case float64(size) >= float64(limits.MaxPayloadBytes)*warnThreshold:
		result.addWarning("payload", "payload size %d bytes is close to the limit of %d bytes", size, limits.MaxPayloadBytes)
	}

	for kind, count := range map[string]int{
		"categories":   len(payload.Categories),
		"transactions": len(payload.Transactions),
	} {
		switch {
		case count > limits.MaxItemsPerKind:
			result.addError(kind, "%d items exceeds limit of %d", count, limits.MaxItemsPerKind)
		case float64(count) >= float64(limits.MaxItemsPerKind)*warnThreshold:
			result.addWarning(kind, "%d items is close to the limit of %d", count, limits.MaxItemsPerKind)
		}
	}
}

func checkCategories(categories []domain.PayloadCategory, limits Limits, result *Result) {
	seen := make(map[string]int, len(categories))

	for i, cat := range categories {
		field := fmt.Sprintf("categories[%d]", i)

		name := strings.TrimSpace(cat.Name)
		switch {
		case name == "":
			result.addError(field+".name", "name is required")
		case len(name) > limits.MaxNameLength:
			result.addError(field+".name", "name exceeds %d characters", limits.MaxNameLength)
		default:
			key := strings.ToLower(name)
			if first, dup := seen[key]; dup {
				result.addWarning(field+".name", "duplicate of categories[%d] (%q)", first, name)
			} else {
				seen[key] = i
			}
		}

		if cat.Color != "" && !colorPattern.MatchString(cat.Color) {
			result.addError(field+".color", "color %q must be a hex color (#RGB, #RRGGBB or #RRGGBBAA)", cat.Color)
		}
	}
}

func checkTransactions(transactions []domain.PayloadTransaction, limits Limits, result *Result) {
	seen := make(map[string]int, len(transactions))

	for i, txn := range transactions {
		field := fmt.Sprintf("transactions[%d]", i)

		if txn.Amount == "" {
			result.addError(field+".amount", "amount is required")
		} else if amount, err := decimal.NewFromString(txn.Amount.String()); err != nil {
			result.addError(field+".amount", "amount %q is not a number", txn.Amount.String())
		} else if amount.LessThan(domain.MinTransactionAmount) || amount.GreaterThan(domain.MaxTransactionAmount) {
			result.addError(field+".amount", "amount %s is outside [%s, %s]",
				amount, domain.MinTransactionAmount, domain.MaxTransactionAmount)
		}

		if txn.Type == "" {
			result.addError(field+".type", "type is required")
		} else if _, ok := domain.NormalizeTransactionType(txn.Type); !ok {
			result.addError(field+".type", "type %q must be income or expense", txn.Type)
		}

		if txn.Date == "" {
			result.addError(field+".date", "date is required")
		} else if _, err := ParseDate(txn.Date); err != nil {
			result.addError(field+".date", "%v", err)
		}

		if len(txn.Description) > limits.MaxDescriptionLen {
			result.addError(field+".description", "description exceeds %d characters", limits.MaxDescriptionLen)
		}

		for j, name := range txn.Categories {
			if strings.TrimSpace(name) == "" {
				result.addError(fmt.Sprintf("%s.categories[%d]", field, j), "category reference must be a non-empty name")
			}
		}

		// Identical-looking transactions are flagged, not blocked: the
		// storage uniqueness key turns the replay into a no-op anyway.
		key := fmt.Sprintf("%s|%s|%s|%s", txn.Amount, txn.Date, txn.Description, txn.Type)
		if first, dup := seen[key]; dup {
			result.addWarning(field, "duplicate of transactions[%d]", first)
		} else {
			seen[key] = i
		}
	}
}
