package resilience

// Aggregator collects classified errors across a batch operation so the
// reconciliation engine can summarize per-batch failures without aborting
// the batch.
type Aggregator struct {
	errs []*ClassifiedError
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add classifies and records err. nil is ignored.
func (a *Aggregator) Add(err error) {
	if err == nil {
		return
	}
	a.errs = append(a.errs, Classify(err))
}

// Count returns the number of recorded errors.
func (a *Aggregator) Count() int {
	return len(a.errs)
}

// HasErrors reports whether anything was recorded.
func (a *Aggregator) HasErrors() bool {
	return len(a.errs) > 0
}

// CountByType tallies recorded errors per taxonomy type.
func (a *Aggregator) CountByType() map[ErrorType]int {
	counts := make(map[ErrorType]int, len(a.errs))
	for _, err := range a.errs {
		counts[err.Type]++
	}
	return counts
}

// AnyRetryable reports whether at least one recorded error is retryable.
func (a *Aggregator) AnyRetryable() bool {
	for _, err := range a.errs {
		if err.Retryable {
			return true
		}
	}
	return false
}

// UserMessages returns the de-duplicated user-facing messages, in first-seen
// order.
func (a *Aggregator) UserMessages() []string {
	seen := make(map[string]struct{}, len(a.errs))
	messages := make([]string, 0, len(a.errs))
	for _, err := range a.errs {
		if _, dup := seen[err.UserMessage]; dup {
			continue
		}
		seen[err.UserMessage] = struct{}{}
		messages = append(messages, err.UserMessage)
	}
	return messages
}
