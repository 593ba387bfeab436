package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when the pending→processing claim
	// matched no row (another worker took it or it was cancelled)
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrJobNotCancelable is returned when cancelling a job that already
	// left the pending state
	ErrJobNotCancelable = errors.New("job is not pending and cannot be cancelled")

	// ErrJobNotTerminal is returned when deleting a job that is still
	// pending or processing
	ErrJobNotTerminal = errors.New("job is not in a terminal state")

	// ErrDuplicateRecord is returned when an insert hit a uniqueness
	// constraint; callers treat it as "record already exists"
	ErrDuplicateRecord = errors.New("record already exists")

	// ErrCategoryNotFound is returned when resolving a category that does
	// not exist for the owner
	ErrCategoryNotFound = errors.New("category not found")
)
