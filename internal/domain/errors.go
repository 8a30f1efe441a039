package domain

import "errors"

var (
	// ErrValidation marks input/contract violations that are never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyBatch is returned when a batch operation receives no ids or
	// records.
	ErrEmptyBatch = errors.New("empty batch")
	// ErrNoProvider is returned when an application has no configured
	// delivery provider.
	ErrNoProvider = errors.New("no provider configured")
)
