package store

import "errors"

var (
	// ErrConflict reports an overlapping reservation detected at insert
	// time (exclusion constraint or in-transaction check).
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
	// ErrIdempotencyConflict reports an idempotency key reused with
	// different request parameters.
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
)
