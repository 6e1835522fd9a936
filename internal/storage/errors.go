package storage

import pkgerrors "eppd/pkg/errors"

var (
	// ErrNotFound keeps storage-level misses consistent across the in-memory
	// and postgres implementations.
	ErrNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "record not found")

	// ErrConflict signals a commit-time collision with a concurrent
	// transaction. Retryable from a fresh read.
	ErrConflict = pkgerrors.New(pkgerrors.CodeConflict, "transaction conflict")
)
