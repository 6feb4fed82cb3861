package db

import "errors"

// Sentinel errors for history operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates no job with the requested ID was recorded.
	ErrNotFound = errors.New("job not found")

	// ErrSchemaMismatch indicates the database was created by an incompatible version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
