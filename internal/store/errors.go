package store

import "errors"

// Sentinel errors for the store layer. Callers branch with errors.Is;
// the HTTP layer maps them onto the matching response codes.
var (
	// ErrNotFound means the entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation means the input is malformed. Not retriable.
	ErrValidation = errors.New("validation failed")

	// ErrConflict means a cross-entity invariant would be violated on
	// commit (server already bound, team still referenced, ...). Not
	// retriable without changing the request.
	ErrConflict = errors.New("conflict")

	// ErrStale means an optimistic-lock version check failed. The caller
	// should reload the entity and retry the mutation.
	ErrStale = errors.New("stale version")

	// ErrUnavailable means the store itself failed. Retriable with backoff.
	ErrUnavailable = errors.New("store unavailable")
)
