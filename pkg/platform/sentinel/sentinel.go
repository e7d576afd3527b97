package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Record and audit stores return these
// (optionally wrapped) so services can translate them into domain errors.
//
// They describe what the store observed, not whether the request was valid:
// - ErrNotFound: no live record for the key
// - ErrAlreadyExists: insert collided with an existing id
// - ErrVersionConflict: conditional write matched zero rows
// - ErrUnavailable: persistence unreachable or timed out
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
	ErrUnavailable     = errors.New("unavailable")
)
