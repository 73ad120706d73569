package service

import "errors"

// Error kinds surfaced by the orchestrator. Validation, transition, not-found
// and frozen errors are detected before any processor call and carry no side
// effects; processor failures are wrapped *client.ProcessorError values and
// likewise leave entity state uncommitted.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrNotFound            = errors.New("not found")
	ErrMilestoneFrozen     = errors.New("milestone frozen by open dispute")
	ErrConcurrencyConflict = errors.New("concurrent modification")
)
