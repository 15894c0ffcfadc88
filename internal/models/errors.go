package models

import "errors"

// Sentinel errors shared by the services and stores. Stores translate
// driver-level errors (pgx.ErrNoRows) into these before returning.
var (
	// ErrNotFound indicates an unknown device, license, or subscription reference.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the operation is not valid for the entity's current status.
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrQuotaExceeded indicates a usage limit has been reached.
	ErrQuotaExceeded = errors.New("usage quota exceeded")
	// ErrExpired indicates an expiry was detected at read time.
	ErrExpired = errors.New("expired")
	// ErrConflict indicates a uniqueness violation, such as a duplicate
	// device identifier.
	ErrConflict = errors.New("already exists")
)
