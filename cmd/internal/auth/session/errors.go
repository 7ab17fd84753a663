package session

import "errors"

var (
	// ErrNotFound is returned when no live session exists for an id.
	ErrNotFound = errors.New("session not found")

	// ErrVersionConflict is returned when Replace does not carry stored version + 1.
	ErrVersionConflict = errors.New("session version conflict")

	// ErrExpired is returned when writing a record whose expiry has passed.
	ErrExpired = errors.New("session expired")

	// ErrInvalidRecord is returned for records missing an id or a positive version.
	ErrInvalidRecord = errors.New("invalid session record")

	// ErrForgedUserID is returned when the user id cookie fails verification.
	ErrForgedUserID = errors.New("user id cookie failed verification")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
