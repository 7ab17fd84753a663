package provider

import "errors"

var (
	// ErrIncompleteResult is returned when a provider response lacks a required field.
	ErrIncompleteResult = errors.New("provider: incomplete result")

	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("provider: invalid token")

	// ErrInvalidParameter is returned for caller mistakes (empty code, empty state...).
	ErrInvalidParameter = errors.New("provider: invalid parameter")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("provider: invalid config")
)
