package token

import "errors"

// Public, stable errors for callers.
var (
	ErrEmptySecret = errors.New("token: empty secret")
	ErrEmptyInfo   = errors.New("token: empty derivation label")
)
