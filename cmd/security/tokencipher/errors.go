package tokencipher

import "errors"

// Public, stable errors for callers.
var (
	ErrEmptyInput  = errors.New("tokencipher: empty input")
	ErrMalformed   = errors.New("tokencipher: malformed blob")
	ErrNonceLength = errors.New("tokencipher: invalid nonce length")
	ErrAuthFailed  = errors.New("tokencipher: authentication failed")
)
