package identity

import "errors"

// ErrNoStableID is returned when a principal carries neither a provider id nor
// an email, so no identifier that survives across logins can be derived.
var ErrNoStableID = errors.New("principal has no stable identifier")
