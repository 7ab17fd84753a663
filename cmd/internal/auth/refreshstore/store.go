// Package refreshstore keeps the long-lived refresh token for each user.
//
// Entries are keyed by the user's stable identifier. There is at most one
// entry per user; Set overwrites, which is how rotation invalidates the
// previous token.
package refreshstore

import "context"

// Store is the refresh-token persistence boundary used by the gate and the
// callback handlers.
type Store interface {
	Get(ctx context.Context, userID string) (string, bool)
	Set(ctx context.Context, userID, token string)
	Delete(ctx context.Context, userID string)
}
