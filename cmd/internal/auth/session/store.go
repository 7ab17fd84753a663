package session

import "context"

// Store persists session records.
//
// Replace creates the record when rec.Version == 1 and nothing live is
// stored under rec.ID; otherwise rec.Version must equal the stored version
// plus one. Any other version fails with ErrVersionConflict.
type Store interface {
	Load(ctx context.Context, id string) (Record, error)
	Replace(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
}
