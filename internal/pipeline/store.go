package pipeline

import "context"

// CaseStore is the persistence interface for case records. Implementations
// must support read-by-key and conditional (optimistic) writes: Update fails
// with ErrVersionConflict unless the stored version matches the caller's.
type CaseStore interface {
	// Get retrieves a case by its ID.
	Get(ctx context.Context, id string) (*CaseRecord, bool, error)

	// GetByAlertKey retrieves the case for an alert identity key, for
	// duplicate detection.
	GetByAlertKey(ctx context.Context, key string) (*CaseRecord, bool, error)

	// Create persists a new case. Fails with ErrDuplicateCase when a case
	// for the same alert key already exists.
	Create(ctx context.Context, c *CaseRecord) error

	// Update persists the case if the stored version equals c.Version,
	// bumping c.Version on success. Fails with ErrVersionConflict otherwise.
	Update(ctx context.Context, c *CaseRecord) error

	// ListUnfinished returns cases left in a non-terminal, non-approval
	// stage, oldest first. Used for crash recovery at startup.
	ListUnfinished(ctx context.Context) ([]*CaseRecord, error)
}
