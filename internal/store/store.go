// Package store defines the collection API both data stores expose to the
// core: the device-local replica and the remote authoritative store. The
// core only ever talks to these interfaces; concrete implementations live in
// the sqlite, remote and memory subpackages.
package store

import (
	"context"
	"time"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
)

// Collection is the per-entity-type CRUD surface of a store.
//
// GetAll returns every record of the collection including tombstones; callers
// that only want active records filter on Meta().Deleted(). Deletes are soft:
// the record is tombstoned, never physically removed, so the deletion can
// propagate to the other store.
type Collection interface {
	GetAll(ctx context.Context, accountID string) ([]models.Record, error)

	// GetByID returns common.ErrNotFound when no record has the id,
	// tombstoned or not.
	GetByID(ctx context.Context, id, accountID string) (models.Record, error)

	// Add inserts a new record and returns the stored copy. It returns
	// common.ErrAlreadyExists when the id is already present.
	Add(ctx context.Context, rec models.Record, accountID string) (models.Record, error)

	// Update overwrites an existing record by id and returns the stored
	// copy. It returns common.ErrNotFound when the id is absent.
	Update(ctx context.Context, rec models.Record, accountID string) (models.Record, error)

	// Delete tombstones the record and returns its id.
	Delete(ctx context.Context, id, accountID string) (string, error)
}

// Local is the device-local replica. Besides the collections it tracks a
// dirty flag (local changes awaiting sync) and supports tombstone maintenance.
type Local interface {
	Collection(t models.EntityType) Collection

	// MarkDirty records that the replica has local changes to sync.
	MarkDirty(ctx context.Context) error
	// ClearDirty is called after a successful sync.
	ClearDirty(ctx context.Context) error
	IsDirty(ctx context.Context) (bool, error)

	// Remove physically deletes a record. Only the ledger's rollback path
	// and the tombstone sweep use it; everything else soft-deletes.
	Remove(ctx context.Context, t models.EntityType, id, accountID string) error

	// PurgeTombstones removes tombstones older than the cutoff and returns
	// how many were purged.
	PurgeTombstones(ctx context.Context, accountID string, olderThan time.Time) (int, error)
}

// Remote is the remote authoritative store, reachable only when online.
type Remote interface {
	Collection(t models.EntityType) Collection

	// IsReachable reports whether the store can currently be reached.
	IsReachable(ctx context.Context) bool

	// PurgeTombstones removes remote tombstones older than the cutoff.
	PurgeTombstones(ctx context.Context, accountID string, olderThan time.Time) (int, error)
}
