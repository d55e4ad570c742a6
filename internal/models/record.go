// Package models defines the finance entity types kept consistent between
// the local replica and the remote store: wallets, transactions, transfers,
// categories, tags, budgets and recurring rules. Every entity shares the
// Envelope bookkeeping fields used by the sync engine.
package models

import "time"

// EntityType classifies an entity kind.
type EntityType string

const (
	EntityCategory    EntityType = "category"
	EntityTag         EntityType = "tag"
	EntityWallet      EntityType = "wallet"
	EntityBudget      EntityType = "budget"
	EntityRecurring   EntityType = "recurring"
	EntityTransfer    EntityType = "transfer"
	EntityTransaction EntityType = "transaction"
)

// SyncOrder is the dependency order entity types are reconciled in. A
// transaction must never arrive at a destination before the category and
// wallet it references.
var SyncOrder = []EntityType{
	EntityCategory,
	EntityTag,
	EntityWallet,
	EntityBudget,
	EntityRecurring,
	EntityTransfer,
	EntityTransaction,
}

// SyncStatus is local bookkeeping only. It is never a source of truth for
// conflict resolution and is never transmitted to the remote store.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
)

// Envelope carries the bookkeeping fields shared by every entity.
type Envelope struct {
	// ID is globally unique within the owning account.
	ID string `json:"id"`

	// LastModified is the single canonical modification timestamp, in UTC.
	// Every write path must set it.
	LastModified time.Time `json:"lastModified"`

	// DeletedAt, when non-nil, marks the record as a tombstone. Tombstones
	// are kept so deletions can propagate to the other store.
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	// SyncStatus tracks whether the record has local changes awaiting sync.
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`
}

func (e *Envelope) GetID() string   { return e.ID }
func (e *Envelope) Meta() *Envelope { return e }

// Deleted reports whether the record is a tombstone.
func (e *Envelope) Deleted() bool { return e.DeletedAt != nil }

// Touch stamps a local modification: fresh LastModified and pending status.
func (e *Envelope) Touch(now time.Time) {
	e.LastModified = now.UTC()
	e.SyncStatus = SyncStatusPending
}

// Tombstone marks the record deleted at the given instant.
func (e *Envelope) Tombstone(now time.Time) {
	ts := now.UTC()
	e.DeletedAt = &ts
	e.Touch(now)
}

func (e *Envelope) cloneInto(dst *Envelope) {
	*dst = *e
	if e.DeletedAt != nil {
		ts := *e.DeletedAt
		dst.DeletedAt = &ts
	}
}

// Record is the common surface the validator, ledger and sync engine work
// against. Payload returns the entity's domain fields normalized to plain
// values (decimals and times as strings), excluding every Envelope field, so
// two versions of a record can be compared structurally.
type Record interface {
	GetID() string
	Meta() *Envelope
	EntityType() EntityType
	Clone() Record
	Payload() map[string]any
}

// New returns an empty record of the given type, or nil for an unknown type.
// Used when decoding collections dynamically.
func New(t EntityType) Record {
	switch t {
	case EntityCategory:
		return &Category{}
	case EntityTag:
		return &Tag{}
	case EntityWallet:
		return &Wallet{}
	case EntityBudget:
		return &Budget{}
	case EntityRecurring:
		return &RecurringRule{}
	case EntityTransfer:
		return &Transfer{}
	case EntityTransaction:
		return &Transaction{}
	default:
		return nil
	}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
