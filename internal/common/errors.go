// Package common defines shared constants and sentinel errors used across
// the finance sync core. Callers should use errors.Is to match sentinel
// values and errors.As to extract the typed errors.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrTransient marks a store failure that is worth retrying
	// (timeouts, connection resets). Wrap with fmt.Errorf("...: %w", ...).
	ErrTransient = errors.New("transient store error")

	// Sync-engine flow control.
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrOffline        = errors.New("remote store unreachable")

	// Ledger errors.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSameWallet          = errors.New("transfer source and destination are the same wallet")
	ErrRollbackFailure     = errors.New("rollback failure")

	// Validation / integrity errors.
	ErrValidation    = errors.New("validation error")
	ErrUnknownEntity = errors.New("unknown entity type")
	ErrBadBackupDoc  = errors.New("malformed backup document")
	ErrBackupVersion = errors.New("unsupported backup document version")
)
