package common

import "fmt"

// ValidationError describes a single schema or constraint violation on one
// record. It is local bookkeeping and is never sent to the remote store.
type ValidationError struct {
	EntityType string
	EntityID   string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s field %q: %s", e.EntityType, e.EntityID, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientBalanceError is returned when a deduction would drive a wallet
// negative. The operation is aborted before any write.
type InsufficientBalanceError struct {
	WalletID  string
	Balance   string
	Requested string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in wallet %s: have %s, need %s", e.WalletID, e.Balance, e.Requested)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// RollbackFailureError is fatal: a compensating inverse failed after a ledger
// step error, so local state may be inconsistent. The caller must surface it
// and run a wallet balance recalculation.
type RollbackFailureError struct {
	// Cause is the original step error that triggered the rollback.
	Cause error
	// RollbackErr is the error from applying an inverse.
	RollbackErr error
	// WalletIDs lists wallets whose balances may have drifted.
	WalletIDs []string
}

func (e *RollbackFailureError) Error() string {
	return fmt.Sprintf("rollback failed (%v) after step error (%v); run balance recalculation for wallets %v",
		e.RollbackErr, e.Cause, e.WalletIDs)
}

func (e *RollbackFailureError) Is(target error) bool { return target == ErrRollbackFailure }

func (e *RollbackFailureError) Unwrap() error { return e.Cause }
