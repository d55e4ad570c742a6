// Package ledger executes compound financial mutations: each operation must
// leave the transaction-like record and the wallet balances it touches in a
// consistent state, or restore everything it changed. All monetary
// arithmetic is exact decimal; float arithmetic is never used for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/logging"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store"
)

const (
	stepAttempts  = 3
	retryBaseWait = time.Second
)

// Manager performs ledger operations against the local replica. Every
// operation takes the shared store guard, so a sync cycle can never observe
// a half-applied mutation.
type Manager struct {
	local     store.Local
	guard     *store.Guard
	accountID string
	log       logging.Logger
	now       func() time.Time
	retryBase time.Duration
}

func New(local store.Local, guard *store.Guard, accountID string, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{
		local:     local,
		guard:     guard,
		accountID: accountID,
		log:       log,
		now:       time.Now,
		retryBase: retryBaseWait,
	}
}

// WithClock overrides the time source. Tests use it.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithRetryBase overrides the retry backoff base. Tests use it.
func (m *Manager) WithRetryBase(d time.Duration) *Manager {
	m.retryBase = d
	return m
}

// undoStep is a plain {target, prior-value} descriptor captured before its
// forward step runs. prior == nil means the step inserted the record and the
// inverse removes it; otherwise the inverse writes prior back.
type undoStep struct {
	entity models.EntityType
	id     string
	prior  models.Record
}

type undoStack struct {
	steps []undoStep
}

func (u *undoStack) push(entity models.EntityType, id string, prior models.Record) {
	if prior != nil {
		prior = prior.Clone()
	}
	u.steps = append(u.steps, undoStep{entity: entity, id: id, prior: prior})
}

// walletIDs lists the wallets touched so far, for rollback-failure reporting.
func (u *undoStack) walletIDs() []string {
	var ids []string
	for _, s := range u.steps {
		if s.entity == models.EntityWallet {
			ids = append(ids, s.id)
		}
	}
	return ids
}

// unwind applies every pushed inverse in LIFO order. If an inverse fails the
// result is a fatal RollbackFailureError: local state may be inconsistent and
// the affected wallets need RecalculateWalletBalance.
func (m *Manager) unwind(ctx context.Context, u *undoStack, cause error) error {
	for i := len(u.steps) - 1; i >= 0; i-- {
		s := u.steps[i]
		var err error
		if s.prior == nil {
			err = m.local.Remove(ctx, s.entity, s.id, m.accountID)
			if errors.Is(err, common.ErrNotFound) {
				// The insert this inverse compensates never applied.
				err = nil
			}
		} else {
			_, err = m.local.Collection(s.entity).Update(ctx, s.prior, m.accountID)
		}
		if err != nil {
			rbErr := &common.RollbackFailureError{
				Cause:       cause,
				RollbackErr: fmt.Errorf("undo %s %s: %w", s.entity, s.id, err),
				WalletIDs:   u.walletIDs(),
			}
			m.log.Error(ctx, "rollback failed, local state may be inconsistent",
				"cause", cause.Error(), "rollback_error", err.Error(), "wallets", rbErr.WalletIDs)
			return rbErr
		}
	}
	return cause
}

// linearBackoff waits base*1, base*2, base*3... between attempts.
func linearBackoff(base time.Duration) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * base, false
	})
}

// step runs one forward step, retrying transient store failures up to
// stepAttempts times before the step counts as failed.
func (m *Manager) step(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(stepAttempts-1, linearBackoff(m.retryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, common.ErrTransient) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (m *Manager) wallets() store.Collection      { return m.local.Collection(models.EntityWallet) }
func (m *Manager) transactions() store.Collection { return m.local.Collection(models.EntityTransaction) }
func (m *Manager) transfers() store.Collection    { return m.local.Collection(models.EntityTransfer) }

func (m *Manager) activeWallet(ctx context.Context, id string) (*models.Wallet, error) {
	rec, err := m.wallets().GetByID(ctx, id, m.accountID)
	if err != nil {
		return nil, err
	}
	w, ok := rec.(*models.Wallet)
	if !ok || w.Meta().Deleted() {
		return nil, fmt.Errorf("wallet %s: %w", id, common.ErrNotFound)
	}
	return w, nil
}

// adjustWallet shifts a wallet balance by delta as one undoable step.
func (m *Manager) adjustWallet(ctx context.Context, u *undoStack, w *models.Wallet, delta decimal.Decimal) error {
	u.push(models.EntityWallet, w.ID, w)
	w.Balance = w.Balance.Add(delta)
	w.Touch(m.now())
	return m.step(ctx, func(ctx context.Context) error {
		_, err := m.wallets().Update(ctx, w, m.accountID)
		return err
	})
}

// RecordTransaction validates the wallet, adjusts its balance and inserts the
// transaction record. A failure at any step restores all prior steps in
// reverse order and re-raises the originating error.
//
// When txn.AllowNegative is set the insufficient-balance check is skipped
// (manual data-entry recovery); the override is logged and stays on the
// record, so later recalculation treats the entry as an accepted exception.
func (m *Manager) RecordTransaction(ctx context.Context, txn *models.Transaction) error {
	m.guard.Lock()
	defer m.guard.Unlock()
	return m.recordTransaction(ctx, txn)
}

func (m *Manager) recordTransaction(ctx context.Context, txn *models.Transaction) error {
	if !txn.Amount.IsPositive() {
		return &common.ValidationError{
			EntityType: string(models.EntityTransaction), EntityID: txn.ID,
			Field: "amount", Reason: "must be > 0",
		}
	}

	wallet, err := m.activeWallet(ctx, txn.WalletID)
	if err != nil {
		return err
	}

	if !txn.IsIncome && wallet.Balance.LessThan(txn.Amount) {
		if !txn.AllowNegative {
			return &common.InsufficientBalanceError{
				WalletID:  wallet.ID,
				Balance:   wallet.Balance.String(),
				Requested: txn.Amount.String(),
			}
		}
		m.log.Warn(ctx, "insufficient-balance check overridden",
			"wallet", wallet.ID, "balance", wallet.Balance.String(), "amount", txn.Amount.String())
	}

	u := &undoStack{}

	if err := m.adjustWallet(ctx, u, wallet, txn.SignedAmount()); err != nil {
		return m.unwind(ctx, u, err)
	}

	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	txn.Touch(m.now())
	u.push(models.EntityTransaction, txn.ID, nil)
	if err := m.step(ctx, func(ctx context.Context) error {
		_, err := m.transactions().Add(ctx, txn, m.accountID)
		return err
	}); err != nil {
		return m.unwind(ctx, u, err)
	}

	return m.local.MarkDirty(ctx)
}

// UpdateTransaction replaces a transaction and applies the net balance
// adjustment. With an unchanged wallet the net of reversing the old entry and
// applying the new one is applied once; with different wallets the old wallet
// is reversed and the new wallet adjusted independently, and the
// insufficient-balance check applies to the new wallet only. A concurrently
// deleted old wallet is skipped with a warning.
func (m *Manager) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	m.guard.Lock()
	defer m.guard.Unlock()

	if !txn.Amount.IsPositive() {
		return &common.ValidationError{
			EntityType: string(models.EntityTransaction), EntityID: txn.ID,
			Field: "amount", Reason: "must be > 0",
		}
	}

	oldRec, err := m.transactions().GetByID(ctx, txn.ID, m.accountID)
	if err != nil {
		return err
	}
	old, ok := oldRec.(*models.Transaction)
	if !ok || old.Meta().Deleted() {
		return fmt.Errorf("transaction %s: %w", txn.ID, common.ErrNotFound)
	}

	newWallet, err := m.activeWallet(ctx, txn.WalletID)
	if err != nil {
		return err
	}

	u := &undoStack{}

	if old.WalletID == txn.WalletID {
		net := txn.SignedAmount().Sub(old.SignedAmount())
		candidate := newWallet.Balance.Add(net)
		if candidate.IsNegative() && !txn.AllowNegative {
			return &common.InsufficientBalanceError{
				WalletID:  newWallet.ID,
				Balance:   newWallet.Balance.String(),
				Requested: net.Neg().String(),
			}
		}
		if err := m.adjustWallet(ctx, u, newWallet, net); err != nil {
			return m.unwind(ctx, u, err)
		}
	} else {
		// Validate the new wallet before any write.
		candidate := newWallet.Balance.Add(txn.SignedAmount())
		if candidate.IsNegative() && !txn.AllowNegative {
			return &common.InsufficientBalanceError{
				WalletID:  newWallet.ID,
				Balance:   newWallet.Balance.String(),
				Requested: txn.Amount.String(),
			}
		}

		oldWallet, err := m.activeWallet(ctx, old.WalletID)
		switch {
		case errors.Is(err, common.ErrNotFound):
			// The old wallet went away concurrently; a reversal restores
			// money, so skipping it only loses the refund.
			m.log.Warn(ctx, "old wallet missing, skipping reversal",
				"transaction", txn.ID, "wallet", old.WalletID)
		case err != nil:
			return err
		default:
			if err := m.adjustWallet(ctx, u, oldWallet, old.SignedAmount().Neg()); err != nil {
				return m.unwind(ctx, u, err)
			}
		}

		if err := m.adjustWallet(ctx, u, newWallet, txn.SignedAmount()); err != nil {
			return m.unwind(ctx, u, err)
		}
	}

	txn.Touch(m.now())
	u.push(models.EntityTransaction, txn.ID, old)
	if err := m.step(ctx, func(ctx context.Context) error {
		_, err := m.transactions().Update(ctx, txn, m.accountID)
		return err
	}); err != nil {
		return m.unwind(ctx, u, err)
	}

	return m.local.MarkDirty(ctx)
}

// DeleteTransaction reverses the transaction's balance effect on its wallet,
// then tombstones the record.
func (m *Manager) DeleteTransaction(ctx context.Context, id string) error {
	m.guard.Lock()
	defer m.guard.Unlock()

	rec, err := m.transactions().GetByID(ctx, id, m.accountID)
	if err != nil {
		return err
	}
	txn, ok := rec.(*models.Transaction)
	if !ok || txn.Meta().Deleted() {
		return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}

	u := &undoStack{}

	wallet, err := m.activeWallet(ctx, txn.WalletID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		m.log.Warn(ctx, "wallet missing, skipping balance reversal", "transaction", id, "wallet", txn.WalletID)
	case err != nil:
		return err
	default:
		if err := m.adjustWallet(ctx, u, wallet, txn.SignedAmount().Neg()); err != nil {
			return m.unwind(ctx, u, err)
		}
	}

	prior := txn.Clone()
	txn.Tombstone(m.now())
	u.push(models.EntityTransaction, txn.ID, prior)
	if err := m.step(ctx, func(ctx context.Context) error {
		_, err := m.transactions().Update(ctx, txn, m.accountID)
		return err
	}); err != nil {
		return m.unwind(ctx, u, err)
	}

	return m.local.MarkDirty(ctx)
}

// ExecuteTransfer deducts from the source wallet, credits the destination and
// inserts the transfer record, all as one rollback-protected operation.
func (m *Manager) ExecuteTransfer(ctx context.Context, tr *models.Transfer) error {
	m.guard.Lock()
	defer m.guard.Unlock()
	return m.executeTransfer(ctx, tr)
}

func (m *Manager) executeTransfer(ctx context.Context, tr *models.Transfer) error {
	if tr.FromWalletID == tr.ToWalletID {
		return fmt.Errorf("transfer %s: %w", tr.ID, common.ErrSameWallet)
	}
	if !tr.Amount.IsPositive() {
		return &common.ValidationError{
			EntityType: string(models.EntityTransfer), EntityID: tr.ID,
			Field: "amount", Reason: "must be > 0",
		}
	}

	from, err := m.activeWallet(ctx, tr.FromWalletID)
	if err != nil {
		return err
	}
	to, err := m.activeWallet(ctx, tr.ToWalletID)
	if err != nil {
		return err
	}
	if from.Balance.LessThan(tr.Amount) {
		return &common.InsufficientBalanceError{
			WalletID:  from.ID,
			Balance:   from.Balance.String(),
			Requested: tr.Amount.String(),
		}
	}

	u := &undoStack{}

	if err := m.adjustWallet(ctx, u, from, tr.Amount.Neg()); err != nil {
		return m.unwind(ctx, u, err)
	}
	if err := m.adjustWallet(ctx, u, to, tr.Amount); err != nil {
		return m.unwind(ctx, u, err)
	}

	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	tr.Touch(m.now())
	u.push(models.EntityTransfer, tr.ID, nil)
	if err := m.step(ctx, func(ctx context.Context) error {
		_, err := m.transfers().Add(ctx, tr, m.accountID)
		return err
	}); err != nil {
		return m.unwind(ctx, u, err)
	}

	return m.local.MarkDirty(ctx)
}

// UpdateTransfer reverses the old transfer's effect on both old wallets,
// applies the new effect and replaces the record. Missing old wallets are
// skipped with a warning; the new source wallet must exist and be sufficient.
func (m *Manager) UpdateTransfer(ctx context.Context, tr *models.Transfer) error {
	m.guard.Lock()
	defer m.guard.Unlock()

	if tr.FromWalletID == tr.ToWalletID {
		return fmt.Errorf("transfer %s: %w", tr.ID, common.ErrSameWallet)
	}
	if !tr.Amount.IsPositive() {
		return &common.ValidationError{
			EntityType: string(models.EntityTransfer), EntityID: tr.ID,
			Field: "amount", Reason: "must be > 0",
		}
	}

	oldRec, err := m.transfers().GetByID(ctx, tr.ID, m.accountID)
	if err != nil {
		return err
	}
	old, ok := oldRec.(*models.Transfer)
	if !ok || old.Meta().Deleted() {
		return fmt.Errorf("transfer %s: %w", tr.ID, common.ErrNotFound)
	}

	from, err := m.activeWallet(ctx, tr.FromWalletID)
	if err != nil {
		return err
	}
	to, err := m.activeWallet(ctx, tr.ToWalletID)
	if err != nil {
		return err
	}

	// Effective source balance after the old effect is reversed.
	fromAfterReversal := from.Balance
	if old.FromWalletID == from.ID {
		fromAfterReversal = fromAfterReversal.Add(old.Amount)
	}
	if old.ToWalletID == from.ID {
		fromAfterReversal = fromAfterReversal.Sub(old.Amount)
	}
	if fromAfterReversal.LessThan(tr.Amount) {
		return &common.InsufficientBalanceError{
			WalletID:  from.ID,
			Balance:   fromAfterReversal.String(),
			Requested: tr.Amount.String(),
		}
	}

	u := &undoStack{}

	// Reverse the old effect. The wallets involved may coincide with the
	// new ones; deltas accumulate per wallet id.
	deltas := map[string]decimal.Decimal{
		old.FromWalletID: old.Amount,
		old.ToWalletID:   old.Amount.Neg(),
	}
	addDelta(deltas, tr.FromWalletID, tr.Amount.Neg())
	addDelta(deltas, tr.ToWalletID, tr.Amount)

	loaded := map[string]*models.Wallet{from.ID: from, to.ID: to}
	for _, id := range sortedKeys(deltas) {
		delta := deltas[id]
		if delta.IsZero() {
			continue
		}
		w, ok := loaded[id]
		if !ok {
			w, err = m.activeWallet(ctx, id)
			if errors.Is(err, common.ErrNotFound) {
				m.log.Warn(ctx, "old wallet missing, skipping reversal", "transfer", tr.ID, "wallet", id)
				continue
			}
			if err != nil {
				return m.unwind(ctx, u, err)
			}
		}
		if err := m.adjustWallet(ctx, u, w, delta); err != nil {
			return m.unwind(ctx, u, err)
		}
	}

	tr.Touch(m.now())
	u.push(models.EntityTransfer, tr.ID, old)
	if err := m.step(ctx, func(ctx context.Context) error {
		_, err := m.transfers().Update(ctx, tr, m.accountID)
		return err
	}); err != nil {
		return m.unwind(ctx, u, err)
	}

	return m.local.MarkDirty(ctx)
}

// DeleteTransfer reverses the transfer's effect on both wallets, then
// tombstones the record.
func (m *Manager) DeleteTransfer(ctx context.Context, id string) error {
	m.guard.Lock()
	defer m.guard.Unlock()

	rec, err := m.transfers().GetByID(ctx, id, m.accountID)
	if err != nil {
		return err
	}
	tr, ok := rec.(*models.Transfer)
	if !ok || tr.Meta().Deleted() {
		return fmt.Errorf("transfer %s: %w", id, common.ErrNotFound)
	}

	u := &undoStack{}

	for _, rev := range []struct {
		walletID string
		delta    decimal.Decimal
	}{
		{tr.FromWalletID, tr.Amount},
		{tr.ToWalletID, tr.Amount.Neg()},
	} {
		w, err := m.activeWallet(ctx, rev.walletID)
		if errors.Is(err, common.ErrNotFound) {
			m.log.Warn(ctx, "wallet missing, skipping balance reversal", "transfer", id, "wallet", rev.walletID)
			continue
		}
		if err != nil {
			return m.unwind(ctx, u, err)
		}
		if err := m.adjustWallet(ctx, u, w, rev.delta); err != nil {
			return m.unwind(ctx, u, err)
		}
	}

	prior := tr.Clone()
	tr.Tombstone(m.now())
	u.push(models.EntityTransfer, tr.ID, prior)
	if err := m.step(ctx, func(ctx context.Context) error {
		_, err := m.transfers().Update(ctx, tr, m.accountID)
		return err
	}); err != nil {
		return m.unwind(ctx, u, err)
	}

	return m.local.MarkDirty(ctx)
}

// RecalculateWalletBalance recomputes a wallet balance from scratch as the
// fold of every non-tombstoned transaction and transfer referencing it, and
// overwrites the stored balance. Ground truth for healing drift; idempotent.
func (m *Manager) RecalculateWalletBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	m.guard.Lock()
	defer m.guard.Unlock()

	wallet, err := m.activeWallet(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}

	balance := decimal.Zero

	txns, err := m.transactions().GetAll(ctx, m.accountID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, rec := range txns {
		txn, ok := rec.(*models.Transaction)
		if !ok || txn.Meta().Deleted() || txn.WalletID != walletID {
			continue
		}
		balance = balance.Add(txn.SignedAmount())
	}

	trs, err := m.transfers().GetAll(ctx, m.accountID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, rec := range trs {
		tr, ok := rec.(*models.Transfer)
		if !ok || tr.Meta().Deleted() {
			continue
		}
		if tr.FromWalletID == walletID {
			balance = balance.Sub(tr.Amount)
		}
		if tr.ToWalletID == walletID {
			balance = balance.Add(tr.Amount)
		}
	}

	if wallet.Balance.Equal(balance) {
		return balance, nil
	}

	m.log.Warn(ctx, "wallet balance drift healed",
		"wallet", walletID, "stored", wallet.Balance.String(), "recomputed", balance.String())
	wallet.Balance = balance
	wallet.Touch(m.now())
	if _, err := m.wallets().Update(ctx, wallet, m.accountID); err != nil {
		return decimal.Zero, err
	}
	return balance, m.local.MarkDirty(ctx)
}

// ApplyRecurringRules materializes every rule due at asOf into transactions
// and advances each rule's next occurrence. A rule whose wallet has
// insufficient balance is skipped for this run and logged.
func (m *Manager) ApplyRecurringRules(ctx context.Context, asOf time.Time) (int, error) {
	m.guard.Lock()
	defer m.guard.Unlock()

	rules, err := m.local.Collection(models.EntityRecurring).GetAll(ctx, m.accountID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, rec := range rules {
		rule, ok := rec.(*models.RecurringRule)
		if !ok || rule.Meta().Deleted() {
			continue
		}
		changed := false
		for !rule.NextOccurrence.After(asOf) {
			txn := &models.Transaction{
				Amount:     rule.Amount,
				CategoryID: rule.CategoryID,
				WalletID:   rule.WalletID,
				IsIncome:   rule.IsIncome,
				Date:       rule.NextOccurrence,
				Notes:      rule.Name,
			}
			if err := m.recordTransaction(ctx, txn); err != nil {
				if errors.Is(err, common.ErrInsufficientBalance) {
					m.log.Warn(ctx, "recurring rule skipped: insufficient balance",
						"rule", rule.ID, "wallet", rule.WalletID)
					break
				}
				return applied, fmt.Errorf("recurring rule %s: %w", rule.ID, err)
			}
			applied++
			rule.NextOccurrence = rule.Advance(rule.NextOccurrence)
			changed = true
		}
		if changed {
			rule.Touch(m.now())
			if _, err := m.local.Collection(models.EntityRecurring).Update(ctx, rule, m.accountID); err != nil {
				return applied, err
			}
		}
	}
	if applied > 0 {
		return applied, m.local.MarkDirty(ctx)
	}
	return applied, nil
}

func addDelta(m map[string]decimal.Decimal, id string, d decimal.Decimal) {
	if cur, ok := m[id]; ok {
		m[id] = cur.Add(d)
	} else {
		m[id] = d
	}
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
