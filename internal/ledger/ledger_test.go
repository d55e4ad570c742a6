package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store/memory"
)

const account = "acc-1"

type fixture struct {
	ctx   context.Context
	local *memory.Store
	mgr   *Manager
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		local: memory.New(),
		now:   time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.mgr = New(f.local, store.NewGuard(), account, nil).
		WithClock(func() time.Time { return f.now }).
		WithRetryBase(time.Millisecond)
	return f
}

func (f *fixture) addWallet(t *testing.T, id string, balance int64) {
	t.Helper()
	w := &models.Wallet{Name: "Wallet " + id, Type: models.WalletBank, Balance: decimal.NewFromInt(balance)}
	w.ID = id
	w.Touch(f.now)
	_, err := f.local.Collection(models.EntityWallet).Add(f.ctx, w, account)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, walletID string) decimal.Decimal {
	t.Helper()
	rec, err := f.local.Collection(models.EntityWallet).GetByID(f.ctx, walletID, account)
	require.NoError(t, err)
	return rec.(*models.Wallet).Balance
}

func (f *fixture) expense(walletID string, amount int64) *models.Transaction {
	return &models.Transaction{
		Amount:     decimal.NewFromInt(amount),
		CategoryID: "cat-1",
		WalletID:   walletID,
		Date:       f.now,
	}
}

func assertBalance(t *testing.T, got decimal.Decimal, want int64) {
	t.Helper()
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "balance = %s, want %d", got, want)
}

func TestRecordExpense(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)

	txn := f.expense("w-1", 30)
	require.NoError(t, f.mgr.RecordTransaction(f.ctx, txn))

	assert.NotEmpty(t, txn.ID, "an id is assigned on insert")
	assertBalance(t, f.balance(t, "w-1"), 70)

	rec, err := f.local.Collection(models.EntityTransaction).GetByID(f.ctx, txn.ID, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, rec.Meta().SyncStatus)

	dirty, err := f.local.IsDirty(f.ctx)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestRecordIncome(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)

	txn := f.expense("w-1", 40)
	txn.IsIncome = true
	require.NoError(t, f.mgr.RecordTransaction(f.ctx, txn))

	assertBalance(t, f.balance(t, "w-1"), 140)
}

func TestInsufficientBalanceRejectsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 20)

	err := f.mgr.RecordTransaction(f.ctx, f.expense("w-1", 30))
	require.ErrorIs(t, err, common.ErrInsufficientBalance)

	var ibe *common.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "w-1", ibe.WalletID)
	assert.Equal(t, "20", ibe.Balance)
	assert.Equal(t, "30", ibe.Requested)

	assertBalance(t, f.balance(t, "w-1"), 20)
	all, err := f.local.Collection(models.EntityTransaction).GetAll(f.ctx, account)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAllowNegativeOverride(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 20)

	txn := f.expense("w-1", 30)
	txn.AllowNegative = true
	require.NoError(t, f.mgr.RecordTransaction(f.ctx, txn))

	assertBalance(t, f.balance(t, "w-1"), -10)

	rec, err := f.local.Collection(models.EntityTransaction).GetByID(f.ctx, txn.ID, account)
	require.NoError(t, err)
	assert.True(t, rec.(*models.Transaction).AllowNegative, "the override stays on the record")
}

func TestRecordTransactionValidation(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)

	err := f.mgr.RecordTransaction(f.ctx, f.expense("w-1", 0))
	assert.ErrorIs(t, err, common.ErrValidation)

	err = f.mgr.RecordTransaction(f.ctx, f.expense("missing-wallet", 10))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteTransactionReversesBalance(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)

	txn := f.expense("w-1", 30)
	require.NoError(t, f.mgr.RecordTransaction(f.ctx, txn))
	assertBalance(t, f.balance(t, "w-1"), 70)

	require.NoError(t, f.mgr.DeleteTransaction(f.ctx, txn.ID))
	assertBalance(t, f.balance(t, "w-1"), 100)

	rec, err := f.local.Collection(models.EntityTransaction).GetByID(f.ctx, txn.ID, account)
	require.NoError(t, err)
	assert.True(t, rec.Meta().Deleted(), "deletes are soft")

	assert.ErrorIs(t, f.mgr.DeleteTransaction(f.ctx, txn.ID), common.ErrNotFound)
}

func TestUpdateTransactionSameWallet(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)

	txn := f.expense("w-1", 30)
	require.NoError(t, f.mgr.RecordTransaction(f.ctx, txn))

	upd := txn.Clone().(*models.Transaction)
	upd.Amount = decimal.NewFromInt(50)
	require.NoError(t, f.mgr.UpdateTransaction(f.ctx, upd))

	assertBalance(t, f.balance(t, "w-1"), 50)
}

func TestUpdateTransactionCrossWallet(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)
	f.addWallet(t, "w-2", 10)

	txn := f.expense("w-1", 30)
	require.NoError(t, f.mgr.RecordTransaction(f.ctx, txn))
	assertBalance(t, f.balance(t, "w-1"), 70)

	upd := txn.Clone().(*models.Transaction)
	upd.WalletID = "w-2"
	upd.AllowNegative = true
	require.NoError(t, f.mgr.UpdateTransaction(f.ctx, upd))

	assertBalance(t, f.balance(t, "w-1"), 100)
	assertBalance(t, f.balance(t, "w-2"), -20)
}

func TestUpdateTransactionInsufficientNewWallet(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)
	f.addWallet(t, "w-2", 5)

	txn := f.expense("w-1", 30)
	require.NoError(t, f.mgr.RecordTransaction(f.ctx, txn))

	upd := txn.Clone().(*models.Transaction)
	upd.WalletID = "w-2"
	err := f.mgr.UpdateTransaction(f.ctx, upd)
	require.ErrorIs(t, err, common.ErrInsufficientBalance)

	// Nothing moved.
	assertBalance(t, f.balance(t, "w-1"), 70)
	assertBalance(t, f.balance(t, "w-2"), 5)
}

func TestExecuteTransfer(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)
	f.addWallet(t, "w-2", 10)

	tr := &models.Transfer{FromWalletID: "w-1", ToWalletID: "w-2", Amount: decimal.NewFromInt(40), Date: f.now}
	require.NoError(t, f.mgr.ExecuteTransfer(f.ctx, tr))

	assert.NotEmpty(t, tr.ID)
	assertBalance(t, f.balance(t, "w-1"), 60)
	assertBalance(t, f.balance(t, "w-2"), 50)
}

func TestExecuteTransferRejections(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 10)
	f.addWallet(t, "w-2", 10)

	same := &models.Transfer{FromWalletID: "w-1", ToWalletID: "w-1", Amount: decimal.NewFromInt(5), Date: f.now}
	assert.ErrorIs(t, f.mgr.ExecuteTransfer(f.ctx, same), common.ErrSameWallet)

	broke := &models.Transfer{FromWalletID: "w-1", ToWalletID: "w-2", Amount: decimal.NewFromInt(50), Date: f.now}
	assert.ErrorIs(t, f.mgr.ExecuteTransfer(f.ctx, broke), common.ErrInsufficientBalance)

	assertBalance(t, f.balance(t, "w-1"), 10)
	assertBalance(t, f.balance(t, "w-2"), 10)
}

func TestUpdateTransferRedirectsDestination(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)
	f.addWallet(t, "w-2", 0)
	f.addWallet(t, "w-3", 0)

	tr := &models.Transfer{FromWalletID: "w-1", ToWalletID: "w-2", Amount: decimal.NewFromInt(40), Date: f.now}
	require.NoError(t, f.mgr.ExecuteTransfer(f.ctx, tr))

	upd := tr.Clone().(*models.Transfer)
	upd.ToWalletID = "w-3"
	upd.Amount = decimal.NewFromInt(25)
	require.NoError(t, f.mgr.UpdateTransfer(f.ctx, upd))

	assertBalance(t, f.balance(t, "w-1"), 75)
	assertBalance(t, f.balance(t, "w-2"), 0)
	assertBalance(t, f.balance(t, "w-3"), 25)
}

func TestUpdateTransferInsufficientAfterReversal(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 50)
	f.addWallet(t, "w-2", 0)

	tr := &models.Transfer{FromWalletID: "w-1", ToWalletID: "w-2", Amount: decimal.NewFromInt(40), Date: f.now}
	require.NoError(t, f.mgr.ExecuteTransfer(f.ctx, tr))

	// 10 on hand, 40 back after reversal: 60 is too much.
	upd := tr.Clone().(*models.Transfer)
	upd.Amount = decimal.NewFromInt(60)
	assert.ErrorIs(t, f.mgr.UpdateTransfer(f.ctx, upd), common.ErrInsufficientBalance)

	// 50 is exactly affordable after reversal.
	upd.Amount = decimal.NewFromInt(50)
	require.NoError(t, f.mgr.UpdateTransfer(f.ctx, upd))
	assertBalance(t, f.balance(t, "w-1"), 0)
	assertBalance(t, f.balance(t, "w-2"), 50)
}

func TestDeleteTransferReversesBothWallets(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)
	f.addWallet(t, "w-2", 0)

	tr := &models.Transfer{FromWalletID: "w-1", ToWalletID: "w-2", Amount: decimal.NewFromInt(40), Date: f.now}
	require.NoError(t, f.mgr.ExecuteTransfer(f.ctx, tr))

	require.NoError(t, f.mgr.DeleteTransfer(f.ctx, tr.ID))
	assertBalance(t, f.balance(t, "w-1"), 100)
	assertBalance(t, f.balance(t, "w-2"), 0)

	rec, err := f.local.Collection(models.EntityTransfer).GetByID(f.ctx, tr.ID, account)
	require.NoError(t, err)
	assert.True(t, rec.Meta().Deleted())
}

// failingLocal makes one collection's mutations fail a set number of times.
type failingLocal struct {
	store.Local
	entity    models.EntityType
	op        string // "add" or "update"
	remaining int
	err       error
}

func (l *failingLocal) Collection(t models.EntityType) store.Collection {
	c := l.Local.Collection(t)
	if t == l.entity {
		return &failingCollection{Collection: c, parent: l}
	}
	return c
}

type failingCollection struct {
	store.Collection
	parent *failingLocal
}

func (c *failingCollection) fail(op string) error {
	if op == c.parent.op && c.parent.remaining != 0 {
		c.parent.remaining--
		return c.parent.err
	}
	return nil
}

func (c *failingCollection) Add(ctx context.Context, rec models.Record, accountID string) (models.Record, error) {
	if err := c.fail("add"); err != nil {
		return nil, err
	}
	return c.Collection.Add(ctx, rec, accountID)
}

func (c *failingCollection) Update(ctx context.Context, rec models.Record, accountID string) (models.Record, error) {
	if err := c.fail("update"); err != nil {
		return nil, err
	}
	return c.Collection.Update(ctx, rec, accountID)
}

func TestStepFailureRollsBackWalletAdjustment(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)

	wrapped := &failingLocal{
		Local:     f.local,
		entity:    models.EntityTransaction,
		op:        "add",
		remaining: -1, // always fail
		err:       errors.New("insert rejected"),
	}
	mgr := New(wrapped, store.NewGuard(), account, nil).
		WithClock(func() time.Time { return f.now }).
		WithRetryBase(time.Millisecond)

	err := mgr.RecordTransaction(f.ctx, f.expense("w-1", 30))
	require.ErrorContains(t, err, "insert rejected")
	assert.NotErrorIs(t, err, common.ErrRollbackFailure)

	// The deduction was compensated.
	assertBalance(t, f.balance(t, "w-1"), 100)
}

func TestTransientStepFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)

	wrapped := &failingLocal{
		Local:     f.local,
		entity:    models.EntityTransaction,
		op:        "add",
		remaining: 2, // fewer than the attempt budget
		err:       fmt.Errorf("timeout: %w", common.ErrTransient),
	}
	mgr := New(wrapped, store.NewGuard(), account, nil).
		WithClock(func() time.Time { return f.now }).
		WithRetryBase(time.Millisecond)

	require.NoError(t, mgr.RecordTransaction(f.ctx, f.expense("w-1", 30)))
	assertBalance(t, f.balance(t, "w-1"), 70)
}

func TestRollbackFailureIsFatalAndNamesWallets(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)
	f.addWallet(t, "w-2", 0)

	// Both forward wallet updates pass, the transfer insert fails, and every
	// compensating wallet update then fails too.
	transfers := &failingLocal{
		Local:     f.local,
		entity:    models.EntityTransfer,
		op:        "add",
		remaining: -1,
		err:       errors.New("insert rejected"),
	}
	counting := &countingThenFailing{inner: f.local, failAfter: 2}
	mgr := New(&relocal{Local: transfers, wallets: counting}, store.NewGuard(), account, nil).
		WithClock(func() time.Time { return f.now }).
		WithRetryBase(time.Millisecond)

	tr := &models.Transfer{FromWalletID: "w-1", ToWalletID: "w-2", Amount: decimal.NewFromInt(40), Date: f.now}
	err := mgr.ExecuteTransfer(f.ctx, tr)
	require.ErrorIs(t, err, common.ErrRollbackFailure)

	var rbe *common.RollbackFailureError
	require.ErrorAs(t, err, &rbe)
	assert.ErrorContains(t, rbe.Cause, "insert rejected")
	assert.ElementsMatch(t, []string{"w-1", "w-2"}, rbe.WalletIDs)
}

// countingThenFailing passes through wallet updates until failAfter calls
// have happened, then fails every later one.
type countingThenFailing struct {
	inner     store.Local
	calls     int
	failAfter int
}

func (c *countingThenFailing) Update(ctx context.Context, rec models.Record, accountID string) (models.Record, error) {
	c.calls++
	if c.calls > c.failAfter {
		return nil, errors.New("wallet write rejected")
	}
	return c.inner.Collection(models.EntityWallet).Update(ctx, rec, accountID)
}

// relocal routes wallet updates through the counting wrapper and everything
// else to the underlying store.
type relocal struct {
	store.Local
	wallets *countingThenFailing
}

func (r *relocal) Collection(t models.EntityType) store.Collection {
	c := r.Local.Collection(t)
	if t == models.EntityWallet {
		return &walletRoute{Collection: c, wallets: r.wallets}
	}
	return c
}

type walletRoute struct {
	store.Collection
	wallets *countingThenFailing
}

func (w *walletRoute) Update(ctx context.Context, rec models.Record, accountID string) (models.Record, error) {
	return w.wallets.Update(ctx, rec, accountID)
}

func TestRecalculateWalletBalanceHealsDrift(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 1000)
	f.addWallet(t, "w-2", 0)

	txn := f.expense("w-1", 100)
	require.NoError(t, f.mgr.RecordTransaction(f.ctx, txn))

	income := f.expense("w-1", 50)
	income.IsIncome = true
	require.NoError(t, f.mgr.RecordTransaction(f.ctx, income))

	tr := &models.Transfer{FromWalletID: "w-1", ToWalletID: "w-2", Amount: decimal.NewFromInt(200), Date: f.now}
	require.NoError(t, f.mgr.ExecuteTransfer(f.ctx, tr))

	deleted := f.expense("w-1", 10)
	require.NoError(t, f.mgr.RecordTransaction(f.ctx, deleted))
	require.NoError(t, f.mgr.DeleteTransaction(f.ctx, deleted.ID))

	// Corrupt the stored balance.
	rec, err := f.local.Collection(models.EntityWallet).GetByID(f.ctx, "w-1", account)
	require.NoError(t, err)
	w := rec.(*models.Wallet)
	w.Balance = decimal.NewFromInt(999999)
	_, err = f.local.Collection(models.EntityWallet).Update(f.ctx, w, account)
	require.NoError(t, err)

	// -100 +50 -200, tombstoned entry excluded.
	got, err := f.mgr.RecalculateWalletBalance(f.ctx, "w-1")
	require.NoError(t, err)
	assertBalance(t, got, -250)
	assertBalance(t, f.balance(t, "w-1"), -250)

	// Idempotent: a second run changes nothing.
	got, err = f.mgr.RecalculateWalletBalance(f.ctx, "w-1")
	require.NoError(t, err)
	assertBalance(t, got, -250)
}

func TestApplyRecurringRules(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 100)

	rule := &models.RecurringRule{
		Name:           "Gym",
		Amount:         decimal.NewFromInt(30),
		CategoryID:     "cat-1",
		WalletID:       "w-1",
		Frequency:      models.FrequencyMonthly,
		NextOccurrence: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	rule.ID = "r-1"
	rule.Touch(f.now)
	_, err := f.local.Collection(models.EntityRecurring).Add(f.ctx, rule, account)
	require.NoError(t, err)

	// April, May and June are due as of June 1.
	n, err := f.mgr.ApplyRecurringRules(f.ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assertBalance(t, f.balance(t, "w-1"), 10)

	rec, err := f.local.Collection(models.EntityRecurring).GetByID(f.ctx, "r-1", account)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), rec.(*models.RecurringRule).NextOccurrence)

	// Nothing further is due.
	n, err = f.mgr.ApplyRecurringRules(f.ctx, f.now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyRecurringRulesSkipsOnInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, "w-1", 40)

	rule := &models.RecurringRule{
		Name:           "Rent",
		Amount:         decimal.NewFromInt(30),
		CategoryID:     "cat-1",
		WalletID:       "w-1",
		Frequency:      models.FrequencyMonthly,
		NextOccurrence: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	rule.ID = "r-1"
	rule.Touch(f.now)
	_, err := f.local.Collection(models.EntityRecurring).Add(f.ctx, rule, account)
	require.NoError(t, err)

	// Only the first of the three due occurrences is affordable.
	n, err := f.mgr.ApplyRecurringRules(f.ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assertBalance(t, f.balance(t, "w-1"), 10)

	rec, err := f.local.Collection(models.EntityRecurring).GetByID(f.ctx, "r-1", account)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), rec.(*models.RecurringRule).NextOccurrence,
		"the rule stops at the first unaffordable occurrence")
}
