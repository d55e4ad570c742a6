package backup

import (
	"context"
	"os"
	"path/filepath"
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
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) seed(t *testing.T, rec models.Record) {
	t.Helper()
	rec.Meta().Touch(f.now)
	_, err := f.local.Collection(rec.EntityType()).Add(f.ctx, rec, account)
	require.NoError(t, err)
}

func (f *fixture) seedBasics(t *testing.T) {
	t.Helper()
	cat := &models.Category{Name: "Food"}
	cat.ID = "cat-1"
	f.seed(t, cat)

	w := &models.Wallet{Name: "Cash", Type: models.WalletCash, Balance: decimal.NewFromInt(90)}
	w.ID = "w-1"
	f.seed(t, w)

	x := &models.Transaction{
		Amount:     decimal.NewFromInt(10),
		CategoryID: "cat-1",
		WalletID:   "w-1",
		Date:       f.now,
	}
	x.ID = "x-1"
	f.seed(t, x)
}

func TestExportSnapshotsEverything(t *testing.T) {
	f := newFixture(t)
	f.seedBasics(t)

	// Tombstones are part of the replica and must be preserved.
	_, err := f.local.Collection(models.EntityCategory).Delete(f.ctx, "cat-1", account)
	require.NoError(t, err)

	doc, err := f.mgr.Export(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, Version, doc.Version)
	assert.Equal(t, account, doc.AccountID)
	assert.Equal(t, f.now, doc.ExportDate)
	assert.Equal(t, 1, doc.Metadata.CountPerType["category"])
	assert.Equal(t, 1, doc.Metadata.CountPerType["wallet"])
	assert.Equal(t, 1, doc.Metadata.CountPerType["transaction"])
	assert.Equal(t, 0, doc.Metadata.CountPerType["budget"])

	require.Len(t, doc.Data.Categories, 1)
	assert.True(t, doc.Data.Categories[0].Deleted())
}

func TestImportReplacesExistingData(t *testing.T) {
	f := newFixture(t)
	f.seedBasics(t)

	doc, err := f.mgr.Export(f.ctx)
	require.NoError(t, err)

	// Wreck the replica after the export.
	stray := &models.Category{Name: "Stray"}
	stray.ID = "cat-stray"
	f.seed(t, stray)
	require.NoError(t, f.local.Remove(f.ctx, models.EntityTransaction, "x-1", account))
	require.NoError(t, f.local.ClearDirty(f.ctx))

	require.NoError(t, f.mgr.Import(f.ctx, doc))

	_, err = f.local.Collection(models.EntityCategory).GetByID(f.ctx, "cat-stray", account)
	assert.ErrorIs(t, err, common.ErrNotFound, "import replaces, it does not merge")

	_, err = f.local.Collection(models.EntityTransaction).GetByID(f.ctx, "x-1", account)
	assert.NoError(t, err)

	dirty, err := f.local.IsDirty(f.ctx)
	require.NoError(t, err)
	assert.True(t, dirty, "a restored replica must re-sync")
}

func TestImportRejectsWrongVersion(t *testing.T) {
	f := newFixture(t)
	doc := &Document{Version: 99, AccountID: account}

	err := f.mgr.Import(f.ctx, doc)
	assert.ErrorIs(t, err, common.ErrBackupVersion)
}

func TestImportRejectsWrongAccount(t *testing.T) {
	f := newFixture(t)
	doc := &Document{Version: Version, AccountID: "someone-else"}

	err := f.mgr.Import(f.ctx, doc)
	assert.ErrorIs(t, err, common.ErrBadBackupDoc)
}

func TestImportRejectsNilDocument(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.mgr.Import(f.ctx, nil), common.ErrBadBackupDoc)
}

func TestImportSkipsInvalidRecordsButRestoresTheRest(t *testing.T) {
	f := newFixture(t)
	f.seedBasics(t)

	doc, err := f.mgr.Export(f.ctx)
	require.NoError(t, err)

	// Corrupt one record in the document.
	bad := &models.Category{} // no name
	bad.ID = "cat-bad"
	bad.Touch(f.now)
	doc.Data.Categories = append(doc.Data.Categories, bad)

	err = f.mgr.Import(f.ctx, doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)

	// The valid records were restored anyway.
	_, err = f.local.Collection(models.EntityCategory).GetByID(f.ctx, "cat-1", account)
	assert.NoError(t, err)
	_, err = f.local.Collection(models.EntityCategory).GetByID(f.ctx, "cat-bad", account)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = f.local.Collection(models.EntityTransaction).GetByID(f.ctx, "x-1", account)
	assert.NoError(t, err)
}

func TestFileRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seedBasics(t)

	path := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, f.mgr.WriteFile(f.ctx, path))

	// Restore into a brand-new replica.
	fresh := newFixture(t)
	require.NoError(t, fresh.mgr.ReadFile(fresh.ctx, path))

	rec, err := fresh.local.Collection(models.EntityWallet).GetByID(fresh.ctx, "w-1", account)
	require.NoError(t, err)
	assert.True(t, rec.(*models.Wallet).Balance.Equal(decimal.NewFromInt(90)))

	rec, err = fresh.local.Collection(models.EntityTransaction).GetByID(fresh.ctx, "x-1", account)
	require.NoError(t, err)
	assert.Equal(t, "cat-1", rec.(*models.Transaction).CategoryID)
}

func TestReadFileRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "garbage.json")
	require.NoError(t, os.WriteFile(path, []byte("{ not json"), 0o600))

	assert.ErrorIs(t, f.mgr.ReadFile(f.ctx, path), common.ErrBadBackupDoc)
}
