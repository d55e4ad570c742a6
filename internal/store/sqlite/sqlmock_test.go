package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
)

// The happy paths run against a real database; these cover driver failures
// that are awkward to provoke there.

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestGetAllQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT payload FROM records").WillReturnError(errors.New("disk I/O error"))

	_, err := s.Collection(models.EntityWallet).GetAll(context.Background(), account)
	assert.ErrorContains(t, err, "failed to select wallet records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAllBadPayload(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"payload"}).AddRow(`{not json`)
	mock.ExpectQuery("SELECT payload FROM records").WillReturnRows(rows)

	_, err := s.Collection(models.EntityWallet).GetAll(context.Background(), account)
	assert.ErrorContains(t, err, "failed to unmarshal wallet record")
}

func TestAddExecError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO records").WillReturnError(errors.New("database is locked"))

	_, err := s.Collection(models.EntityWallet).Add(context.Background(), newWallet("w-1", 1), account)
	assert.ErrorContains(t, err, "failed to insert wallet record")
	assert.NotErrorIs(t, err, common.ErrAlreadyExists)
}

func TestAddConstraintViolationMapsToAlreadyExists(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO records").
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: records.id (1555)"))

	_, err := s.Collection(models.EntityWallet).Add(context.Background(), newWallet("w-1", 1), account)
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestUpdateRowsAffectedError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE records").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("no RowsAffected")))

	_, err := s.Collection(models.EntityWallet).Update(context.Background(), newWallet("w-1", 1), account)
	assert.ErrorContains(t, err, "failed to get rows affected")
}

func TestRemoveZeroRowsIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM records").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Remove(context.Background(), models.EntityWallet, "w-1", account)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPurgeTombstonesCount(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM records").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PurgeTombstones(context.Background(), account, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMetadataReadError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT value FROM metadata").WillReturnError(errors.New("disk I/O error"))

	_, err := s.IsDirty(context.Background())
	assert.ErrorContains(t, err, "failed to read metadata")
}
