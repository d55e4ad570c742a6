// Package sqlite implements the device-local replica on an embedded SQLite
// database. Records are stored one row per entity as canonical JSON next to
// the envelope columns the sync engine queries on.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/dbx"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store/sqlite/migrations"
)

const timeLayout = time.RFC3339Nano

// Store implements store.Local on SQLite.
type Store struct {
	db *sql.DB
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (or creates) the database at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-migrated database handle. Tests use it.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Collection(t models.EntityType) store.Collection {
	return &collection{db: s.db, sqlDB: s.db, entity: t}
}

func (s *Store) MarkDirty(ctx context.Context) error  { return s.setMeta(ctx, "dirty", "1") }
func (s *Store) ClearDirty(ctx context.Context) error { return s.setMeta(ctx, "dirty", "0") }

func (s *Store) IsDirty(ctx context.Context) (bool, error) {
	v, err := s.getMeta(ctx, "dirty")
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	query := `INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

func (s *Store) getMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %s: %w", key, err)
	}
	return v, nil
}

// Remove physically deletes a row. Only rollback and the tombstone sweep
// should call it.
func (s *Store) Remove(ctx context.Context, t models.EntityType, id, accountID string) error {
	query := `DELETE FROM records WHERE account_id = ? AND entity_type = ? AND id = ?`
	res, err := s.db.ExecContext(ctx, query, accountID, t, id)
	if err != nil {
		return fmt.Errorf("failed to remove %s %s: %w", t, id, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("remove %s %s: %w", t, id, common.ErrNotFound)
	}
	return nil
}

func (s *Store) PurgeTombstones(ctx context.Context, accountID string, olderThan time.Time) (int, error) {
	query := `DELETE FROM records WHERE account_id = ? AND deleted_at IS NOT NULL AND deleted_at < ?`
	res, err := s.db.ExecContext(ctx, query, accountID, olderThan.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(ra), nil
}

// collection implements store.Collection for one entity type. db is the
// handle queries run on; sqlDB is non-nil only outside a transaction and
// lets Delete open its own.
type collection struct {
	db     dbx.DBTX
	sqlDB  *sql.DB
	entity models.EntityType
}

func encode(rec models.Record) (payload, lastModified string, deletedAt sql.NullString, status string, err error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", "", sql.NullString{}, "", fmt.Errorf("failed to marshal record: %w", err)
	}
	meta := rec.Meta()
	if meta.DeletedAt != nil {
		deletedAt = sql.NullString{String: meta.DeletedAt.UTC().Format(timeLayout), Valid: true}
	}
	status = string(meta.SyncStatus)
	if status == "" {
		status = string(models.SyncStatusPending)
	}
	return string(b), meta.LastModified.UTC().Format(timeLayout), deletedAt, status, nil
}

func (c *collection) decode(payload string) (models.Record, error) {
	rec := models.New(c.entity)
	if rec == nil {
		return nil, fmt.Errorf("%q: %w", c.entity, common.ErrUnknownEntity)
	}
	if err := json.Unmarshal([]byte(payload), rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s record: %w", c.entity, err)
	}
	return rec, nil
}

func (c *collection) GetAll(ctx context.Context, accountID string) ([]models.Record, error) {
	query := `SELECT payload FROM records WHERE account_id = ? AND entity_type = ?`
	rows, err := c.db.QueryContext(ctx, query, accountID, c.entity)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s records: %w", c.entity, err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := c.decode(payload)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *collection) GetByID(ctx context.Context, id, accountID string) (models.Record, error) {
	query := `SELECT payload FROM records WHERE account_id = ? AND entity_type = ? AND id = ?`
	var payload string
	err := c.db.QueryRowContext(ctx, query, accountID, c.entity, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", c.entity, id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return c.decode(payload)
}

func (c *collection) Add(ctx context.Context, rec models.Record, accountID string) (models.Record, error) {
	payload, lm, da, status, err := encode(rec)
	if err != nil {
		return nil, err
	}
	query := `INSERT INTO records (id, account_id, entity_type, payload, last_modified, deleted_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := c.db.ExecContext(ctx, query, rec.GetID(), accountID, c.entity, payload, lm, da, status); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s %s: %w", c.entity, rec.GetID(), common.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert %s record: %w", c.entity, err)
	}
	return rec.Clone(), nil
}

func (c *collection) Update(ctx context.Context, rec models.Record, accountID string) (models.Record, error) {
	payload, lm, da, status, err := encode(rec)
	if err != nil {
		return nil, err
	}
	query := `UPDATE records SET payload = ?, last_modified = ?, deleted_at = ?, sync_status = ?
		WHERE account_id = ? AND entity_type = ? AND id = ?`
	res, err := c.db.ExecContext(ctx, query, payload, lm, da, status, accountID, c.entity, rec.GetID())
	if err != nil {
		return nil, fmt.Errorf("failed to update %s record: %w", c.entity, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return nil, fmt.Errorf("%s %s: %w", c.entity, rec.GetID(), common.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Delete tombstones a record. The read-modify-write runs in one transaction
// so a concurrent writer can never observe a half-applied tombstone.
func (c *collection) Delete(ctx context.Context, id, accountID string) (string, error) {
	del := func(ctx context.Context, db dbx.DBTX) error {
		tc := &collection{db: db, entity: c.entity}
		rec, err := tc.GetByID(ctx, id, accountID)
		if err != nil {
			return err
		}
		if rec.Meta().Deleted() {
			return nil
		}
		rec.Meta().Tombstone(time.Now())
		_, err = tc.Update(ctx, rec, accountID)
		return err
	}
	var err error
	if c.sqlDB != nil {
		err = dbx.WithTx(ctx, c.sqlDB, nil, del)
	} else {
		err = del(ctx, c.db)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations in the error text;
	// the driver does not export a typed error for them.
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
