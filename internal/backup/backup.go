// Package backup serializes the full local data set to a portable JSON
// document for disaster recovery, and restores it. Import replaces every
// local collection and marks the replica dirty so the restored state is
// re-synced.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/logging"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/schema"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store"
)

// Version is the current backup document version.
const Version = 1

// Data holds all seven collections, tombstones included.
type Data struct {
	Transactions []*models.Transaction   `json:"transactions"`
	Categories   []*models.Category      `json:"categories"`
	Wallets      []*models.Wallet        `json:"wallets"`
	Transfers    []*models.Transfer      `json:"transfers"`
	Tags         []*models.Tag           `json:"tags"`
	Budgets      []*models.Budget        `json:"budgets"`
	Recurring    []*models.RecurringRule `json:"recurring"`
}

// Metadata carries per-collection counts for quick inspection.
type Metadata struct {
	CountPerType map[string]int `json:"countPerType"`
}

// Document is the portable backup format.
type Document struct {
	Version    int       `json:"version"`
	ExportDate time.Time `json:"exportDate"`
	AccountID  string    `json:"accountId"`
	Data       Data      `json:"data"`
	Metadata   Metadata  `json:"metadata"`
}

// importOrder is the dependency order collections are restored in.
var importOrder = []models.EntityType{
	models.EntityCategory,
	models.EntityTag,
	models.EntityWallet,
	models.EntityBudget,
	models.EntityRecurring,
	models.EntityTransfer,
	models.EntityTransaction,
}

// Manager exports and imports backups of one account's local replica.
type Manager struct {
	local     store.Local
	guard     *store.Guard
	accountID string
	log       logging.Logger
	now       func() time.Time
}

func New(local store.Local, guard *store.Guard, accountID string, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{local: local, guard: guard, accountID: accountID, log: log, now: time.Now}
}

// WithClock overrides the time source. Tests use it.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Export snapshots every collection, tombstones included, into a Document.
func (m *Manager) Export(ctx context.Context) (*Document, error) {
	m.guard.Lock()
	defer m.guard.Unlock()

	doc := &Document{
		Version:    Version,
		ExportDate: m.now().UTC(),
		AccountID:  m.accountID,
		Metadata:   Metadata{CountPerType: make(map[string]int)},
	}

	for _, t := range models.SyncOrder {
		recs, err := m.local.Collection(t).GetAll(ctx, m.accountID)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", t, err)
		}
		doc.Metadata.CountPerType[string(t)] = len(recs)
		for _, rec := range recs {
			doc.Data.add(rec)
		}
	}
	return doc, nil
}

func (d *Data) add(rec models.Record) {
	switch r := rec.(type) {
	case *models.Transaction:
		d.Transactions = append(d.Transactions, r)
	case *models.Category:
		d.Categories = append(d.Categories, r)
	case *models.Wallet:
		d.Wallets = append(d.Wallets, r)
	case *models.Transfer:
		d.Transfers = append(d.Transfers, r)
	case *models.Tag:
		d.Tags = append(d.Tags, r)
	case *models.Budget:
		d.Budgets = append(d.Budgets, r)
	case *models.RecurringRule:
		d.Recurring = append(d.Recurring, r)
	}
}

func (d *Data) collection(t models.EntityType) []models.Record {
	var out []models.Record
	switch t {
	case models.EntityTransaction:
		for _, r := range d.Transactions {
			out = append(out, r)
		}
	case models.EntityCategory:
		for _, r := range d.Categories {
			out = append(out, r)
		}
	case models.EntityWallet:
		for _, r := range d.Wallets {
			out = append(out, r)
		}
	case models.EntityTransfer:
		for _, r := range d.Transfers {
			out = append(out, r)
		}
	case models.EntityTag:
		for _, r := range d.Tags {
			out = append(out, r)
		}
	case models.EntityBudget:
		for _, r := range d.Budgets {
			out = append(out, r)
		}
	case models.EntityRecurring:
		for _, r := range d.Recurring {
			out = append(out, r)
		}
	}
	return out
}

// Import replaces every local collection with the document's contents, in
// dependency order, then marks the replica dirty. Records failing schema
// validation are skipped; their errors are aggregated and returned alongside
// a successful restore of the rest.
func (m *Manager) Import(ctx context.Context, doc *Document) error {
	if doc == nil {
		return common.ErrBadBackupDoc
	}
	if doc.Version != Version {
		return fmt.Errorf("version %d: %w", doc.Version, common.ErrBackupVersion)
	}
	if doc.AccountID != m.accountID {
		return fmt.Errorf("document for account %q, importing into %q: %w",
			doc.AccountID, m.accountID, common.ErrBadBackupDoc)
	}

	m.guard.Lock()
	defer m.guard.Unlock()

	var skipped error
	for _, t := range importOrder {
		coll := m.local.Collection(t)

		existing, err := coll.GetAll(ctx, m.accountID)
		if err != nil {
			return fmt.Errorf("import %s: %w", t, err)
		}
		for _, rec := range existing {
			if err := m.local.Remove(ctx, t, rec.GetID(), m.accountID); err != nil {
				return fmt.Errorf("import %s: %w", t, err)
			}
		}

		for _, rec := range doc.Data.collection(t) {
			if !rec.Meta().Deleted() {
				if errs := schema.Validate(rec); len(errs) > 0 {
					for _, e := range errs {
						skipped = multierr.Append(skipped, e)
					}
					m.log.Warn(ctx, "skipping invalid record in backup",
						"entity", string(t), "id", rec.GetID())
					continue
				}
			}
			if _, err := coll.Add(ctx, rec, m.accountID); err != nil {
				return fmt.Errorf("import %s %s: %w", t, rec.GetID(), err)
			}
		}
	}

	if err := m.local.MarkDirty(ctx); err != nil {
		return err
	}
	m.log.Info(ctx, "backup imported", "account", m.accountID)
	return skipped
}

// WriteFile exports to a JSON file.
func (m *Manager) WriteFile(ctx context.Context, path string) error {
	doc, err := m.Export(ctx)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	return nil
}

// ReadFile imports from a JSON file.
func (m *Manager) ReadFile(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("%v: %w", err, common.ErrBadBackupDoc)
	}
	return m.Import(ctx, &doc)
}
