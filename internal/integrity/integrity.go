// Package integrity scans the active records of every entity type, validates
// them against the schema registry and detects orphaned cross-references and
// duplicate identifiers. Issues that are safe to repair are fixed through the
// same local mutation path as user edits, so repairs get a fresh timestamp
// and are re-synced.
package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/logging"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/schema"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store"
)

// Severity ranks how urgent an issue is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// IssueType names a class of referential-integrity problem.
type IssueType string

const (
	IssueDuplicateID               IssueType = "duplicate_id"
	IssueOrphanedExpenseCategory   IssueType = "orphaned_expense_category"
	IssueOrphanedExpenseWallet     IssueType = "orphaned_expense_wallet"
	IssueOrphanedExpenseTag        IssueType = "orphaned_expense_tag"
	IssueOrphanedTransferWallet    IssueType = "orphaned_transfer_wallet"
	IssueOrphanedBudgetCategory    IssueType = "orphaned_budget_category"
	IssueOrphanedRecurringCategory IssueType = "orphaned_recurring_category"
	IssueOrphanedRecurringWallet   IssueType = "orphaned_recurring_wallet"
)

// Issue is one detected problem on one record.
type Issue struct {
	Type        IssueType
	EntityType  models.EntityType
	EntityID    string
	Field       string
	// RefID is the dangling target id, when the issue is an orphaned
	// reference.
	RefID       string
	Severity    Severity
	AutoFixable bool
	Detail      string
}

// Report summarizes a schema-level validation pass over one collection.
type Report struct {
	EntityType models.EntityType
	Total      int
	Valid      int
	Invalid    int
	Errors     []*common.ValidationError
}

// Result is the outcome of a full referential-integrity check.
type Result struct {
	Issues  []Issue
	Checked int
	Summary map[Severity]int
}

// FixReport summarizes an auto-fix pass.
type FixReport struct {
	Fixed            int
	Skipped          int
	CreatedFallbacks []string
}

// Fallback entity names. A dangling category reference is reassigned to the
// "Other" category, a dangling transaction wallet reference to the "Cash"
// wallet; both are created on demand.
const (
	FallbackCategoryName = "Other"
	FallbackWalletName   = "Cash"
)

// Checker validates the local replica of one account.
type Checker struct {
	local     store.Local
	accountID string
	log       logging.Logger
	now       func() time.Time
}

func New(local store.Local, accountID string, log logging.Logger) *Checker {
	if log == nil {
		log = logging.Nop()
	}
	return &Checker{local: local, accountID: accountID, log: log, now: time.Now}
}

// WithClock overrides the time source. Tests use it.
func (c *Checker) WithClock(now func() time.Time) *Checker {
	c.now = now
	return c
}

func active(records []models.Record) []models.Record {
	out := records[:0:0]
	for _, r := range records {
		if !r.Meta().Deleted() {
			out = append(out, r)
		}
	}
	return out
}

// ValidateCollection runs the schema-level checks on every active record of
// the given entity type.
func (c *Checker) ValidateCollection(ctx context.Context, t models.EntityType) (*Report, error) {
	all, err := c.local.Collection(t).GetAll(ctx, c.accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s collection: %w", t, err)
	}
	rep := &Report{EntityType: t}
	for _, rec := range active(all) {
		rep.Total++
		if errs := schema.Validate(rec); len(errs) > 0 {
			rep.Invalid++
			rep.Errors = append(rep.Errors, errs...)
		} else {
			rep.Valid++
		}
	}
	return rep, nil
}

// CheckReferentialIntegrity loads every active collection, verifies each
// declared cross-reference resolves, and detects duplicate identifiers.
// Duplicate ids are critical and never auto-fixable; dangling transfer
// wallets can not be repaired safely either, since fabricating a wallet
// would invent balances.
func (c *Checker) CheckReferentialIntegrity(ctx context.Context) (*Result, error) {
	byType := make(map[models.EntityType][]models.Record, len(models.SyncOrder))
	ids := make(map[models.EntityType]map[string]bool, len(models.SyncOrder))

	res := &Result{Summary: make(map[Severity]int)}

	for _, t := range models.SyncOrder {
		all, err := c.local.Collection(t).GetAll(ctx, c.accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s collection: %w", t, err)
		}
		recs := active(all)
		byType[t] = recs
		set := make(map[string]bool, len(recs))
		for _, r := range recs {
			if set[r.GetID()] {
				res.add(Issue{
					Type:        IssueDuplicateID,
					EntityType:  t,
					EntityID:    r.GetID(),
					Severity:    SeverityCritical,
					AutoFixable: false,
					Detail:      fmt.Sprintf("id %s occurs more than once in the active %s collection", r.GetID(), t),
				})
			}
			set[r.GetID()] = true
		}
		ids[t] = set
	}

	for _, t := range models.SyncOrder {
		d, ok := schema.Lookup(t)
		if !ok || len(d.References) == 0 {
			continue
		}
		for _, rec := range byType[t] {
			res.Checked++
			payload := rec.Payload()
			for _, ref := range d.References {
				if ref.List {
					list, _ := payload[ref.Field].([]string)
					for _, id := range list {
						if id != "" && !ids[ref.Target][id] {
							res.add(c.issueFor(t, ref, rec.GetID(), id))
						}
					}
					continue
				}
				id, _ := payload[ref.Field].(string)
				if id == "" && !ref.Required {
					continue
				}
				if id == "" || !ids[ref.Target][id] {
					res.add(c.issueFor(t, ref, rec.GetID(), id))
				}
			}
		}
	}

	return res, nil
}

func (r *Result) add(i Issue) {
	r.Issues = append(r.Issues, i)
	r.Summary[i.Severity]++
}

func (c *Checker) issueFor(t models.EntityType, ref schema.RefRule, entityID, refID string) Issue {
	i := Issue{
		EntityType: t,
		EntityID:   entityID,
		Field:      ref.Field,
		RefID:      refID,
		Detail:     fmt.Sprintf("%s %s references missing %s %q", t, entityID, ref.Target, refID),
	}
	switch {
	case t == models.EntityTransaction && ref.Field == "categoryId":
		i.Type, i.Severity, i.AutoFixable = IssueOrphanedExpenseCategory, SeverityMedium, true
	case t == models.EntityTransaction && ref.Field == "walletId":
		i.Type, i.Severity, i.AutoFixable = IssueOrphanedExpenseWallet, SeverityHigh, true
	case t == models.EntityTransaction && ref.Field == "tagIds":
		i.Type, i.Severity, i.AutoFixable = IssueOrphanedExpenseTag, SeverityMedium, true
	case t == models.EntityTransfer:
		i.Type, i.Severity, i.AutoFixable = IssueOrphanedTransferWallet, SeverityHigh, false
	case t == models.EntityBudget:
		i.Type, i.Severity, i.AutoFixable = IssueOrphanedBudgetCategory, SeverityMedium, true
	case t == models.EntityRecurring && ref.Field == "categoryId":
		i.Type, i.Severity, i.AutoFixable = IssueOrphanedRecurringCategory, SeverityMedium, true
	case t == models.EntityRecurring && ref.Field == "walletId":
		i.Type, i.Severity, i.AutoFixable = IssueOrphanedRecurringWallet, SeverityHigh, true
	default:
		i.Type, i.Severity, i.AutoFixable = IssueType("orphaned_reference"), SeverityMedium, false
	}
	return i
}

// AutoFix repairs every auto-fixable issue: dangling category references are
// reassigned to the fallback category, dangling wallet references to the
// fallback wallet, dangling tag references are dropped from the tag set.
// Repairs write through the local replica with a fresh timestamp and mark it
// dirty, exactly like a user edit. Non-fixable issues are counted as skipped.
func (c *Checker) AutoFix(ctx context.Context, issues []Issue) (*FixReport, error) {
	rep := &FixReport{}
	var fallbackCategory, fallbackWallet string

	for _, issue := range issues {
		if !issue.AutoFixable {
			c.log.Warn(ctx, "integrity issue requires manual attention",
				"type", string(issue.Type), "entity", string(issue.EntityType), "id", issue.EntityID)
			rep.Skipped++
			continue
		}

		rec, err := c.local.Collection(issue.EntityType).GetByID(ctx, issue.EntityID, c.accountID)
		if err != nil {
			return rep, fmt.Errorf("failed to load %s %s: %w", issue.EntityType, issue.EntityID, err)
		}

		switch issue.Type {
		case IssueOrphanedExpenseCategory, IssueOrphanedBudgetCategory, IssueOrphanedRecurringCategory:
			if fallbackCategory == "" {
				fallbackCategory, err = c.ensureFallbackCategory(ctx, rep)
				if err != nil {
					return rep, err
				}
			}
			setCategory(rec, fallbackCategory)
		case IssueOrphanedExpenseWallet, IssueOrphanedRecurringWallet:
			if fallbackWallet == "" {
				fallbackWallet, err = c.ensureFallbackWallet(ctx, rep)
				if err != nil {
					return rep, err
				}
			}
			setWallet(rec, fallbackWallet)
		case IssueOrphanedExpenseTag:
			txn, ok := rec.(*models.Transaction)
			if !ok {
				rep.Skipped++
				continue
			}
			txn.TagIDs = removeString(txn.TagIDs, issue.RefID)
		default:
			rep.Skipped++
			continue
		}

		rec.Meta().Touch(c.now())
		if _, err := c.local.Collection(issue.EntityType).Update(ctx, rec, c.accountID); err != nil {
			return rep, fmt.Errorf("failed to write fix for %s %s: %w", issue.EntityType, issue.EntityID, err)
		}
		if err := c.local.MarkDirty(ctx); err != nil {
			return rep, err
		}
		c.log.Info(ctx, "integrity issue repaired",
			"type", string(issue.Type), "entity", string(issue.EntityType), "id", issue.EntityID)
		rep.Fixed++
	}

	return rep, nil
}

func (c *Checker) ensureFallbackCategory(ctx context.Context, rep *FixReport) (string, error) {
	coll := c.local.Collection(models.EntityCategory)
	all, err := coll.GetAll(ctx, c.accountID)
	if err != nil {
		return "", err
	}
	for _, rec := range active(all) {
		if cat, ok := rec.(*models.Category); ok && cat.Name == FallbackCategoryName {
			return cat.ID, nil
		}
	}
	cat := &models.Category{Name: FallbackCategoryName}
	cat.ID = uuid.NewString()
	cat.Touch(c.now())
	if _, err := coll.Add(ctx, cat, c.accountID); err != nil {
		return "", fmt.Errorf("failed to create fallback category: %w", err)
	}
	rep.CreatedFallbacks = append(rep.CreatedFallbacks, FallbackCategoryName)
	return cat.ID, nil
}

func (c *Checker) ensureFallbackWallet(ctx context.Context, rep *FixReport) (string, error) {
	coll := c.local.Collection(models.EntityWallet)
	all, err := coll.GetAll(ctx, c.accountID)
	if err != nil {
		return "", err
	}
	for _, rec := range active(all) {
		if w, ok := rec.(*models.Wallet); ok && w.Name == FallbackWalletName {
			return w.ID, nil
		}
	}
	w := &models.Wallet{Name: FallbackWalletName, Type: models.WalletCash, Balance: decimal.Zero}
	w.ID = uuid.NewString()
	w.Touch(c.now())
	if _, err := coll.Add(ctx, w, c.accountID); err != nil {
		return "", fmt.Errorf("failed to create fallback wallet: %w", err)
	}
	rep.CreatedFallbacks = append(rep.CreatedFallbacks, FallbackWalletName)
	return w.ID, nil
}

func setCategory(rec models.Record, id string) {
	switch r := rec.(type) {
	case *models.Transaction:
		r.CategoryID = id
	case *models.Budget:
		r.CategoryID = id
	case *models.RecurringRule:
		r.CategoryID = id
	}
}

func setWallet(rec models.Record, id string) {
	switch r := rec.(type) {
	case *models.Transaction:
		r.WalletID = id
	case *models.RecurringRule:
		r.WalletID = id
	}
}

func removeString(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
