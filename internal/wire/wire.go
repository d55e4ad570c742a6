// Package wire translates between the canonical record types and the remote
// store's native field names. ToRemoteShape and FromRemoteShape are exact
// inverses: FromRemoteShape(ToRemoteShape(r)) == r for every valid record.
// The remote store names fields in snake_case, keys ids as "_id", uses an
// income/expense type string instead of a boolean, and carries amounts as
// decimal strings.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
)

const timeLayout = time.RFC3339Nano

const (
	txnTypeIncome  = "income"
	txnTypeExpense = "expense"
)

type envelope struct {
	ID        string  `json:"_id"`
	UpdatedAt string  `json:"updated_at"`
	DeletedAt *string `json:"deleted_at,omitempty"`
}

func toEnvelope(m *models.Envelope) envelope {
	e := envelope{ID: m.ID, UpdatedAt: m.LastModified.UTC().Format(timeLayout)}
	if m.DeletedAt != nil {
		s := m.DeletedAt.UTC().Format(timeLayout)
		e.DeletedAt = &s
	}
	return e
}

func (e envelope) into(m *models.Envelope) error {
	m.ID = e.ID
	t, err := time.Parse(timeLayout, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("bad updated_at %q: %w", e.UpdatedAt, err)
	}
	m.LastModified = t.UTC()
	if e.DeletedAt != nil {
		d, err := time.Parse(timeLayout, *e.DeletedAt)
		if err != nil {
			return fmt.Errorf("bad deleted_at %q: %w", *e.DeletedAt, err)
		}
		du := d.UTC()
		m.DeletedAt = &du
	}
	return nil
}

type walletWire struct {
	envelope
	Name    string `json:"name"`
	Type    string `json:"wallet_type"`
	Balance string `json:"balance"`
}

type transactionWire struct {
	envelope
	Type          string   `json:"type"`
	Amount        string   `json:"amount"`
	CategoryID    string   `json:"category_id"`
	WalletID      string   `json:"wallet_id"`
	TagIDs        []string `json:"tag_ids,omitempty"`
	Date          string   `json:"date"`
	Note          string   `json:"note,omitempty"`
	PhotoURL      string   `json:"photo_url,omitempty"`
	AllowNegative bool     `json:"allow_negative,omitempty"`
}

type transferWire struct {
	envelope
	FromWalletID string `json:"from_wallet_id"`
	ToWalletID   string `json:"to_wallet_id"`
	Amount       string `json:"amount"`
	Date         string `json:"date"`
	Note         string `json:"note,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
}

type categoryWire struct {
	envelope
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type budgetWire struct {
	envelope
	CategoryID string `json:"category_id"`
	Amount     string `json:"amount"`
	Period     string `json:"period"`
}

type recurringWire struct {
	envelope
	Name           string `json:"name"`
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	CategoryID     string `json:"category_id"`
	WalletID       string `json:"wallet_id"`
	Frequency      string `json:"frequency"`
	NextOccurrence string `json:"next_occurrence"`
}

func txnType(isIncome bool) string {
	if isIncome {
		return txnTypeIncome
	}
	return txnTypeExpense
}

// ToRemoteShape converts a canonical record to the remote store's JSON shape.
// SyncStatus is local bookkeeping and is never transmitted.
func ToRemoteShape(rec models.Record) (json.RawMessage, error) {
	var v any
	switch r := rec.(type) {
	case *models.Wallet:
		v = walletWire{
			envelope: toEnvelope(r.Meta()),
			Name:     r.Name,
			Type:     string(r.Type),
			Balance:  r.Balance.String(),
		}
	case *models.Transaction:
		v = transactionWire{
			envelope:      toEnvelope(r.Meta()),
			Type:          txnType(r.IsIncome),
			Amount:        r.Amount.String(),
			CategoryID:    r.CategoryID,
			WalletID:      r.WalletID,
			TagIDs:        r.TagIDs,
			Date:          r.Date.UTC().Format(timeLayout),
			Note:          r.Notes,
			PhotoURL:      r.PhotoID,
			AllowNegative: r.AllowNegative,
		}
	case *models.Transfer:
		v = transferWire{
			envelope:     toEnvelope(r.Meta()),
			FromWalletID: r.FromWalletID,
			ToWalletID:   r.ToWalletID,
			Amount:       r.Amount.String(),
			Date:         r.Date.UTC().Format(timeLayout),
			Note:         r.Notes,
			PhotoURL:     r.PhotoID,
		}
	case *models.Category:
		v = categoryWire{envelope: toEnvelope(r.Meta()), Name: r.Name, Color: r.Color}
	case *models.Tag:
		v = categoryWire{envelope: toEnvelope(r.Meta()), Name: r.Name, Color: r.Color}
	case *models.Budget:
		v = budgetWire{
			envelope:   toEnvelope(r.Meta()),
			CategoryID: r.CategoryID,
			Amount:     r.Amount.String(),
			Period:     string(r.Period),
		}
	case *models.RecurringRule:
		v = recurringWire{
			envelope:       toEnvelope(r.Meta()),
			Name:           r.Name,
			Type:           txnType(r.IsIncome),
			Amount:         r.Amount.String(),
			CategoryID:     r.CategoryID,
			WalletID:       r.WalletID,
			Frequency:      string(r.Frequency),
			NextOccurrence: r.NextOccurrence.UTC().Format(timeLayout),
		}
	default:
		return nil, fmt.Errorf("%T: %w", rec, common.ErrUnknownEntity)
	}
	return json.Marshal(v)
}

// FromRemoteShape converts a remote JSON document back into a canonical
// record of the given entity type.
func FromRemoteShape(t models.EntityType, data json.RawMessage) (models.Record, error) {
	switch t {
	case models.EntityWallet:
		var w walletWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode wallet: %w", err)
		}
		bal, err := decimal.NewFromString(w.Balance)
		if err != nil {
			return nil, fmt.Errorf("bad balance %q: %w", w.Balance, err)
		}
		rec := &models.Wallet{Name: w.Name, Type: models.WalletType(w.Type), Balance: bal}
		return rec, w.envelope.into(rec.Meta())

	case models.EntityTransaction:
		var w transactionWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		amount, err := decimal.NewFromString(w.Amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", w.Amount, err)
		}
		date, err := time.Parse(timeLayout, w.Date)
		if err != nil {
			return nil, fmt.Errorf("bad date %q: %w", w.Date, err)
		}
		rec := &models.Transaction{
			Amount:        amount,
			CategoryID:    w.CategoryID,
			WalletID:      w.WalletID,
			IsIncome:      w.Type == txnTypeIncome,
			TagIDs:        w.TagIDs,
			Date:          date.UTC(),
			Notes:         w.Note,
			PhotoID:       w.PhotoURL,
			AllowNegative: w.AllowNegative,
		}
		return rec, w.envelope.into(rec.Meta())

	case models.EntityTransfer:
		var w transferWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode transfer: %w", err)
		}
		amount, err := decimal.NewFromString(w.Amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", w.Amount, err)
		}
		date, err := time.Parse(timeLayout, w.Date)
		if err != nil {
			return nil, fmt.Errorf("bad date %q: %w", w.Date, err)
		}
		rec := &models.Transfer{
			FromWalletID: w.FromWalletID,
			ToWalletID:   w.ToWalletID,
			Amount:       amount,
			Date:         date.UTC(),
			Notes:        w.Note,
			PhotoID:      w.PhotoURL,
		}
		return rec, w.envelope.into(rec.Meta())

	case models.EntityCategory:
		var w categoryWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode category: %w", err)
		}
		rec := &models.Category{Name: w.Name, Color: w.Color}
		return rec, w.envelope.into(rec.Meta())

	case models.EntityTag:
		var w categoryWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode tag: %w", err)
		}
		rec := &models.Tag{Name: w.Name, Color: w.Color}
		return rec, w.envelope.into(rec.Meta())

	case models.EntityBudget:
		var w budgetWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode budget: %w", err)
		}
		amount, err := decimal.NewFromString(w.Amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", w.Amount, err)
		}
		rec := &models.Budget{CategoryID: w.CategoryID, Amount: amount, Period: models.BudgetPeriod(w.Period)}
		return rec, w.envelope.into(rec.Meta())

	case models.EntityRecurring:
		var w recurringWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode recurring rule: %w", err)
		}
		amount, err := decimal.NewFromString(w.Amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", w.Amount, err)
		}
		next, err := time.Parse(timeLayout, w.NextOccurrence)
		if err != nil {
			return nil, fmt.Errorf("bad next_occurrence %q: %w", w.NextOccurrence, err)
		}
		rec := &models.RecurringRule{
			Name:           w.Name,
			Amount:         amount,
			CategoryID:     w.CategoryID,
			WalletID:       w.WalletID,
			Frequency:      models.Frequency(w.Frequency),
			NextOccurrence: next.UTC(),
			IsIncome:       w.Type == txnTypeIncome,
		}
		return rec, w.envelope.into(rec.Meta())

	default:
		return nil, fmt.Errorf("%q: %w", t, common.ErrUnknownEntity)
	}
}
