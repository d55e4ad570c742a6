package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletType enumerates the supported wallet kinds.
type WalletType string

const (
	WalletCash       WalletType = "cash"
	WalletBank       WalletType = "bank"
	WalletCreditCard WalletType = "credit_card"
	WalletEWallet    WalletType = "e_wallet"
)

// WalletTypes lists every valid WalletType.
var WalletTypes = []WalletType{WalletCash, WalletBank, WalletCreditCard, WalletEWallet}

// BudgetPeriod enumerates budget periods.
type BudgetPeriod string

const (
	BudgetWeekly  BudgetPeriod = "weekly"
	BudgetMonthly BudgetPeriod = "monthly"
	BudgetYearly  BudgetPeriod = "yearly"
)

// BudgetPeriods lists every valid BudgetPeriod.
var BudgetPeriods = []BudgetPeriod{BudgetWeekly, BudgetMonthly, BudgetYearly}

// Frequency enumerates recurring-rule frequencies.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Frequencies lists every valid Frequency.
var Frequencies = []Frequency{FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly}

// Wallet holds a balance. The balance equals the fold of every non-tombstoned
// transaction and transfer referencing the wallet; RecalculateWalletBalance
// restores that invariant when it drifts.
type Wallet struct {
	Envelope
	Name    string          `json:"name"`
	Type    WalletType      `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

func (w *Wallet) EntityType() EntityType { return EntityWallet }

func (w *Wallet) Clone() Record {
	c := *w
	w.Envelope.cloneInto(&c.Envelope)
	return &c
}

func (w *Wallet) Payload() map[string]any {
	return map[string]any{
		"name":    w.Name,
		"type":    string(w.Type),
		"balance": w.Balance.String(),
	}
}

// Transaction is a single income or expense entry against one wallet.
type Transaction struct {
	Envelope
	Amount     decimal.Decimal `json:"amount"`
	CategoryID string          `json:"categoryId"`
	WalletID   string          `json:"walletId"`
	IsIncome   bool            `json:"isIncome"`
	TagIDs     []string        `json:"tagIds,omitempty"`
	Date       time.Time       `json:"date"`
	Notes      string          `json:"notes,omitempty"`
	PhotoID    string          `json:"photoId,omitempty"`

	// AllowNegative records that the insufficient-balance check was
	// explicitly overridden when this entry was created (manual data-entry
	// recovery). The flag is kept on the record so recalculation treats the
	// entry as an accepted exception, not a violation.
	AllowNegative bool `json:"allowNegative,omitempty"`
}

func (x *Transaction) EntityType() EntityType { return EntityTransaction }

func (x *Transaction) Clone() Record {
	c := *x
	x.Envelope.cloneInto(&c.Envelope)
	if x.TagIDs != nil {
		c.TagIDs = append([]string(nil), x.TagIDs...)
	}
	return &c
}

func (x *Transaction) Payload() map[string]any {
	// Empty and nil tag sets must compare equal across the wire.
	var tags []string
	if len(x.TagIDs) > 0 {
		tags = append(tags, x.TagIDs...)
	}
	return map[string]any{
		"amount":        x.Amount.String(),
		"categoryId":    x.CategoryID,
		"walletId":      x.WalletID,
		"isIncome":      x.IsIncome,
		"tagIds":        tags,
		"date":          fmtTime(x.Date),
		"notes":         x.Notes,
		"photoId":       x.PhotoID,
		"allowNegative": x.AllowNegative,
	}
}

// SignedAmount is the transaction's effect on its wallet balance:
// +Amount for income, -Amount for expense.
func (x *Transaction) SignedAmount() decimal.Decimal {
	if x.IsIncome {
		return x.Amount
	}
	return x.Amount.Neg()
}

// Transfer is a single atomic move of value between two wallets.
type Transfer struct {
	Envelope
	FromWalletID string          `json:"fromWalletId"`
	ToWalletID   string          `json:"toWalletId"`
	Amount       decimal.Decimal `json:"amount"`
	Date         time.Time       `json:"date"`
	Notes        string          `json:"notes,omitempty"`
	PhotoID      string          `json:"photoId,omitempty"`
}

func (x *Transfer) EntityType() EntityType { return EntityTransfer }

func (x *Transfer) Clone() Record {
	c := *x
	x.Envelope.cloneInto(&c.Envelope)
	return &c
}

func (x *Transfer) Payload() map[string]any {
	return map[string]any{
		"fromWalletId": x.FromWalletID,
		"toWalletId":   x.ToWalletID,
		"amount":       x.Amount.String(),
		"date":         fmtTime(x.Date),
		"notes":        x.Notes,
		"photoId":      x.PhotoID,
	}
}

// Category labels transactions and budgets.
type Category struct {
	Envelope
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

func (x *Category) EntityType() EntityType { return EntityCategory }

func (x *Category) Clone() Record {
	c := *x
	x.Envelope.cloneInto(&c.Envelope)
	return &c
}

func (x *Category) Payload() map[string]any {
	return map[string]any{"name": x.Name, "color": x.Color}
}

// Tag is a free-form label attached to transactions.
type Tag struct {
	Envelope
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

func (x *Tag) EntityType() EntityType { return EntityTag }

func (x *Tag) Clone() Record {
	c := *x
	x.Envelope.cloneInto(&c.Envelope)
	return &c
}

func (x *Tag) Payload() map[string]any {
	return map[string]any{"name": x.Name, "color": x.Color}
}

// Budget caps spending for one category over a period.
type Budget struct {
	Envelope
	CategoryID string          `json:"categoryId"`
	Amount     decimal.Decimal `json:"amount"`
	Period     BudgetPeriod    `json:"period"`
}

func (x *Budget) EntityType() EntityType { return EntityBudget }

func (x *Budget) Clone() Record {
	c := *x
	x.Envelope.cloneInto(&c.Envelope)
	return &c
}

func (x *Budget) Payload() map[string]any {
	return map[string]any{
		"categoryId": x.CategoryID,
		"amount":     x.Amount.String(),
		"period":     string(x.Period),
	}
}

// RecurringRule materializes a transaction on a schedule.
type RecurringRule struct {
	Envelope
	Name           string          `json:"name"`
	Amount         decimal.Decimal `json:"amount"`
	CategoryID     string          `json:"categoryId"`
	WalletID       string          `json:"walletId"`
	Frequency      Frequency       `json:"frequency"`
	NextOccurrence time.Time       `json:"nextOccurrence"`
	IsIncome       bool            `json:"isIncome,omitempty"`
}

func (x *RecurringRule) EntityType() EntityType { return EntityRecurring }

func (x *RecurringRule) Clone() Record {
	c := *x
	x.Envelope.cloneInto(&c.Envelope)
	return &c
}

func (x *RecurringRule) Payload() map[string]any {
	return map[string]any{
		"name":           x.Name,
		"amount":         x.Amount.String(),
		"categoryId":     x.CategoryID,
		"walletId":       x.WalletID,
		"frequency":      string(x.Frequency),
		"nextOccurrence": fmtTime(x.NextOccurrence),
		"isIncome":       x.IsIncome,
	}
}

// Advance returns the occurrence after t for the rule's frequency.
func (x *RecurringRule) Advance(t time.Time) time.Time {
	switch x.Frequency {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	case FrequencyYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}
