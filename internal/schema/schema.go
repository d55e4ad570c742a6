// Package schema holds the static per-entity-type descriptors: required
// fields, value kinds, domain constraints and cross-entity references. One
// generic validator consults the table; there are no per-call type switches.
package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
)

// Kind classifies a payload field's value type.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindDecimal
	KindTime
	KindEnum
	KindStringList
)

// MaxNameLength bounds category, tag, wallet and rule names.
const MaxNameLength = 64

// FieldRule constrains one payload field.
type FieldRule struct {
	Kind     Kind
	Required bool
	// Positive requires a decimal field to be strictly > 0.
	Positive bool
	// MaxLen bounds a string field's length; 0 means unbounded.
	MaxLen int
	// Enum lists the allowed values for KindEnum fields.
	Enum []string
}

// RefRule declares a foreign-key-like reference carried by a payload field.
type RefRule struct {
	// Field is the payload field holding the referenced id (or ids for List).
	Field string
	// Target is the entity type the reference must resolve against.
	Target models.EntityType
	// List marks a field holding a set of ids rather than a single id.
	List bool
	// Required rejects an empty reference; optional references may be "".
	Required bool
}

// Descriptor is the full static description of one entity type.
type Descriptor struct {
	Type       models.EntityType
	Fields     map[string]FieldRule
	References []RefRule
}

func enumOf[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

var descriptors = map[models.EntityType]Descriptor{
	models.EntityCategory: {
		Type: models.EntityCategory,
		Fields: map[string]FieldRule{
			"name":  {Kind: KindString, Required: true, MaxLen: MaxNameLength},
			"color": {Kind: KindString},
		},
	},
	models.EntityTag: {
		Type: models.EntityTag,
		Fields: map[string]FieldRule{
			"name":  {Kind: KindString, Required: true, MaxLen: MaxNameLength},
			"color": {Kind: KindString},
		},
	},
	models.EntityWallet: {
		Type: models.EntityWallet,
		Fields: map[string]FieldRule{
			"name":    {Kind: KindString, Required: true, MaxLen: MaxNameLength},
			"type":    {Kind: KindEnum, Required: true, Enum: enumOf(models.WalletTypes)},
			"balance": {Kind: KindDecimal, Required: true},
		},
	},
	models.EntityBudget: {
		Type: models.EntityBudget,
		Fields: map[string]FieldRule{
			"categoryId": {Kind: KindString, Required: true},
			"amount":     {Kind: KindDecimal, Required: true, Positive: true},
			"period":     {Kind: KindEnum, Required: true, Enum: enumOf(models.BudgetPeriods)},
		},
		References: []RefRule{
			{Field: "categoryId", Target: models.EntityCategory, Required: true},
		},
	},
	models.EntityRecurring: {
		Type: models.EntityRecurring,
		Fields: map[string]FieldRule{
			"name":           {Kind: KindString, Required: true, MaxLen: MaxNameLength},
			"amount":         {Kind: KindDecimal, Required: true, Positive: true},
			"categoryId":     {Kind: KindString, Required: true},
			"walletId":       {Kind: KindString, Required: true},
			"frequency":      {Kind: KindEnum, Required: true, Enum: enumOf(models.Frequencies)},
			"nextOccurrence": {Kind: KindTime, Required: true},
			"isIncome":       {Kind: KindBool},
		},
		References: []RefRule{
			{Field: "categoryId", Target: models.EntityCategory, Required: true},
			{Field: "walletId", Target: models.EntityWallet, Required: true},
		},
	},
	models.EntityTransfer: {
		Type: models.EntityTransfer,
		Fields: map[string]FieldRule{
			"fromWalletId": {Kind: KindString, Required: true},
			"toWalletId":   {Kind: KindString, Required: true},
			"amount":       {Kind: KindDecimal, Required: true, Positive: true},
			"date":         {Kind: KindTime, Required: true},
			"notes":        {Kind: KindString},
			"photoId":      {Kind: KindString},
		},
		References: []RefRule{
			{Field: "fromWalletId", Target: models.EntityWallet, Required: true},
			{Field: "toWalletId", Target: models.EntityWallet, Required: true},
		},
	},
	models.EntityTransaction: {
		Type: models.EntityTransaction,
		Fields: map[string]FieldRule{
			"amount":        {Kind: KindDecimal, Required: true, Positive: true},
			"categoryId":    {Kind: KindString, Required: true},
			"walletId":      {Kind: KindString, Required: true},
			"isIncome":      {Kind: KindBool},
			"tagIds":        {Kind: KindStringList},
			"date":          {Kind: KindTime, Required: true},
			"notes":         {Kind: KindString},
			"photoId":       {Kind: KindString},
			"allowNegative": {Kind: KindBool},
		},
		References: []RefRule{
			{Field: "categoryId", Target: models.EntityCategory, Required: true},
			{Field: "walletId", Target: models.EntityWallet, Required: true},
			{Field: "tagIds", Target: models.EntityTag, List: true},
		},
	},
}

// Lookup returns the descriptor for an entity type.
func Lookup(t models.EntityType) (Descriptor, bool) {
	d, ok := descriptors[t]
	return d, ok
}

// Validate checks one record against its descriptor and returns every
// violation found. A nil slice means the record is valid.
func Validate(rec models.Record) []*common.ValidationError {
	d, ok := descriptors[rec.EntityType()]
	if !ok {
		return []*common.ValidationError{{
			EntityType: string(rec.EntityType()),
			EntityID:   rec.GetID(),
			Reason:     "no descriptor for entity type",
		}}
	}

	var errs []*common.ValidationError
	fail := func(field, reason string) {
		errs = append(errs, &common.ValidationError{
			EntityType: string(d.Type),
			EntityID:   rec.GetID(),
			Field:      field,
			Reason:     reason,
		})
	}

	if rec.GetID() == "" {
		fail("id", "missing id")
	}

	payload := rec.Payload()
	for name, rule := range d.Fields {
		v, ok := payload[name]
		if !ok || v == nil {
			if rule.Required {
				fail(name, "required field is missing")
			}
			continue
		}
		switch rule.Kind {
		case KindString, KindEnum, KindDecimal, KindTime:
			s, ok := v.(string)
			if !ok {
				fail(name, fmt.Sprintf("expected string value, got %T", v))
				continue
			}
			if s == "" {
				if rule.Required {
					fail(name, "required field is empty")
				}
				continue
			}
			switch rule.Kind {
			case KindEnum:
				if !containsString(rule.Enum, s) {
					fail(name, fmt.Sprintf("value %q not in %v", s, rule.Enum))
				}
			case KindDecimal:
				dec, err := decimal.NewFromString(s)
				if err != nil {
					fail(name, fmt.Sprintf("not a decimal: %q", s))
				} else if rule.Positive && !dec.IsPositive() {
					fail(name, fmt.Sprintf("must be > 0, got %s", s))
				}
			case KindTime:
				if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
					fail(name, fmt.Sprintf("not a timestamp: %q", s))
				}
			default:
				if rule.MaxLen > 0 && len(s) > rule.MaxLen {
					fail(name, fmt.Sprintf("longer than %d characters", rule.MaxLen))
				}
			}
		case KindBool:
			if _, ok := v.(bool); !ok {
				fail(name, fmt.Sprintf("expected bool value, got %T", v))
			}
		case KindStringList:
			if _, ok := v.([]string); !ok {
				fail(name, fmt.Sprintf("expected string list, got %T", v))
			}
		}
	}

	// Transfers must move value between two different wallets.
	if d.Type == models.EntityTransfer {
		from, _ := payload["fromWalletId"].(string)
		to, _ := payload["toWalletId"].(string)
		if from != "" && from == to {
			fail("toWalletId", "source and destination wallets must differ")
		}
	}

	return errs
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
