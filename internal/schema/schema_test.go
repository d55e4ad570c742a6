package schema

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
)

func validWallet() *models.Wallet {
	w := &models.Wallet{Name: "Cash", Type: models.WalletCash, Balance: decimal.NewFromInt(100)}
	w.ID = "w-1"
	w.Touch(time.Now())
	return w
}

func validTransaction() *models.Transaction {
	x := &models.Transaction{
		Amount:     decimal.NewFromInt(25),
		CategoryID: "cat-1",
		WalletID:   "w-1",
		Date:       time.Now(),
	}
	x.ID = "x-1"
	x.Touch(time.Now())
	return x
}

func TestLookupCoversEveryEntityType(t *testing.T) {
	for _, et := range models.SyncOrder {
		_, ok := Lookup(et)
		assert.True(t, ok, "no descriptor for %s", et)
	}
	_, ok := Lookup(models.EntityType("bogus"))
	assert.False(t, ok)
}

func TestValidateWallet(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.Empty(t, Validate(validWallet()))
	})

	t.Run("missing id", func(t *testing.T) {
		w := validWallet()
		w.ID = ""
		errs := Validate(w)
		require.Len(t, errs, 1)
		assert.Equal(t, "id", errs[0].Field)
	})

	t.Run("missing name", func(t *testing.T) {
		w := validWallet()
		w.Name = ""
		errs := Validate(w)
		require.Len(t, errs, 1)
		assert.Equal(t, "name", errs[0].Field)
	})

	t.Run("name too long", func(t *testing.T) {
		w := validWallet()
		w.Name = strings.Repeat("x", MaxNameLength+1)
		errs := Validate(w)
		require.Len(t, errs, 1)
		assert.Equal(t, "name", errs[0].Field)
	})

	t.Run("unknown wallet type", func(t *testing.T) {
		w := validWallet()
		w.Type = "sock_drawer"
		errs := Validate(w)
		require.Len(t, errs, 1)
		assert.Equal(t, "type", errs[0].Field)
	})
}

func TestValidateTransaction(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.Empty(t, Validate(validTransaction()))
	})

	t.Run("zero amount", func(t *testing.T) {
		x := validTransaction()
		x.Amount = decimal.Zero
		errs := Validate(x)
		require.Len(t, errs, 1)
		assert.Equal(t, "amount", errs[0].Field)
	})

	t.Run("negative amount", func(t *testing.T) {
		x := validTransaction()
		x.Amount = decimal.NewFromInt(-5)
		errs := Validate(x)
		require.Len(t, errs, 1)
		assert.Equal(t, "amount", errs[0].Field)
	})

	t.Run("missing references", func(t *testing.T) {
		x := validTransaction()
		x.CategoryID = ""
		x.WalletID = ""
		errs := Validate(x)
		assert.Len(t, errs, 2)
	})
}

func TestValidateTransfer(t *testing.T) {
	tr := &models.Transfer{
		FromWalletID: "w-1",
		ToWalletID:   "w-2",
		Amount:       decimal.NewFromInt(10),
		Date:         time.Now(),
	}
	tr.ID = "tr-1"

	assert.Empty(t, Validate(tr))

	tr.ToWalletID = "w-1"
	errs := Validate(tr)
	require.Len(t, errs, 1)
	assert.Equal(t, "toWalletId", errs[0].Field)
	assert.Contains(t, errs[0].Reason, "must differ")
}

func TestValidateBudget(t *testing.T) {
	b := &models.Budget{CategoryID: "cat-1", Amount: decimal.NewFromInt(500), Period: models.BudgetMonthly}
	b.ID = "b-1"

	assert.Empty(t, Validate(b))

	b.Period = "fortnightly"
	errs := Validate(b)
	require.Len(t, errs, 1)
	assert.Equal(t, "period", errs[0].Field)
}

func TestValidateRecurringRule(t *testing.T) {
	r := &models.RecurringRule{
		Name:           "Rent",
		Amount:         decimal.NewFromInt(900),
		CategoryID:     "cat-1",
		WalletID:       "w-1",
		Frequency:      models.FrequencyMonthly,
		NextOccurrence: time.Now(),
	}
	r.ID = "r-1"

	assert.Empty(t, Validate(r))

	r.Frequency = "hourly"
	r.Amount = decimal.Zero
	errs := Validate(r)
	assert.Len(t, errs, 2)
}
