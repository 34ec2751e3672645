package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vetclinic/backend/internal/domain/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newSale(t *testing.T, customerID uuid.UUID, total string, date time.Time) *Transaction {
	t.Helper()
	tx, err := NewDebtTransaction(DebtInput{
		Type:    TransactionTypeSale,
		PartyID: customerID,
		Items: []LineItemInput{
			{Quantity: decimal.NewFromInt(1), UnitPrice: dec(total), VATRate: decimal.Zero},
		},
		Date: date,
	})
	require.NoError(t, err)
	tx.AssignCode("STS-" + date.Format("20060102150405"))
	return tx
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		paid     string
		total    string
		expected Status
	}{
		{"nothing paid", "0", "100", StatusPending},
		{"partly paid", "0.01", "100", StatusPartial},
		{"exactly paid", "100", "100", StatusPaid},
		{"overpaid", "100.01", "100", StatusPaid},
		{"zero total", "0", "0", StatusPaid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DeriveStatus(dec(tc.paid), dec(tc.total)))
		})
	}
}

func TestTransactionType_Properties(t *testing.T) {
	tests := []struct {
		typ       TransactionType
		debt      bool
		payment   bool
		party     PartyKind
		prefix    string
		direction int
	}{
		{TransactionTypeSale, true, false, PartyKindCustomer, "STS", -1},
		{TransactionTypeTreatment, true, false, PartyKindCustomer, "TDV", -1},
		{TransactionTypePurchase, true, false, PartyKindSupplier, "ALS", 1},
		{TransactionTypeCustomerPayment, false, true, PartyKindCustomer, "THS", 0},
		{TransactionTypeSupplierPayment, false, true, PartyKindSupplier, "ODM", 0},
	}

	for _, tc := range tests {
		t.Run(string(tc.typ), func(t *testing.T) {
			assert.True(t, tc.typ.IsValid())
			assert.Equal(t, tc.debt, tc.typ.IsDebt())
			assert.Equal(t, tc.payment, tc.typ.IsPayment())
			assert.Equal(t, tc.party, tc.typ.PartyKind())
			assert.Equal(t, tc.prefix, tc.typ.CodePrefix())
			assert.Equal(t, tc.direction, tc.typ.StockDirection())
		})
	}
	assert.False(t, TransactionType("REFUND").IsValid())
}

func TestNewDebtTransaction_LineMath(t *testing.T) {
	productID := uuid.New()
	customerID := uuid.New()

	tx, err := NewDebtTransaction(DebtInput{
		Type:    TransactionTypeSale,
		PartyID: customerID,
		Items: []LineItemInput{
			{ProductID: &productID, Quantity: dec("2"), UnitPrice: dec("50"), VATRate: dec("20"), Discount: dec("10")},
			{Description: "consultation", Quantity: dec("1"), UnitPrice: dec("30"), VATRate: dec("10")},
		},
		Discount:   dec("5"),
		PaidAmount: dec("40"),
	})
	require.NoError(t, err)

	// line 1: net 90, vat 18, total 108; line 2: net 30, vat 3, total 33
	assert.True(t, dec("120").Equal(tx.Subtotal), tx.Subtotal.String())
	assert.True(t, dec("21").Equal(tx.VATTotal), tx.VATTotal.String())
	assert.True(t, dec("136").Equal(tx.Total), tx.Total.String())
	assert.True(t, dec("108").Equal(tx.Items[0].LineTotal))
	assert.True(t, dec("33").Equal(tx.Items[1].LineTotal))
	assert.True(t, dec("40").Equal(tx.PaidAmount))
	assert.True(t, dec("40").Equal(tx.PaidOnCreation))
	assert.Equal(t, StatusPartial, tx.Status)
	assert.Equal(t, PaymentMethodCash, tx.PaymentMethod)
	assert.Equal(t, PartyRef{Kind: PartyKindCustomer, ID: customerID}, tx.Party())
	assert.Nil(t, tx.SupplierID)
	assert.True(t, dec("96").Equal(tx.BalanceImpact()))
	require.NoError(t, tx.CheckInvariants())
}

func TestNewDebtTransaction_Purchase(t *testing.T) {
	supplierID := uuid.New()
	tx, err := NewDebtTransaction(DebtInput{
		Type:          TransactionTypePurchase,
		PartyID:       supplierID,
		Items:         []LineItemInput{{Quantity: dec("3"), UnitPrice: dec("10")}},
		PaymentMethod: "bank_transfer",
	})
	require.NoError(t, err)

	assert.Equal(t, PartyRef{Kind: PartyKindSupplier, ID: supplierID}, tx.Party())
	assert.Nil(t, tx.CustomerID)
	assert.Equal(t, PaymentMethodBankTransfer, tx.PaymentMethod)
	assert.Equal(t, StatusPending, tx.Status)
}

func TestNewDebtTransaction_Validation(t *testing.T) {
	base := func() DebtInput {
		return DebtInput{
			Type:    TransactionTypeSale,
			PartyID: uuid.New(),
			Items:   []LineItemInput{{Quantity: dec("1"), UnitPrice: dec("10")}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*DebtInput)
		code   string
	}{
		{"payment type", func(in *DebtInput) { in.Type = TransactionTypeCustomerPayment }, "INVALID_INPUT"},
		{"missing party", func(in *DebtInput) { in.PartyID = uuid.Nil }, "INVALID_INPUT"},
		{"no items", func(in *DebtInput) { in.Items = nil }, "INVALID_INPUT"},
		{"zero quantity", func(in *DebtInput) { in.Items[0].Quantity = decimal.Zero }, "INVALID_INPUT"},
		{"negative price", func(in *DebtInput) { in.Items[0].UnitPrice = dec("-1") }, "INVALID_INPUT"},
		{"vat above 100", func(in *DebtInput) { in.Items[0].VATRate = dec("101") }, "INVALID_INPUT"},
		{"line discount too big", func(in *DebtInput) { in.Items[0].Discount = dec("11") }, "INVALID_INPUT"},
		{"negative discount", func(in *DebtInput) { in.Discount = dec("-1") }, "INVALID_INPUT"},
		{"discount above total", func(in *DebtInput) { in.Discount = dec("11") }, "INVALID_INPUT"},
		{"negative paid", func(in *DebtInput) { in.PaidAmount = dec("-1") }, "INVALID_INPUT"},
		{"paid above total", func(in *DebtInput) { in.PaidAmount = dec("10.01") }, "INVALID_INPUT"},
		{"unknown method", func(in *DebtInput) { in.PaymentMethod = "BITCOIN" }, "INVALID_INPUT"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := base()
			tc.mutate(&in)
			_, err := NewDebtTransaction(in)
			require.Error(t, err)
			assert.Equal(t, tc.code, shared.Code(err))
		})
	}
}

func TestNewPaymentTransaction(t *testing.T) {
	partyID := uuid.New()

	t.Run("customer payment", func(t *testing.T) {
		tx, err := NewPaymentTransaction(PaymentInput{PartyKind: PartyKindCustomer, PartyID: partyID, Amount: dec("120.005")})
		require.NoError(t, err)
		assert.Equal(t, TransactionTypeCustomerPayment, tx.Type)
		assert.True(t, dec("120.01").Equal(tx.Total))
		assert.Equal(t, StatusPaid, tx.Status)
		assert.True(t, dec("-120.01").Equal(tx.BalanceImpact()))
	})

	t.Run("supplier payment", func(t *testing.T) {
		tx, err := NewPaymentTransaction(PaymentInput{PartyKind: PartyKindSupplier, PartyID: partyID, Amount: dec("10")})
		require.NoError(t, err)
		assert.Equal(t, TransactionTypeSupplierPayment, tx.Type)
		require.NotNil(t, tx.SupplierID)
	})

	t.Run("rejects non positive amounts", func(t *testing.T) {
		for _, amount := range []string{"0", "-5", "0.004"} {
			_, err := NewPaymentTransaction(PaymentInput{PartyKind: PartyKindCustomer, PartyID: partyID, Amount: dec(amount)})
			assert.ErrorIs(t, err, ErrInvalidAmount, amount)
		}
	})

	t.Run("rejects missing party", func(t *testing.T) {
		_, err := NewPaymentTransaction(PaymentInput{PartyKind: PartyKindCustomer, Amount: dec("1")})
		assert.ErrorIs(t, err, ErrPartyRequired)
	})
}

func TestTransaction_ApplyPaymentClamps(t *testing.T) {
	sale := newSale(t, uuid.New(), "80", time.Now())

	applied := sale.ApplyPayment(dec("50"))
	assert.True(t, dec("50").Equal(applied))
	assert.Equal(t, StatusPartial, sale.Status)

	applied = sale.ApplyPayment(dec("50"))
	assert.True(t, dec("30").Equal(applied))
	assert.True(t, dec("80").Equal(sale.PaidAmount))
	assert.Equal(t, StatusPaid, sale.Status)

	applied = sale.ApplyPayment(dec("50"))
	assert.True(t, applied.IsZero())
	assert.True(t, dec("80").Equal(sale.PaidAmount))
	require.NoError(t, sale.CheckInvariants())
}

func TestTransaction_ReleaseAndCancel(t *testing.T) {
	sale := newSale(t, uuid.New(), "100", time.Now())
	sale.ApplyPayment(dec("60"))

	sale.ReleasePayment(dec("100"))
	assert.True(t, sale.PaidAmount.IsZero())
	assert.Equal(t, StatusPending, sale.Status)

	sale.ApplyPayment(dec("25"))
	require.NoError(t, sale.Cancel())
	assert.True(t, sale.PaidAmount.IsZero(), "allocated part is released on cancel")
	assert.Equal(t, StatusCancelled, sale.Status)
	assert.ErrorIs(t, sale.Cancel(), ErrAlreadyCancelled)
	assert.True(t, sale.ApplyPayment(dec("10")).IsZero())
}

func TestTransaction_Settle(t *testing.T) {
	sale := newSale(t, uuid.New(), "100", time.Now())
	version := sale.Version

	assert.False(t, sale.Settle(decimal.Zero))
	assert.Equal(t, version, sale.Version)

	assert.True(t, sale.Settle(dec("150")))
	assert.True(t, dec("100").Equal(sale.PaidAmount))
	assert.Equal(t, StatusPaid, sale.Status)
	assert.Equal(t, version+1, sale.Version)
}
