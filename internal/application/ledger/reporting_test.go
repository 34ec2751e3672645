package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appledger "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
)

func TestReportService_Statement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")
	first := f.sale(t, ref, "100", "20", day(1))
	cancelled := f.sale(t, ref, "500", "0", day(2))
	f.sale(t, ref, "50", "0", day(3))
	f.pay(t, ref, "60")

	_, err := f.svc.CancelTransaction(ctx, appledger.CancelTransactionCommand{TransactionID: cancelled.ID})
	require.NoError(t, err)

	t.Run("full history", func(t *testing.T) {
		st, err := f.reports.Statement(ctx, ref, nil, nil)
		require.NoError(t, err)

		assert.Equal(t, "Ana Costa", st.Name)
		require.Len(t, st.Lines, 3)
		assert.Equal(t, first.ID, st.Lines[0].TransactionID)
		assertMoney(t, "100", st.Lines[0].Debit)
		assertMoney(t, "20", st.Lines[0].Credit)
		assertMoney(t, "80", st.Lines[0].Balance)
		assertMoney(t, "130", st.Lines[1].Balance)
		assertMoney(t, "60", st.Lines[2].Credit)
		assertMoney(t, "70", st.Lines[2].Balance)

		assertMoney(t, "0", st.OpeningBalance)
		assertMoney(t, "150", st.TotalDebit)
		assertMoney(t, "80", st.TotalCredit)
		assertMoney(t, "70", st.ClosingBalance)
		assertMoney(t, "70", st.CurrentBalance)
	})

	t.Run("window folds earlier lines into the opening balance", func(t *testing.T) {
		from, to := day(2), day(10)
		st, err := f.reports.Statement(ctx, ref, &from, &to)
		require.NoError(t, err)

		require.Len(t, st.Lines, 1)
		assertMoney(t, "80", st.OpeningBalance)
		assertMoney(t, "50", st.TotalDebit)
		assertMoney(t, "130", st.ClosingBalance)
	})

	t.Run("party kind must match", func(t *testing.T) {
		_, err := f.reports.Statement(ctx, ledger.PartyRef{Kind: ledger.PartyKindSupplier, ID: ref.ID}, nil, nil)
		assert.ErrorIs(t, err, ledger.ErrPartyNotFound)
	})
}

func TestReportService_Receivables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := f.customer(t, "Ana Costa")
	rui := f.customer(t, "Rui Lopes")
	settled := f.customer(t, "Ze Silva")
	credit := f.customer(t, "Marta Reis")

	f.sale(t, ana, "100", "20", day(1))
	f.sale(t, ana, "50", "0", day(3))
	f.pay(t, ana, "60")
	f.sale(t, rui, "30", "0", day(4))
	f.sale(t, settled, "40", "40", day(2))
	f.pay(t, credit, "25")

	resp, err := f.reports.Receivables(ctx, ledger.PartyKindCustomer)
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Count)
	assertMoney(t, "100", resp.Total)
	assertMoney(t, "50", resp.Average)
	assertMoney(t, "70", resp.Highest)
	require.Len(t, resp.Items, 2)

	top := resp.Items[0]
	assert.Equal(t, ana.ID, top.ID)
	assert.Equal(t, 1, top.PendingCount)
	assert.Equal(t, 1, top.PartialCount)
	require.NotNil(t, top.OldestDebtAt)
	assert.True(t, day(1).Equal(*top.OldestDebtAt))
	assert.Equal(t, rui.ID, resp.Items[1].ID)

	suppliers, err := f.reports.Receivables(ctx, ledger.PartyKindSupplier)
	require.NoError(t, err)
	assert.Zero(t, suppliers.Count)
	assert.Empty(t, suppliers.Items)

	_, err = f.reports.Receivables(ctx, ledger.PartyKind("ANIMAL"))
	assert.Error(t, err)
}
