//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appledger "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/audit"
	"github.com/vetclinic/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

type ledgerFixture struct {
	db         *TestDB
	svc        *appledger.Service
	reconciler *appledger.Reconciler
	actor      shared.Actor
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	testDB := NewTestDB(t)
	db := testDB.DB
	log := zap.NewNop()

	recorder := audit.NewAsyncRecorder(audit.NewGormSink(db), audit.DefaultConfig(), log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = recorder.Close(ctx)
	})

	transactions := persistence.NewGormTransactionRepository(db)
	parties := persistence.NewGormPartyRepository(db)
	scope := persistence.NewGormTransactionScope(db)
	codes := ledger.NewCodeGenerator(transactions, ledger.CodeGeneratorConfig{
		MaxAttempts:     10,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
	})

	return &ledgerFixture{
		db: testDB,
		svc: appledger.NewService(scope, transactions, parties,
			persistence.NewGormBalanceEntryRepository(db),
			persistence.NewGormAllocationRepository(db),
			codes, recorder, log),
		reconciler: appledger.NewReconciler(scope, parties, recorder, log),
		actor:      shared.SystemActor("integration"),
	}
}

func (f *ledgerFixture) customer(t *testing.T) ledger.PartyRef {
	t.Helper()
	ref := ledger.PartyRef{Kind: ledger.PartyKindCustomer, ID: uuid.New()}
	_, err := f.svc.RegisterParty(context.Background(), appledger.RegisterPartyCommand{
		Kind: ref.Kind, ID: ref.ID, Name: "Rex's owner", Actor: f.actor,
	})
	require.NoError(t, err)
	return ref
}

func (f *ledgerFixture) sale(ctx context.Context, ref ledger.PartyRef, amount string, date time.Time) (*appledger.TransactionResponse, error) {
	id := ref.ID
	return f.svc.CreateTransaction(ctx, appledger.CreateTransactionCommand{
		Type:       ledger.TransactionTypeSale,
		CustomerID: &id,
		Items: []appledger.LineItemCommand{{
			Description: "vaccination",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString(amount),
		}},
		Date:  date,
		Actor: f.actor,
	})
}

func TestLedger_ConcurrentPaymentsKeepBalanceConsistent(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	ref := f.customer(t)

	base := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	var saleIDs []uuid.UUID
	for i := 0; i < 5; i++ {
		resp, err := f.sale(ctx, ref, "40", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		saleIDs = append(saleIDs, resp.ID)
	}

	const payers = 10
	var wg sync.WaitGroup
	errs := make(chan error, payers)
	for i := 0; i < payers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreatePayment(ctx, appledger.CreatePaymentCommand{
				PartyKind: ledger.PartyKindCustomer,
				PartyID:   ref.ID,
				Amount:    decimal.NewFromInt(20),
				Actor:     f.actor,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	balance, err := f.svc.GetPartyBalance(ctx, ref)
	require.NoError(t, err)
	assert.True(t, balance.Balance.IsZero(), "balance %s", balance.Balance)
	assert.True(t, balance.InSync)

	for _, id := range saleIDs {
		tx, err := f.svc.GetTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, string(ledger.StatusPaid), tx.Status)
		assert.Equal(t, "40.00", tx.PaidAmount.StringFixed(2))

		records, err := f.svc.ListAllocations(ctx, id)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, r := range records {
			sum = sum.Add(r.Amount)
		}
		assert.Equal(t, "40.00", sum.StringFixed(2))
	}

	summary, err := f.reconciler.Run(ctx, appledger.ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fixed)
	assert.Equal(t, 0, summary.Errored)
}

func TestLedger_ContendedOverpaymentNeverOverpaysDebt(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	ref := f.customer(t)

	sale, err := f.sale(ctx, ref, "80", time.Date(2024, time.May, 6, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	const payers = 2
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		resps = make(chan *appledger.PaymentResponse, payers)
		errs  = make(chan error, payers)
	)
	for i := 0; i < payers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := f.svc.CreatePayment(ctx, appledger.CreatePaymentCommand{
				PartyKind: ledger.PartyKindCustomer,
				PartyID:   ref.ID,
				Amount:    decimal.NewFromInt(50),
				Actor:     f.actor,
			})
			errs <- err
			if err == nil {
				resps <- resp
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	close(resps)
	for err := range errs {
		require.NoError(t, err)
	}

	allocated, remainder := decimal.Zero, decimal.Zero
	for resp := range resps {
		allocated = allocated.Add(resp.TotalAllocated)
		remainder = remainder.Add(resp.Remainder)
	}
	assert.Equal(t, "80.00", allocated.StringFixed(2))
	assert.Equal(t, "20.00", remainder.StringFixed(2))

	tx, err := f.svc.GetTransaction(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "80.00", tx.PaidAmount.StringFixed(2))
	assert.Equal(t, string(ledger.StatusPaid), tx.Status)

	records, err := f.svc.ListAllocations(ctx, sale.ID)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Amount)
	}
	assert.Equal(t, "80.00", sum.StringFixed(2))

	balance, err := f.svc.GetPartyBalance(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "-20.00", balance.Balance.StringFixed(2))
	assert.True(t, balance.InSync)

	summary, err := f.reconciler.Run(ctx, appledger.ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, summary.Fixed)
	assert.Zero(t, summary.Errored)
}

func TestLedger_ConcurrentSalesGetUniqueCodes(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	ref := f.customer(t)

	const sales = 20
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]struct{}, sales)
	)
	date := time.Date(2024, time.June, 3, 10, 0, 0, 0, time.UTC)
	for i := 0; i < sales; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.sale(ctx, ref, "15", date)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			codes[resp.Code] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, codes, sales)
	balance, err := f.svc.GetPartyBalance(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "300.00", balance.Balance.StringFixed(2))
	assert.True(t, balance.InSync)
}

func TestLedger_ReconciliationRepairsDrift(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	ref := f.customer(t)

	_, err := f.sale(ctx, ref, "120", time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, f.db.DB.Exec(
		"UPDATE parties SET balance = 999 WHERE kind = ? AND id = ?", string(ref.Kind), ref.ID).Error)

	summary, err := f.reconciler.Run(ctx, appledger.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fixed)

	balance, err := f.svc.GetPartyBalance(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "120.00", balance.Balance.StringFixed(2))
}
