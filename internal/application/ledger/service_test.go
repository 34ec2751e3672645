package ledger_test

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
	"github.com/vetclinic/backend/internal/infrastructure/persistence"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"github.com/vetclinic/backend/tests/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type auditCall struct {
	op       string
	table    string
	recordID uuid.UUID
	actor    shared.Actor
}

type recordingAudit struct {
	mu    sync.Mutex
	calls []auditCall
}

func (a *recordingAudit) record(op, table string, id uuid.UUID, actor shared.Actor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, auditCall{op: op, table: table, recordID: id, actor: actor})
}

func (a *recordingAudit) RecordCreate(_ context.Context, table string, id uuid.UUID, _ any, actor shared.Actor) {
	a.record("CREATE", table, id, actor)
}

func (a *recordingAudit) RecordUpdate(_ context.Context, table string, id uuid.UUID, _, _ any, actor shared.Actor) {
	a.record("UPDATE", table, id, actor)
}

func (a *recordingAudit) RecordDelete(_ context.Context, table string, id uuid.UUID, _ any, actor shared.Actor) {
	a.record("DELETE", table, id, actor)
}

func (a *recordingAudit) ops(id uuid.UUID) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, c := range a.calls {
		if c.recordID == id {
			out = append(out, c.op)
		}
	}
	return out
}

type fixture struct {
	db         *gorm.DB
	svc        *appledger.Service
	reconciler *appledger.Reconciler
	reports    *appledger.ReportService
	audit      *recordingAudit
	actor      shared.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t, persistence.LedgerModels()...)
	transactions := persistence.NewGormTransactionRepository(db)
	parties := persistence.NewGormPartyRepository(db)
	scope := persistence.NewGormTransactionScope(db)
	audit := &recordingAudit{}
	logger := zap.NewNop()

	userID := uuid.New()
	return &fixture{
		db: db,
		svc: appledger.NewService(
			scope,
			transactions,
			parties,
			persistence.NewGormBalanceEntryRepository(db),
			persistence.NewGormAllocationRepository(db),
			ledger.NewCodeGenerator(transactions, ledger.DefaultCodeGeneratorConfig()),
			audit,
			logger,
		),
		reconciler: appledger.NewReconciler(scope, parties, audit, logger),
		reports:    appledger.NewReportService(transactions, parties),
		audit:      audit,
		actor:      shared.Actor{UserID: &userID, Email: "reception@clinic.test"},
	}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.Equal(t, money(expected).StringFixed(2), actual.StringFixed(2))
}

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 10, 0, 0, 0, time.UTC)
}

func (f *fixture) customer(t *testing.T, name string) ledger.PartyRef {
	t.Helper()
	ref := ledger.PartyRef{Kind: ledger.PartyKindCustomer, ID: uuid.New()}
	_, err := f.svc.RegisterParty(context.Background(), appledger.RegisterPartyCommand{
		Kind: ref.Kind, ID: ref.ID, Name: name, Actor: f.actor,
	})
	require.NoError(t, err)
	return ref
}

func (f *fixture) supplier(t *testing.T, name string) ledger.PartyRef {
	t.Helper()
	ref := ledger.PartyRef{Kind: ledger.PartyKindSupplier, ID: uuid.New()}
	_, err := f.svc.RegisterParty(context.Background(), appledger.RegisterPartyCommand{
		Kind: ref.Kind, ID: ref.ID, Name: name, Actor: f.actor,
	})
	require.NoError(t, err)
	return ref
}

func (f *fixture) sale(t *testing.T, ref ledger.PartyRef, price, paid string, date time.Time) *appledger.TransactionResponse {
	t.Helper()
	id := ref.ID
	resp, err := f.svc.CreateTransaction(context.Background(), appledger.CreateTransactionCommand{
		Type:       ledger.TransactionTypeSale,
		CustomerID: &id,
		Items: []appledger.LineItemCommand{
			{Description: "consultation", Quantity: decimal.NewFromInt(1), UnitPrice: money(price)},
		},
		PaidAmount: money(paid),
		Date:       date,
		Actor:      f.actor,
	})
	require.NoError(t, err)
	return resp
}

func (f *fixture) pay(t *testing.T, ref ledger.PartyRef, amount string) *appledger.PaymentResponse {
	t.Helper()
	resp, err := f.svc.CreatePayment(context.Background(), appledger.CreatePaymentCommand{
		PartyKind: ref.Kind,
		PartyID:   ref.ID,
		Amount:    money(amount),
		Date:      day(20),
		Actor:     f.actor,
	})
	require.NoError(t, err)
	return resp
}

func (f *fixture) balance(t *testing.T, ref ledger.PartyRef) *appledger.PartyBalanceResponse {
	t.Helper()
	resp, err := f.svc.GetPartyBalance(context.Background(), ref)
	require.NoError(t, err)
	return resp
}

func TestService_CreateTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")
	id := ref.ID
	due := day(30)

	resp, err := f.svc.CreateTransaction(ctx, appledger.CreateTransactionCommand{
		Type:       ledger.TransactionTypeTreatment,
		CustomerID: &id,
		Items: []appledger.LineItemCommand{
			{Description: "vaccine", Quantity: decimal.NewFromInt(2), UnitPrice: money("40"), VATRate: money("10")},
			{Description: "checkup", Quantity: decimal.NewFromInt(1), UnitPrice: money("20")},
		},
		Discount:      money("8"),
		PaidAmount:    money("50"),
		PaymentMethod: string(ledger.PaymentMethodCash),
		Date:          day(1),
		DueDate:       &due,
		Actor:         f.actor,
	})
	require.NoError(t, err)

	assert.Regexp(t, `^TDV`, resp.Code)
	assertMoney(t, "100", resp.Subtotal)
	assertMoney(t, "8", resp.VATTotal)
	assertMoney(t, "100", resp.Total)
	assertMoney(t, "50", resp.PaidAmount)
	assert.Equal(t, string(ledger.StatusPartial), resp.Status)
	assert.Equal(t, f.actor.UserID, resp.CreatedBy)

	bal := f.balance(t, ref)
	assertMoney(t, "50", bal.Balance)
	assert.True(t, bal.InSync)
	assert.Equal(t, []string{"CREATE"}, f.audit.ops(resp.ID))

	// a partially paid debt with a due date schedules a reminder
	var outbox []models.OutboxEntryModel
	require.NoError(t, f.db.Find(&outbox).Error)
	topics := make([]string, 0, len(outbox))
	for _, e := range outbox {
		topics = append(topics, e.Topic)
	}
	assert.Contains(t, topics, appledger.TopicReminderCreate)
}

func TestService_CreateTransaction_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")
	id := ref.ID
	unknown := uuid.New()
	line := []appledger.LineItemCommand{{Quantity: decimal.NewFromInt(1), UnitPrice: money("10")}}

	tests := []struct {
		name string
		cmd  appledger.CreateTransactionCommand
		code string
	}{
		{
			name: "payment type",
			cmd:  appledger.CreateTransactionCommand{Type: ledger.TransactionTypeCustomerPayment, CustomerID: &id, Items: line},
			code: "INVALID_INPUT",
		},
		{
			name: "both parties",
			cmd:  appledger.CreateTransactionCommand{Type: ledger.TransactionTypeSale, CustomerID: &id, SupplierID: &id, Items: line},
			code: "INVALID_INPUT",
		},
		{
			name: "purchase without supplier",
			cmd:  appledger.CreateTransactionCommand{Type: ledger.TransactionTypePurchase, CustomerID: &id, Items: line},
			code: "INVALID_INPUT",
		},
		{
			name: "overpaid at creation",
			cmd:  appledger.CreateTransactionCommand{Type: ledger.TransactionTypeSale, CustomerID: &id, Items: line, PaidAmount: money("11")},
			code: "INVALID_INPUT",
		},
		{
			name: "unknown party",
			cmd:  appledger.CreateTransactionCommand{Type: ledger.TransactionTypeSale, CustomerID: &unknown, Items: line},
			code: "RELATED_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTransaction(ctx, tt.cmd)
			require.Error(t, err)
			var domainErr *shared.DomainError
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, tt.code, domainErr.Code)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&models.TransactionModel{}).Count(&count).Error)
	assert.Zero(t, count)
	assertMoney(t, "0", f.balance(t, ref).Balance)
}

func TestService_CreateTransaction_InactiveParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")
	require.NoError(t, f.svc.DeactivateParty(ctx, ref, f.actor))

	id := ref.ID
	_, err := f.svc.CreateTransaction(ctx, appledger.CreateTransactionCommand{
		Type:       ledger.TransactionTypeSale,
		CustomerID: &id,
		Items:      []appledger.LineItemCommand{{Quantity: decimal.NewFromInt(1), UnitPrice: money("10")}},
	})
	assert.ErrorIs(t, err, ledger.ErrPartyInactive)

	_, err = f.svc.CreatePayment(ctx, appledger.CreatePaymentCommand{
		PartyKind: ref.Kind, PartyID: ref.ID, Amount: money("5"),
	})
	assert.ErrorIs(t, err, ledger.ErrPartyInactive)

	bal := f.balance(t, ref)
	assert.False(t, bal.Active)
	assertMoney(t, "0", bal.Balance)
}

func TestService_CreatePayment_AllocatesOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")

	newest := f.sale(t, ref, "100", "0", day(3))
	oldest := f.sale(t, ref, "100", "0", day(1))
	middle := f.sale(t, ref, "100", "40", day(2))
	assertMoney(t, "260", f.balance(t, ref).Balance)

	resp := f.pay(t, ref, "130")

	require.Len(t, resp.Allocations, 2)
	assert.Equal(t, oldest.ID, resp.Allocations[0].TransactionID)
	assertMoney(t, "100", resp.Allocations[0].AmountApplied)
	assertMoney(t, "100", resp.Allocations[0].PaidAfter)
	assert.Equal(t, middle.ID, resp.Allocations[1].TransactionID)
	assertMoney(t, "30", resp.Allocations[1].AmountApplied)
	assertMoney(t, "70", resp.Allocations[1].PaidAfter)
	assertMoney(t, "130", resp.TotalAllocated)
	assertMoney(t, "0", resp.Remainder)
	assertMoney(t, "130", resp.BalanceAfter)
	assert.Regexp(t, `^THS`, resp.Payment.Code)
	assert.Equal(t, string(ledger.StatusPaid), resp.Payment.Status)

	got, err := f.svc.GetTransaction(ctx, oldest.ID)
	require.NoError(t, err)
	assert.Equal(t, string(ledger.StatusPaid), got.Status)

	got, err = f.svc.GetTransaction(ctx, middle.ID)
	require.NoError(t, err)
	assert.Equal(t, string(ledger.StatusPartial), got.Status)
	assertMoney(t, "70", got.PaidAmount)

	got, err = f.svc.GetTransaction(ctx, newest.ID)
	require.NoError(t, err)
	assert.Equal(t, string(ledger.StatusPending), got.Status)

	records, err := f.svc.ListAllocations(ctx, resp.Payment.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	bal := f.balance(t, ref)
	assertMoney(t, "130", bal.Balance)
	assert.True(t, bal.InSync)
	assert.Equal(t, []string{"UPDATE"}, f.audit.ops(oldest.ID)[1:])
}

func TestService_CreatePayment_Overpayment(t *testing.T) {
	f := newFixture(t)
	ref := f.customer(t, "Ana Costa")
	debt := f.sale(t, ref, "80", "0", day(1))

	resp := f.pay(t, ref, "100")

	require.Len(t, resp.Allocations, 1)
	assert.Equal(t, debt.ID, resp.Allocations[0].TransactionID)
	assertMoney(t, "80", resp.TotalAllocated)
	assertMoney(t, "20", resp.Remainder)
	assertMoney(t, "-20", resp.BalanceAfter)

	// credit is consumed by nothing until a new payment arrives
	f.sale(t, ref, "50", "0", day(5))
	assertMoney(t, "30", f.balance(t, ref).Balance)
}

func TestService_CreatePayment_Supplier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.supplier(t, "Pet Pharma")
	id := ref.ID

	purchase, err := f.svc.CreateTransaction(ctx, appledger.CreateTransactionCommand{
		Type:       ledger.TransactionTypePurchase,
		SupplierID: &id,
		Items:      []appledger.LineItemCommand{{Description: "antibiotics", Quantity: decimal.NewFromInt(10), UnitPrice: money("12.5")}},
		Date:       day(1),
	})
	require.NoError(t, err)
	assert.Regexp(t, `^ALS`, purchase.Code)

	resp := f.pay(t, ref, "125")
	assert.Regexp(t, `^ODM`, resp.Payment.Code)
	assertMoney(t, "0", resp.Remainder)
	assertMoney(t, "0", resp.BalanceAfter)
}

func TestService_CreatePayment_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")

	_, err := f.svc.CreatePayment(ctx, appledger.CreatePaymentCommand{PartyKind: ref.Kind, PartyID: ref.ID, Amount: money("0")})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.svc.CreatePayment(ctx, appledger.CreatePaymentCommand{PartyKind: ref.Kind, PartyID: ref.ID, Amount: money("-5")})
	assert.Error(t, err)

	_, err = f.svc.CreatePayment(ctx, appledger.CreatePaymentCommand{PartyKind: ref.Kind, PartyID: ref.ID, Amount: money("5"), PaymentMethod: "BARTER"})
	assert.Error(t, err)

	_, err = f.svc.CreatePayment(ctx, appledger.CreatePaymentCommand{PartyKind: ref.Kind, PartyID: uuid.New(), Amount: money("5")})
	assert.ErrorIs(t, err, ledger.ErrPartyNotFound)
}

func TestService_ConcurrentPaymentsKeepBalanceConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")
	for i := 1; i <= 5; i++ {
		f.sale(t, ref, "100", "0", day(i))
	}

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreatePayment(ctx, appledger.CreatePaymentCommand{
				PartyKind: ref.Kind,
				PartyID:   ref.ID,
				Amount:    money("30"),
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

	bal := f.balance(t, ref)
	assertMoney(t, "200", bal.Balance)
	assertMoney(t, "200", bal.LedgerBalance)
	assert.True(t, bal.InSync)

	var paid decimal.Decimal
	var debts []models.TransactionModel
	require.NoError(t, f.db.Where("type = ?", ledger.TransactionTypeSale).Find(&debts).Error)
	for _, d := range debts {
		paid = paid.Add(d.PaidAmount)
	}
	assertMoney(t, "300", paid)

	// commit order may differ from payment timestamps, so reconciliation is
	// allowed to re-pair allocations but never to move the balance
	summary, err := f.reconciler.Run(ctx, appledger.ReconcileOptions{})
	require.NoError(t, err)
	assert.Zero(t, summary.Errored)
	require.Len(t, summary.Parties, 1)
	assertMoney(t, "200", summary.Parties[0].ComputedBalance)
	assertMoney(t, "200", f.balance(t, ref).Balance)
}

func TestService_CancelDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")
	first := f.sale(t, ref, "100", "0", day(1))
	second := f.sale(t, ref, "60", "10", day(2))
	f.pay(t, ref, "120")
	assertMoney(t, "30", f.balance(t, ref).Balance)

	resp, err := f.svc.CancelTransaction(ctx, appledger.CancelTransactionCommand{TransactionID: second.ID, Actor: f.actor})
	require.NoError(t, err)
	assert.Equal(t, string(ledger.StatusCancelled), resp.Status)

	// the 50 owed on the cancelled debt leaves the balance; the 20
	// allocated to it stays with the payment as credit
	bal := f.balance(t, ref)
	assertMoney(t, "-20", bal.Balance)
	assert.True(t, bal.InSync)

	records, err := f.svc.ListAllocations(ctx, second.ID)
	require.NoError(t, err)
	net := decimal.Zero
	for _, r := range records {
		net = net.Add(r.Amount)
	}
	assertMoney(t, "0", net)

	got, err := f.svc.GetTransaction(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, string(ledger.StatusPaid), got.Status)
	assert.Contains(t, f.audit.ops(second.ID), "DELETE")
}

func TestService_CancelPayment_ReleasesDebts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")
	first := f.sale(t, ref, "100", "0", day(1))
	second := f.sale(t, ref, "100", "25", day(2))
	payment := f.pay(t, ref, "150")

	_, err := f.svc.CancelTransaction(ctx, appledger.CancelTransactionCommand{TransactionID: payment.Payment.ID, Actor: f.actor})
	require.NoError(t, err)

	got, err := f.svc.GetTransaction(ctx, first.ID)
	require.NoError(t, err)
	assertMoney(t, "0", got.PaidAmount)
	assert.Equal(t, string(ledger.StatusPending), got.Status)

	// the amount paid at the counter is never released
	got, err = f.svc.GetTransaction(ctx, second.ID)
	require.NoError(t, err)
	assertMoney(t, "25", got.PaidAmount)
	assert.Equal(t, string(ledger.StatusPartial), got.Status)

	bal := f.balance(t, ref)
	assertMoney(t, "175", bal.Balance)
	assert.True(t, bal.InSync)
	assert.Contains(t, f.audit.ops(first.ID), "UPDATE")
}

func TestService_CancelTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")
	debt := f.sale(t, ref, "100", "0", day(1))

	_, err := f.svc.CancelTransaction(ctx, appledger.CancelTransactionCommand{TransactionID: debt.ID})
	require.NoError(t, err)

	_, err = f.svc.CancelTransaction(ctx, appledger.CancelTransactionCommand{TransactionID: debt.ID})
	require.ErrorIs(t, err, ledger.ErrAlreadyCancelled)
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_STATE", domainErr.Code)

	assertMoney(t, "0", f.balance(t, ref).Balance)

	_, err = f.svc.CancelTransaction(ctx, appledger.CancelTransactionCommand{TransactionID: uuid.New()})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestService_CancelledDebtIsSkippedByAllocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")
	cancelled := f.sale(t, ref, "100", "0", day(1))
	open := f.sale(t, ref, "40", "0", day(2))

	_, err := f.svc.CancelTransaction(ctx, appledger.CancelTransactionCommand{TransactionID: cancelled.ID})
	require.NoError(t, err)

	resp := f.pay(t, ref, "40")
	require.Len(t, resp.Allocations, 1)
	assert.Equal(t, open.ID, resp.Allocations[0].TransactionID)
	assertMoney(t, "0", resp.BalanceAfter)
}

func TestService_RegisterParty_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.customer(t, "Ana Costa")
	f.sale(t, ref, "100", "0", day(1))
	require.NoError(t, f.svc.DeactivateParty(ctx, ref, f.actor))

	resp, err := f.svc.RegisterParty(ctx, appledger.RegisterPartyCommand{Kind: ref.Kind, ID: ref.ID, Name: "Ana C. Costa"})
	require.NoError(t, err)
	assert.Equal(t, "Ana C. Costa", resp.Name)
	assert.True(t, resp.Active)
	assertMoney(t, "100", resp.Balance)

	_, err = f.svc.RegisterParty(ctx, appledger.RegisterPartyCommand{Kind: ref.Kind, ID: uuid.New(), Name: "  "})
	assert.Error(t, err)
}

func TestService_CodesAreUnique(t *testing.T) {
	f := newFixture(t)
	ref := f.customer(t, "Ana Costa")

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		resp := f.sale(t, ref, "1", "0", day(1))
		assert.False(t, seen[resp.Code], "duplicate code %s", resp.Code)
		seen[resp.Code] = true
	}
}
