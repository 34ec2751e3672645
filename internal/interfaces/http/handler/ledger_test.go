package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ledgerapp "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/persistence"
	"github.com/vetclinic/backend/internal/interfaces/http/dto"
	"github.com/vetclinic/backend/internal/interfaces/http/middleware"
	"github.com/vetclinic/backend/tests/testutil"
	"go.uber.org/zap"
)

type nopAudit struct{}

func (nopAudit) RecordCreate(context.Context, string, uuid.UUID, any, shared.Actor)      {}
func (nopAudit) RecordUpdate(context.Context, string, uuid.UUID, any, any, shared.Actor) {}
func (nopAudit) RecordDelete(context.Context, string, uuid.UUID, any, shared.Actor)      {}

func newLedgerEngine(t *testing.T) *gin.Engine {
	t.Helper()
	middleware.SetupValidator()

	db := testutil.NewSQLiteDB(t, persistence.LedgerModels()...)
	transactions := persistence.NewGormTransactionRepository(db)
	parties := persistence.NewGormPartyRepository(db)
	scope := persistence.NewGormTransactionScope(db)
	logger := zap.NewNop()

	svc := ledgerapp.NewService(
		scope,
		transactions,
		parties,
		persistence.NewGormBalanceEntryRepository(db),
		persistence.NewGormAllocationRepository(db),
		ledger.NewCodeGenerator(transactions, ledger.DefaultCodeGeneratorConfig()),
		nopAudit{},
		logger,
	)
	h := NewLedgerHandler(
		svc,
		ledgerapp.NewReportService(transactions, parties),
		ledgerapp.NewReconciler(scope, parties, nopAudit{}, logger),
	)

	engine := gin.New()
	engine.Use(middleware.RequestID())
	g := engine.Group("/api/v1/ledger")
	g.POST("/transactions", h.CreateTransaction)
	g.GET("/transactions/:id", h.GetTransaction)
	g.POST("/transactions/:id/cancel", h.CancelTransaction)
	g.GET("/transactions/:id/allocations", h.ListAllocations)
	g.POST("/payments", h.CreatePayment)
	g.POST("/parties", h.RegisterParty)
	g.DELETE("/parties/:kind/:id", h.DeactivateParty)
	g.GET("/parties/:kind/:id/balance", h.GetPartyBalance)
	g.GET("/parties/:kind/:id/statement", h.GetStatement)
	g.GET("/reports/receivables", h.GetReceivables)
	g.POST("/reconciliation/run", h.RunReconciliation)
	return engine
}

func fixed(t *testing.T, data map[string]any, key string) string {
	t.Helper()
	raw, ok := data[key].(string)
	require.True(t, ok, "%s is not a decimal string: %v", key, data[key])
	return decimal.RequireFromString(raw).StringFixed(2)
}

func registerCustomer(t *testing.T, engine *gin.Engine, name string) string {
	t.Helper()
	id := uuid.NewString()
	w := testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/ledger/parties", map[string]any{
		"kind": "customer",
		"id":   id,
		"name": name,
	}, nil)
	testutil.AssertSuccess(t, w, http.StatusCreated)
	return id
}

func createSale(t *testing.T, engine *gin.Engine, customerID string, price, paid float64, date string) map[string]any {
	t.Helper()
	w := testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/ledger/transactions", map[string]any{
		"type":        "SALE",
		"customer_id": customerID,
		"items":       []map[string]any{{"description": "Dog food 10kg", "quantity": 1, "unit_price": price}},
		"paid_amount": paid,
		"date":        date,
	}, nil)
	return testutil.AssertSuccess(t, w, http.StatusCreated)
}

func TestLedgerHandler_SaleAndPaymentFlow(t *testing.T) {
	engine := newLedgerEngine(t)
	customerID := registerCustomer(t, engine, "Ana Costa")

	first := createSale(t, engine, customerID, 100, 20, "2026-03-01")
	assert.Equal(t, "PARTIAL", first["status"])
	assert.Equal(t, "100.00", fixed(t, first, "total"))
	assert.Equal(t, "20.00", fixed(t, first, "paid_amount"))
	assert.NotEmpty(t, first["code"])

	second := createSale(t, engine, customerID, 50, 0, "2026-03-02")
	assert.Equal(t, "PENDING", second["status"])

	w := testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/ledger/payments", map[string]any{
		"party_kind": "customer",
		"party_id":   customerID,
		"amount":     100,
	}, nil)
	payment := testutil.AssertSuccess(t, w, http.StatusCreated)
	assert.Equal(t, "100.00", fixed(t, payment, "total_allocated"))
	assert.Equal(t, "0.00", fixed(t, payment, "remainder"))
	assert.Equal(t, "30.00", fixed(t, payment, "balance_after"))

	allocations, ok := payment["allocations"].([]any)
	require.True(t, ok)
	require.Len(t, allocations, 2)
	oldest := allocations[0].(map[string]any)
	assert.Equal(t, first["id"], oldest["transaction_id"])
	assert.Equal(t, "80.00", fixed(t, oldest, "amount_applied"))

	w = testutil.PerformRequest(t, engine, http.MethodGet, "/api/v1/ledger/transactions/"+first["id"].(string), nil, nil)
	got := testutil.AssertSuccess(t, w, http.StatusOK)
	assert.Equal(t, "PAID", got["status"])

	w = testutil.PerformRequest(t, engine, http.MethodGet, "/api/v1/ledger/parties/customer/"+customerID+"/balance", nil, nil)
	balance := testutil.AssertSuccess(t, w, http.StatusOK)
	assert.Equal(t, "30.00", fixed(t, balance, "balance"))
	assert.Equal(t, true, balance["in_sync"])

	paymentTx := payment["payment"].(map[string]any)
	w = testutil.PerformRequest(t, engine, http.MethodGet, "/api/v1/ledger/transactions/"+paymentTx["id"].(string)+"/allocations", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	records, ok := testutil.DecodeJSON(t, w)["data"].([]any)
	require.True(t, ok)
	assert.Len(t, records, 2)
}

func TestLedgerHandler_CancelPaymentRestoresBalance(t *testing.T) {
	engine := newLedgerEngine(t)
	customerID := registerCustomer(t, engine, "Rui Lopes")
	sale := createSale(t, engine, customerID, 60, 0, "2026-03-01")

	w := testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/ledger/payments", map[string]any{
		"party_kind": "CUSTOMER",
		"party_id":   customerID,
		"amount":     60,
	}, nil)
	payment := testutil.AssertSuccess(t, w, http.StatusCreated)
	paymentID := payment["payment"].(map[string]any)["id"].(string)

	w = testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/ledger/transactions/"+paymentID+"/cancel", nil, nil)
	cancelled := testutil.AssertSuccess(t, w, http.StatusOK)
	assert.Equal(t, "CANCELLED", cancelled["status"])

	w = testutil.PerformRequest(t, engine, http.MethodGet, "/api/v1/ledger/transactions/"+sale["id"].(string), nil, nil)
	got := testutil.AssertSuccess(t, w, http.StatusOK)
	assert.Equal(t, "PENDING", got["status"])

	w = testutil.PerformRequest(t, engine, http.MethodGet, "/api/v1/ledger/parties/customer/"+customerID+"/balance", nil, nil)
	balance := testutil.AssertSuccess(t, w, http.StatusOK)
	assert.Equal(t, "60.00", fixed(t, balance, "balance"))

	w = testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/ledger/transactions/"+paymentID+"/cancel", nil, nil)
	testutil.AssertError(t, w, http.StatusUnprocessableEntity, dto.ErrCodeInvalidState)
}

func TestLedgerHandler_StatementAndReceivables(t *testing.T) {
	engine := newLedgerEngine(t)
	ana := registerCustomer(t, engine, "Ana Costa")
	registerCustomer(t, engine, "Ze Silva")
	createSale(t, engine, ana, 100, 0, "2026-03-01")
	createSale(t, engine, ana, 40, 0, "2026-03-10")

	w := testutil.PerformRequest(t, engine, http.MethodGet,
		"/api/v1/ledger/parties/customer/"+ana+"/statement?from=2026-03-01&to=2026-03-01", nil, nil)
	statement := testutil.AssertSuccess(t, w, http.StatusOK)
	lines, ok := statement["lines"].([]any)
	require.True(t, ok)
	assert.Len(t, lines, 1)
	assert.Equal(t, "100.00", fixed(t, statement, "closing_balance"))
	assert.Equal(t, "140.00", fixed(t, statement, "current_balance"))

	w = testutil.PerformRequest(t, engine, http.MethodGet,
		"/api/v1/ledger/parties/customer/"+ana+"/statement?from=March", nil, nil)
	testutil.AssertError(t, w, http.StatusBadRequest, dto.ErrCodeBadRequest)

	w = testutil.PerformRequest(t, engine, http.MethodGet, "/api/v1/ledger/reports/receivables", nil, nil)
	report := testutil.AssertSuccess(t, w, http.StatusOK)
	assert.Equal(t, "CUSTOMER", report["kind"])
	assert.Equal(t, float64(1), report["count"])
	assert.Equal(t, "140.00", fixed(t, report, "total"))

	w = testutil.PerformRequest(t, engine, http.MethodGet, "/api/v1/ledger/reports/receivables?kind=vendor", nil, nil)
	testutil.AssertError(t, w, http.StatusBadRequest, dto.ErrCodeValidation)
}

func TestLedgerHandler_Validation(t *testing.T) {
	engine := newLedgerEngine(t)
	customerID := registerCustomer(t, engine, "Marta Reis")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "missing items",
			method: http.MethodPost,
			path:   "/api/v1/ledger/transactions",
			body:   map[string]any{"type": "SALE", "customer_id": customerID},
			status: http.StatusBadRequest,
			code:   dto.ErrCodeValidation,
		},
		{
			name:   "payment type is not a debt",
			method: http.MethodPost,
			path:   "/api/v1/ledger/transactions",
			body: map[string]any{
				"type": "CUSTOMER_PAYMENT", "customer_id": customerID,
				"items": []map[string]any{{"quantity": 1, "unit_price": 10}},
			},
			status: http.StatusBadRequest,
			code:   dto.ErrCodeValidation,
		},
		{
			name:   "sale without customer",
			method: http.MethodPost,
			path:   "/api/v1/ledger/transactions",
			body: map[string]any{
				"type":  "SALE",
				"items": []map[string]any{{"quantity": 1, "unit_price": 10}},
			},
			status: http.StatusBadRequest,
			code:   dto.ErrCodeInvalidInput,
		},
		{
			name:   "unknown customer",
			method: http.MethodPost,
			path:   "/api/v1/ledger/transactions",
			body: map[string]any{
				"type": "SALE", "customer_id": uuid.NewString(),
				"items": []map[string]any{{"quantity": 1, "unit_price": 10}},
			},
			status: http.StatusUnprocessableEntity,
			code:   dto.ErrCodeRelatedNotFound,
		},
		{
			name:   "bad date",
			method: http.MethodPost,
			path:   "/api/v1/ledger/transactions",
			body: map[string]any{
				"type": "SALE", "customer_id": customerID, "date": "01/03/2026",
				"items": []map[string]any{{"quantity": 1, "unit_price": 10}},
			},
			status: http.StatusBadRequest,
			code:   dto.ErrCodeBadRequest,
		},
		{
			name:   "zero payment",
			method: http.MethodPost,
			path:   "/api/v1/ledger/payments",
			body:   map[string]any{"party_kind": "customer", "party_id": customerID, "amount": 0},
			status: http.StatusBadRequest,
			code:   dto.ErrCodeValidation,
		},
		{
			name:   "invalid transaction id",
			method: http.MethodGet,
			path:   "/api/v1/ledger/transactions/not-a-uuid",
			status: http.StatusBadRequest,
			code:   dto.ErrCodeBadRequest,
		},
		{
			name:   "unknown transaction",
			method: http.MethodGet,
			path:   "/api/v1/ledger/transactions/" + uuid.NewString(),
			status: http.StatusNotFound,
			code:   dto.ErrCodeNotFound,
		},
		{
			name:   "invalid party kind",
			method: http.MethodGet,
			path:   "/api/v1/ledger/parties/vendor/" + customerID + "/balance",
			status: http.StatusBadRequest,
			code:   dto.ErrCodeValidation,
		},
		{
			name:   "party id without kind",
			method: http.MethodPost,
			path:   "/api/v1/ledger/reconciliation/run",
			body:   map[string]any{"party_id": customerID},
			status: http.StatusBadRequest,
			code:   dto.ErrCodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutil.PerformRequest(t, engine, tt.method, tt.path, tt.body, nil)
			testutil.AssertError(t, w, tt.status, tt.code)
		})
	}
}

func TestLedgerHandler_DeactivatedPartyRejectsPayments(t *testing.T) {
	engine := newLedgerEngine(t)
	customerID := registerCustomer(t, engine, "Ze Silva")

	w := testutil.PerformRequest(t, engine, http.MethodDelete, "/api/v1/ledger/parties/customer/"+customerID, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/ledger/payments", map[string]any{
		"party_kind": "customer",
		"party_id":   customerID,
		"amount":     10,
	}, nil)
	testutil.AssertError(t, w, http.StatusUnprocessableEntity, dto.ErrCodeRelatedNotFound)
}

func TestLedgerHandler_RunReconciliation(t *testing.T) {
	engine := newLedgerEngine(t)
	customerID := registerCustomer(t, engine, "Ana Costa")
	createSale(t, engine, customerID, 75, 0, "2026-03-01")

	w := testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/ledger/reconciliation/run", map[string]any{
		"party_kind": "customer",
		"party_id":   customerID,
		"dry_run":    true,
	}, nil)
	summary := testutil.AssertSuccess(t, w, http.StatusOK)
	assert.Equal(t, true, summary["dry_run"])
	assert.Equal(t, float64(1), summary["unchanged"])
	assert.Equal(t, float64(0), summary["fixed"])

	w = testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/ledger/reconciliation/run", nil, nil)
	summary = testutil.AssertSuccess(t, w, http.StatusOK)
	assert.Equal(t, false, summary["dry_run"])
}
