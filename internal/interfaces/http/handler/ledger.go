package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	ledgerapp "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/interfaces/http/middleware"
)

// LedgerHandler handles transaction, payment, balance and reconciliation endpoints
type LedgerHandler struct {
	BaseHandler
	service    *ledgerapp.Service
	reports    *ledgerapp.ReportService
	reconciler *ledgerapp.Reconciler
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(service *ledgerapp.Service, reports *ledgerapp.ReportService, reconciler *ledgerapp.Reconciler) *LedgerHandler {
	return &LedgerHandler{
		service:    service,
		reports:    reports,
		reconciler: reconciler,
	}
}

// CreateTransaction godoc
// @ID           createLedgerTransaction
// @Summary      Create a debt transaction
// @Description  Books a sale, purchase or treatment, raises the party balance by the unpaid part and queues stock and reminder side effects
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key header string false "Replays the first response for repeated submissions"
// @Param        request body CreateTransactionRequest true "Transaction"
// @Success      201 {object} dto.Response{data=ledgerapp.TransactionResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/transactions [post]
func (h *LedgerHandler) CreateTransaction(c *gin.Context) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	cmd, err := req.toCommand(middleware.ActorFromContext(c))
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	tx, err := h.service.CreateTransaction(c.Request.Context(), cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, tx)
}

// CreatePayment godoc
// @ID           createLedgerPayment
// @Summary      Create a payment
// @Description  Books a customer or supplier payment and allocates it to the oldest outstanding debts first
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key header string false "Replays the first response for repeated submissions"
// @Param        request body CreatePaymentRequest true "Payment"
// @Success      201 {object} dto.Response{data=ledgerapp.PaymentResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/payments [post]
func (h *LedgerHandler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	cmd, err := req.toCommand(middleware.ActorFromContext(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	payment, err := h.service.CreatePayment(c.Request.Context(), cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, payment)
}

// CancelTransaction godoc
// @ID           cancelLedgerTransaction
// @Summary      Cancel a transaction
// @Description  Voids a transaction. A debt gives back its unpaid part, a payment releases its allocations.
// @Tags         ledger
// @Produce      json
// @Param        id path string true "Transaction ID" format(uuid)
// @Success      200 {object} dto.Response{data=ledgerapp.TransactionResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/transactions/{id}/cancel [post]
func (h *LedgerHandler) CancelTransaction(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid transaction ID format")
		return
	}

	tx, err := h.service.CancelTransaction(c.Request.Context(), ledgerapp.CancelTransactionCommand{
		TransactionID: id,
		Actor:         middleware.ActorFromContext(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, tx)
}

// GetTransaction godoc
// @ID           getLedgerTransaction
// @Summary      Get a transaction
// @Tags         ledger
// @Produce      json
// @Param        id path string true "Transaction ID" format(uuid)
// @Success      200 {object} dto.Response{data=ledgerapp.TransactionResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/transactions/{id} [get]
func (h *LedgerHandler) GetTransaction(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid transaction ID format")
		return
	}

	tx, err := h.service.GetTransaction(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, tx)
}

// ListAllocations godoc
// @ID           listLedgerAllocations
// @Summary      List allocation records of a transaction
// @Description  Returns the allocation records a payment created or a debt received, reversals included
// @Tags         ledger
// @Produce      json
// @Param        id path string true "Transaction ID" format(uuid)
// @Success      200 {object} dto.Response{data=[]ledgerapp.AllocationRecordResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/transactions/{id}/allocations [get]
func (h *LedgerHandler) ListAllocations(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid transaction ID format")
		return
	}

	records, err := h.service.ListAllocations(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, records)
}

// RegisterParty godoc
// @ID           registerLedgerParty
// @Summary      Register a party
// @Description  Makes a customer or supplier known to the ledger with a zero balance
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Param        request body RegisterPartyRequest true "Party"
// @Success      201 {object} dto.Response{data=ledgerapp.PartyBalanceResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/parties [post]
func (h *LedgerHandler) RegisterParty(c *gin.Context) {
	var req RegisterPartyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	kind, err := ledger.ParsePartyKind(req.Kind)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	party, err := h.service.RegisterParty(c.Request.Context(), ledgerapp.RegisterPartyCommand{
		Kind:  kind,
		ID:    uuid.MustParse(req.ID),
		Name:  req.Name,
		Actor: middleware.ActorFromContext(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, party)
}

// DeactivateParty godoc
// @ID           deactivateLedgerParty
// @Summary      Deactivate a party
// @Description  Blocks new transactions and payments for the party. History and balance stay.
// @Tags         ledger
// @Param        kind path string true "Party kind" Enums(customer, supplier)
// @Param        id path string true "Party ID" format(uuid)
// @Success      204
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/parties/{kind}/{id} [delete]
func (h *LedgerHandler) DeactivateParty(c *gin.Context) {
	ref, err := parsePartyRef(c)
	if err != nil {
		h.BindError(c, err)
		return
	}

	if err := h.service.DeactivateParty(c.Request.Context(), ref, middleware.ActorFromContext(c)); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

// GetPartyBalance godoc
// @ID           getLedgerPartyBalance
// @Summary      Get a party balance
// @Description  Returns the cached balance next to the balance recomputed from the entry stream
// @Tags         ledger
// @Produce      json
// @Param        kind path string true "Party kind" Enums(customer, supplier)
// @Param        id path string true "Party ID" format(uuid)
// @Success      200 {object} dto.Response{data=ledgerapp.PartyBalanceResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/parties/{kind}/{id}/balance [get]
func (h *LedgerHandler) GetPartyBalance(c *gin.Context) {
	ref, err := parsePartyRef(c)
	if err != nil {
		h.BindError(c, err)
		return
	}

	balance, err := h.service.GetPartyBalance(c.Request.Context(), ref)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, balance)
}

// GetStatement godoc
// @ID           getLedgerPartyStatement
// @Summary      Get a party statement
// @Description  Lists the party's transactions in date order with a running balance
// @Tags         ledger
// @Produce      json
// @Param        kind path string true "Party kind" Enums(customer, supplier)
// @Param        id path string true "Party ID" format(uuid)
// @Param        from query string false "Start date (YYYY-MM-DD)"
// @Param        to query string false "End date (YYYY-MM-DD), inclusive"
// @Success      200 {object} dto.Response{data=ledgerapp.StatementResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/parties/{kind}/{id}/statement [get]
func (h *LedgerHandler) GetStatement(c *gin.Context) {
	ref, err := parsePartyRef(c)
	if err != nil {
		h.BindError(c, err)
		return
	}
	var query StatementQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindError(c, err)
		return
	}
	from, err := parseDate(query.From)
	if err != nil {
		h.BadRequest(c, "from: "+err.Error())
		return
	}
	to, err := parseDate(query.To)
	if err != nil {
		h.BadRequest(c, "to: "+err.Error())
		return
	}

	statement, err := h.reports.Statement(c.Request.Context(), ref, from, endOfDay(to, query.To))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, statement)
}

// GetReceivables godoc
// @ID           getLedgerReceivables
// @Summary      Get the receivables report
// @Description  Lists customers who owe the clinic, or suppliers the clinic owes, with totals
// @Tags         ledger
// @Produce      json
// @Param        kind query string false "Party kind" Enums(customer, supplier) default(customer)
// @Success      200 {object} dto.Response{data=ledgerapp.ReceivablesResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/reports/receivables [get]
func (h *LedgerHandler) GetReceivables(c *gin.Context) {
	var query ReceivablesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindError(c, err)
		return
	}
	kind := ledger.PartyKindCustomer
	if query.Kind != "" {
		parsed, err := ledger.ParsePartyKind(query.Kind)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		kind = parsed
	}

	report, err := h.reports.Receivables(c.Request.Context(), kind)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, report)
}

// RunReconciliation godoc
// @ID           runLedgerReconciliation
// @Summary      Run reconciliation
// @Description  Recomputes balances and paid amounts from the transaction history and corrects drift. A dry run only reports.
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Param        request body ReconcileRequest false "Scope of the run"
// @Success      200 {object} dto.Response{data=ledgerapp.ReconcileSummary}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /ledger/reconciliation/run [post]
func (h *LedgerHandler) RunReconciliation(c *gin.Context) {
	var req ReconcileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BindError(c, err)
			return
		}
	}
	opts, err := req.toOptions()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	summary, err := h.reconciler.Run(c.Request.Context(), opts)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, summary)
}
