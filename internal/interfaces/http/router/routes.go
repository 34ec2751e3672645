package router

import (
	"net/http"

	"github.com/vetclinic/backend/internal/interfaces/http/handler"
)

// LedgerRoutes builds the /ledger route group
func LedgerRoutes(h *handler.LedgerHandler) *DomainGroup {
	g := NewDomainGroup("ledger", "/ledger")

	g.Group("transactions", "/transactions").
		Handle(http.MethodPost, "", "Create a sale, purchase or treatment", h.CreateTransaction).
		Handle(http.MethodGet, "/:id", "Get a transaction", h.GetTransaction).
		Handle(http.MethodPost, "/:id/cancel", "Cancel a transaction", h.CancelTransaction).
		Handle(http.MethodGet, "/:id/allocations", "List allocation records of a transaction", h.ListAllocations)

	g.Handle(http.MethodPost, "/payments", "Create a payment and allocate it FIFO", h.CreatePayment)

	g.Group("parties", "/parties").
		Handle(http.MethodPost, "", "Register a party", h.RegisterParty).
		Handle(http.MethodDelete, "/:kind/:id", "Deactivate a party", h.DeactivateParty).
		Handle(http.MethodGet, "/:kind/:id/balance", "Get a party balance", h.GetPartyBalance).
		Handle(http.MethodGet, "/:kind/:id/statement", "Get a party statement", h.GetStatement)

	g.Handle(http.MethodGet, "/reports/receivables", "Receivables report", h.GetReceivables)
	g.Handle(http.MethodPost, "/reconciliation/run", "Run balance reconciliation", h.RunReconciliation)
	return g
}

// SystemRoutes builds the /system route group. The outbox admin endpoints
// are left out when outbox is nil.
func SystemRoutes(h *handler.SystemHandler, outbox *handler.OutboxHandler) *DomainGroup {
	g := NewDomainGroup("system", "/system").
		Handle(http.MethodGet, "/info", "Service information", h.GetSystemInfo).
		Handle(http.MethodGet, "/ping", "Liveness ping", h.Ping)

	if outbox != nil {
		g.Group("outbox", "/outbox").
			Handle(http.MethodGet, "/dead", "List dead letter side effects", outbox.GetDeadLetterEntries).
			Handle(http.MethodPost, "/dead/retry-all", "Requeue every dead letter", outbox.RetryAllDeadEntries).
			Handle(http.MethodGet, "/stats", "Outbox counts by status", outbox.GetStats).
			Handle(http.MethodGet, "/:id", "Get an outbox entry", outbox.GetEntry).
			Handle(http.MethodPost, "/:id/retry", "Requeue a dead letter", outbox.RetryDeadEntry)
	}
	return g
}
