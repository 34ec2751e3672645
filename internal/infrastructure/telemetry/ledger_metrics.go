package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when instruments are requested without a meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

// LedgerMetrics holds the ledger instruments. A nil *LedgerMetrics records
// nothing, so services run without metrics wired.
type LedgerMetrics struct {
	transactionsCreated *Counter
	transactionAmount   *Histogram
	paymentsTotal       *Counter
	paymentAllocated    *Histogram
	paymentRemainder    *Histogram
	cancellations       *Counter
	reconcileRuns       *Counter
	reconcileParties    *Counter
	reconcileDuration   *Histogram
	balanceDrift        *Histogram
	outboxDeliveries    *Counter
}

// NewLedgerMetrics creates the ledger instruments on meter
func NewLedgerMetrics(meter metric.Meter) (*LedgerMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &LedgerMetrics{}
	var err error

	counters := []struct {
		dst              **Counter
		name, desc, unit string
	}{
		{&m.transactionsCreated, "ledger_transactions_created_total", "Ledger transactions created", "{transaction}"},
		{&m.paymentsTotal, "ledger_payments_total", "Payments allocated against outstanding debts", "{payment}"},
		{&m.cancellations, "ledger_cancellations_total", "Transactions cancelled", "{transaction}"},
		{&m.reconcileRuns, "ledger_reconciliation_runs_total", "Reconciliation runs", "{run}"},
		{&m.reconcileParties, "ledger_reconciliation_parties_total", "Parties visited by reconciliation by outcome", "{party}"},
		{&m.outboxDeliveries, "ledger_outbox_deliveries_total", "Side effect deliveries by topic and outcome", "{delivery}"},
	}
	for _, c := range counters {
		if *c.dst, err = NewCounter(meter, c.name, c.desc, c.unit); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  **Histogram
		opts HistogramOpts
	}{
		{&m.transactionAmount, HistogramOpts{Name: "ledger_transaction_amount", Description: "Transaction totals", Unit: "{currency}", Boundaries: MoneyBuckets}},
		{&m.paymentAllocated, HistogramOpts{Name: "ledger_payment_allocated_amount", Description: "Payment amount applied to debts", Unit: "{currency}", Boundaries: MoneyBuckets}},
		{&m.paymentRemainder, HistogramOpts{Name: "ledger_payment_remainder_amount", Description: "Payment amount left unallocated", Unit: "{currency}", Boundaries: MoneyBuckets}},
		{&m.reconcileDuration, HistogramOpts{Name: "ledger_reconciliation_duration_seconds", Description: "Reconciliation run duration", Unit: "s", Boundaries: JobDurationBuckets}},
		{&m.balanceDrift, HistogramOpts{Name: "ledger_balance_drift_amount", Description: "Absolute difference between cached and recomputed balances", Unit: "{currency}", Boundaries: MoneyBuckets}},
	}
	for _, h := range histograms {
		if *h.dst, err = NewHistogram(meter, h.opts); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordTransactionCreated counts a new transaction and its total
func (m *LedgerMetrics) RecordTransactionCreated(ctx context.Context, txType string, total decimal.Decimal) {
	if m == nil {
		return
	}
	m.transactionsCreated.Inc(ctx, AttrTransactionType.String(txType))
	m.transactionAmount.Record(ctx, total.InexactFloat64(), AttrTransactionType.String(txType))
}

// RecordPayment counts a payment with the split between allocated and left over
func (m *LedgerMetrics) RecordPayment(ctx context.Context, partyKind string, allocated, remainder decimal.Decimal) {
	if m == nil {
		return
	}
	m.paymentsTotal.Inc(ctx, AttrPartyKind.String(partyKind))
	m.paymentAllocated.Record(ctx, allocated.InexactFloat64(), AttrPartyKind.String(partyKind))
	if remainder.IsPositive() {
		m.paymentRemainder.Record(ctx, remainder.InexactFloat64(), AttrPartyKind.String(partyKind))
	}
}

// RecordCancellation counts a cancelled transaction
func (m *LedgerMetrics) RecordCancellation(ctx context.Context, txType string) {
	if m == nil {
		return
	}
	m.cancellations.Inc(ctx, AttrTransactionType.String(txType))
}

// RecordReconciliation records one reconciliation run
func (m *LedgerMetrics) RecordReconciliation(ctx context.Context, dryRun bool, fixed, errored, unchanged int, d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileRuns.Inc(ctx, AttrDryRun.Bool(dryRun))
	m.reconcileDuration.RecordDuration(ctx, d, AttrDryRun.Bool(dryRun))
	for outcome, n := range map[string]int{"fixed": fixed, "error": errored, "unchanged": unchanged} {
		if n > 0 {
			m.reconcileParties.Add(ctx, int64(n), AttrDryRun.Bool(dryRun), AttrOutcome.String(outcome))
		}
	}
}

// RecordBalanceDrift records the size of a balance correction
func (m *LedgerMetrics) RecordBalanceDrift(ctx context.Context, partyKind string, drift decimal.Decimal) {
	if m == nil {
		return
	}
	m.balanceDrift.Record(ctx, drift.Abs().InexactFloat64(), AttrPartyKind.String(partyKind))
}

// RecordOutboxDelivery counts one side effect delivery attempt. outcome is
// sent, failed or dead.
func (m *LedgerMetrics) RecordOutboxDelivery(ctx context.Context, topic, outcome string) {
	if m == nil {
		return
	}
	m.outboxDeliveries.Inc(ctx, AttrTopic.String(topic), AttrOutcome.String(outcome))
}
