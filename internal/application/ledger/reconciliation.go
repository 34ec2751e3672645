package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// PartyOutcome is the result of reconciling one party
type PartyOutcome string

const (
	OutcomeFixed     PartyOutcome = "FIXED"
	OutcomeUnchanged PartyOutcome = "UNCHANGED"
	OutcomeError     PartyOutcome = "ERROR"
)

// errDryRun rolls back the unit of work of a dry run
var errDryRun = errors.New("dry run")

// ReconcileOptions selects what a reconciliation run covers
type ReconcileOptions struct {
	// PartyKind limits the run to customers or suppliers. Required with PartyID.
	PartyKind *ledger.PartyKind
	PartyID   *uuid.UUID
	// DryRun computes and reports the changes without writing them
	DryRun bool
}

// SettlementChange is a corrected paid amount
type SettlementChange struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Code          string          `json:"code"`
	FromPaid      decimal.Decimal `json:"from_paid"`
	ToPaid        decimal.Decimal `json:"to_paid"`
	FromStatus    string          `json:"from_status"`
	ToStatus      string          `json:"to_status"`
}

// PartyReport describes what reconciliation found for one party
type PartyReport struct {
	Kind            string             `json:"kind"`
	ID              uuid.UUID          `json:"id"`
	Outcome         PartyOutcome       `json:"outcome"`
	StoredBalance   decimal.Decimal    `json:"stored_balance"`
	ComputedBalance decimal.Decimal    `json:"computed_balance"`
	Adjustments     int                `json:"allocation_adjustments"`
	Settlements     []SettlementChange `json:"settlements,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// ReconcileSummary is the outcome of a reconciliation run
type ReconcileSummary struct {
	RunID      uuid.UUID     `json:"run_id"`
	DryRun     bool          `json:"dry_run"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Fixed      int           `json:"fixed"`
	Errored    int           `json:"errored"`
	Unchanged  int           `json:"unchanged"`
	Parties    []PartyReport `json:"parties"`
}

// Reconciler recomputes party balances and paid amounts from the
// transaction history and corrects drift. Each party is handled in its own
// unit of work under the same row lock live traffic takes.
type Reconciler struct {
	scope   TransactionScope
	parties ledger.PartyRepository
	audit   AuditRecorder
	metrics *telemetry.LedgerMetrics
	logger  *zap.Logger
}

// NewReconciler creates a new Reconciler
func NewReconciler(scope TransactionScope, parties ledger.PartyRepository, audit AuditRecorder, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		scope:   scope,
		parties: parties,
		audit:   audit,
		logger:  logger,
	}
}

// SetMetrics attaches ledger metrics
func (r *Reconciler) SetMetrics(m *telemetry.LedgerMetrics) {
	r.metrics = m
}

// Run reconciles the selected parties. A failing party is reported and
// counted; it never aborts the run. Only a failure to list the parties is
// returned as an error.
func (r *Reconciler) Run(ctx context.Context, opts ReconcileOptions) (*ReconcileSummary, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "reconcile")
	defer span.End()

	refs, err := r.targets(ctx, opts)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	summary := &ReconcileSummary{
		RunID:     uuid.New(),
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
		Parties:   make([]PartyReport, 0, len(refs)),
	}
	log := r.logger.With(zap.String("run_id", summary.RunID.String()), zap.Bool("dry_run", opts.DryRun))
	log.Info("reconciliation started", zap.Int("parties", len(refs)))

	for _, ref := range refs {
		if ctx.Err() != nil {
			log.Warn("reconciliation interrupted", zap.Error(ctx.Err()))
			break
		}

		report := r.reconcileParty(ctx, ref, opts.DryRun)
		switch report.Outcome {
		case OutcomeFixed:
			summary.Fixed++
			log.Info("party reconciled",
				zap.String("party", ref.String()),
				zap.String("stored_balance", report.StoredBalance.StringFixed(2)),
				zap.String("computed_balance", report.ComputedBalance.StringFixed(2)),
				zap.Int("allocation_adjustments", report.Adjustments),
				zap.Int("settlements", len(report.Settlements)),
			)
		case OutcomeError:
			summary.Errored++
			log.Error("party reconciliation failed",
				zap.String("party", ref.String()),
				zap.String("error", report.Error),
			)
		default:
			summary.Unchanged++
		}
		summary.Parties = append(summary.Parties, report)
	}

	summary.FinishedAt = time.Now().UTC()
	telemetry.SetAttributes(span,
		"fixed", summary.Fixed,
		"errored", summary.Errored,
		"unchanged", summary.Unchanged,
	)
	r.metrics.RecordReconciliation(ctx, opts.DryRun, summary.Fixed, summary.Errored, summary.Unchanged, summary.FinishedAt.Sub(summary.StartedAt))
	log.Info("reconciliation finished",
		zap.Int("fixed", summary.Fixed),
		zap.Int("errored", summary.Errored),
		zap.Int("unchanged", summary.Unchanged),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

func (r *Reconciler) targets(ctx context.Context, opts ReconcileOptions) ([]ledger.PartyRef, error) {
	if opts.PartyID != nil {
		if opts.PartyKind == nil {
			return nil, shared.NewDomainError("INVALID_INPUT", "party kind is required when a party id is given")
		}
		ref := ledger.PartyRef{Kind: *opts.PartyKind, ID: *opts.PartyID}
		if err := ref.Validate(); err != nil {
			return nil, err
		}
		if _, err := r.parties.FindByRef(ctx, ref); err != nil {
			return nil, err
		}
		return []ledger.PartyRef{ref}, nil
	}

	if opts.PartyKind != nil && !opts.PartyKind.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "party kind must be CUSTOMER or SUPPLIER")
	}
	parties, err := r.parties.ListActive(ctx, opts.PartyKind)
	if err != nil {
		return nil, fmt.Errorf("failed to list parties: %w", err)
	}
	refs := make([]ledger.PartyRef, 0, len(parties))
	for _, p := range parties {
		refs = append(refs, p.Ref())
	}
	return refs, nil
}

func (r *Reconciler) reconcileParty(ctx context.Context, ref ledger.PartyRef, dryRun bool) (report PartyReport) {
	report = PartyReport{Kind: string(ref.Kind), ID: ref.ID}
	defer func() {
		if p := recover(); p != nil {
			report.Outcome = OutcomeError
			report.Error = fmt.Sprintf("panic: %v", p)
		}
	}()

	var (
		plan          *ledger.ReconcilePlan
		before, after partyView
	)
	err := r.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		party, err := repos.Parties().FindForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		debts, err := repos.Transactions().FindDebts(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to load debts: %w", err)
		}
		payments, err := repos.Transactions().FindPayments(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to load payments: %w", err)
		}
		records, err := repos.Allocations().FindByParty(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to load allocations: %w", err)
		}

		before = viewParty(party)
		plan = ledger.PlanReconciliation(party, debts, payments, records)
		if !plan.Changed() {
			return nil
		}

		changed, entry := plan.Apply(party)
		for _, debt := range changed {
			if err := debt.CheckInvariants(); err != nil {
				return err
			}
			if err := repos.Transactions().UpdateSettlement(ctx, debt); err != nil {
				return err
			}
		}
		if len(plan.Adjustments) > 0 {
			if err := repos.Allocations().Append(ctx, plan.Adjustments...); err != nil {
				return err
			}
		}
		if entry != nil {
			if err := repos.Balances().Append(ctx, entry); err != nil {
				return err
			}
			if err := repos.Parties().UpdateBalance(ctx, party); err != nil {
				return err
			}
		}
		after = viewParty(party)

		if dryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		report.Outcome = OutcomeError
		report.Error = err.Error()
		return report
	}

	report.StoredBalance = plan.StoredBalance
	report.ComputedBalance = plan.ComputedBalance
	report.Adjustments = len(plan.Adjustments)
	for _, st := range plan.Settlements {
		report.Settlements = append(report.Settlements, SettlementChange{
			TransactionID: st.TransactionID,
			Code:          st.Code,
			FromPaid:      st.FromPaid,
			ToPaid:        st.ToPaid,
			FromStatus:    string(st.FromStatus),
			ToStatus:      string(st.ToStatus),
		})
	}

	if !plan.Changed() {
		report.Outcome = OutcomeUnchanged
		return report
	}
	report.Outcome = OutcomeFixed
	if plan.BalanceDrifted() {
		r.metrics.RecordBalanceDrift(ctx, string(ref.Kind), plan.BalanceDrift())
	}
	if !dryRun {
		r.audit.RecordUpdate(ctx, tableParties, ref.ID, before, after, shared.SystemActor("reconciliation"))
	}
	return report
}
