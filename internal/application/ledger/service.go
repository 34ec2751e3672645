package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const (
	tableTransactions = "transactions"
	tableParties      = "parties"
)

// Service is the write side of the ledger. Every mutation runs in exactly
// one TransactionScope.Execute with the party row locked first.
type Service struct {
	scope        TransactionScope
	transactions ledger.TransactionRepository
	parties      ledger.PartyRepository
	balances     ledger.BalanceEntryRepository
	allocations  ledger.AllocationRepository
	codes        *ledger.CodeGenerator
	audit        AuditRecorder
	metrics      *telemetry.LedgerMetrics
	logger       *zap.Logger
}

// NewService creates a new ledger Service
func NewService(
	scope TransactionScope,
	transactions ledger.TransactionRepository,
	parties ledger.PartyRepository,
	balances ledger.BalanceEntryRepository,
	allocations ledger.AllocationRepository,
	codes *ledger.CodeGenerator,
	audit AuditRecorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		scope:        scope,
		transactions: transactions,
		parties:      parties,
		balances:     balances,
		allocations:  allocations,
		codes:        codes,
		audit:        audit,
		logger:       logger,
	}
}

// SetMetrics attaches ledger metrics. A nil value disables them.
func (s *Service) SetMetrics(m *telemetry.LedgerMetrics) {
	s.metrics = m
}

// CreateTransaction books a sale, purchase or treatment against its party
func (s *Service) CreateTransaction(ctx context.Context, cmd CreateTransactionCommand) (*TransactionResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "create_transaction")
	defer span.End()

	partyID, err := debtPartyID(cmd)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	items := make([]ledger.LineItemInput, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		items = append(items, ledger.LineItemInput{
			ProductID:   item.ProductID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			VATRate:     item.VATRate,
			Discount:    item.Discount,
		})
	}

	tx, err := ledger.NewDebtTransaction(ledger.DebtInput{
		Type:          cmd.Type,
		PartyID:       partyID,
		AnimalID:      cmd.AnimalID,
		Items:         items,
		Discount:      cmd.Discount,
		PaidAmount:    cmd.PaidAmount,
		PaymentMethod: ledger.PaymentMethod(cmd.PaymentMethod),
		Date:          cmd.Date,
		DueDate:       cmd.DueDate,
		Notes:         cmd.Notes,
		CreatedBy:     cmd.Actor.UserID,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttributes(span,
		"transaction_type", string(tx.Type),
		"party", tx.Party().String(),
		"total", tx.Total.String(),
	)

	_, err = s.codes.WithUniqueCode(ctx, tx.Type.CodePrefix(), func(ctx context.Context, code string) error {
		tx.AssignCode(code)
		return s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			party, err := lockActiveParty(ctx, repos, tx.Party())
			if err != nil {
				return err
			}
			if err := tx.CheckInvariants(); err != nil {
				return err
			}
			if err := repos.Transactions().Create(ctx, tx); err != nil {
				return err
			}
			if err := postBalance(ctx, repos, party, ledger.BalanceEntryDebt, tx.BalanceImpact(), &tx.ID); err != nil {
				return err
			}

			entries, err := stockEntries(tx, 1, tx.Code)
			if err != nil {
				return err
			}
			reminder, err := reminderEntry(tx)
			if err != nil {
				return err
			}
			if reminder != nil {
				entries = append(entries, reminder)
			}
			if len(entries) > 0 {
				return repos.Outbox().Save(ctx, entries...)
			}
			return nil
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	resp := ToTransactionResponse(tx)
	s.audit.RecordCreate(ctx, tableTransactions, tx.ID, resp, cmd.Actor)
	s.metrics.RecordTransactionCreated(ctx, string(tx.Type), tx.Total)
	s.logger.Info("ledger transaction created",
		zap.String("code", tx.Code),
		zap.String("type", string(tx.Type)),
		zap.String("party", tx.Party().String()),
		zap.String("total", tx.Total.StringFixed(2)),
		zap.String("status", string(tx.Status)),
	)
	return &resp, nil
}

func debtPartyID(cmd CreateTransactionCommand) (uuid.UUID, error) {
	if !cmd.Type.IsDebt() {
		return uuid.Nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("%s is not a debt transaction type", cmd.Type))
	}
	if cmd.CustomerID != nil && cmd.SupplierID != nil {
		return uuid.Nil, shared.NewDomainError("INVALID_INPUT", "only one of customer and supplier may be set")
	}
	id := cmd.CustomerID
	if cmd.Type.PartyKind() == ledger.PartyKindSupplier {
		id = cmd.SupplierID
	}
	if id == nil || *id == uuid.Nil {
		return uuid.Nil, ledger.ErrPartyRequired
	}
	return *id, nil
}

// CreatePayment books a payment, allocates it FIFO over the party's
// outstanding debts and lowers the balance by the full amount.
func (s *Service) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (*PaymentResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "create_payment")
	defer span.End()

	payment, err := ledger.NewPaymentTransaction(ledger.PaymentInput{
		PartyKind:     cmd.PartyKind,
		PartyID:       cmd.PartyID,
		Amount:        cmd.Amount,
		PaymentMethod: ledger.PaymentMethod(cmd.PaymentMethod),
		Date:          cmd.Date,
		Notes:         cmd.Notes,
		CreatedBy:     cmd.Actor.UserID,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttributes(span,
		"party", payment.Party().String(),
		"amount", payment.Total.String(),
	)

	var (
		result       *ledger.AllocationResult
		settled      []*ledger.Transaction
		before       map[uuid.UUID]settlementView
		balanceAfter decimal.Decimal
	)

	_, err = s.codes.WithUniqueCode(ctx, payment.Type.CodePrefix(), func(ctx context.Context, code string) error {
		payment.AssignCode(code)
		return s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			party, err := lockActiveParty(ctx, repos, payment.Party())
			if err != nil {
				return err
			}
			if err := repos.Transactions().Create(ctx, payment); err != nil {
				return err
			}

			debts, err := repos.Transactions().FindOutstandingDebts(ctx, party.Ref())
			if err != nil {
				return fmt.Errorf("failed to load outstanding debts: %w", err)
			}
			before = make(map[uuid.UUID]settlementView, len(debts))
			byID := make(map[uuid.UUID]*ledger.Transaction, len(debts))
			for _, d := range debts {
				before[d.ID] = viewSettlement(d)
				byID[d.ID] = d
			}

			res, err := ledger.AllocateFIFO(payment.Total, debts)
			if err != nil {
				return err
			}

			settled = settled[:0]
			for _, a := range res.Allocations {
				debt := byID[a.TransactionID]
				if err := debt.CheckInvariants(); err != nil {
					return err
				}
				if err := repos.Transactions().UpdateSettlement(ctx, debt); err != nil {
					return err
				}
				settled = append(settled, debt)
			}
			if records := res.Records(payment); len(records) > 0 {
				if err := repos.Allocations().Append(ctx, records...); err != nil {
					return err
				}
			}

			if err := postBalance(ctx, repos, party, ledger.BalanceEntryPayment, payment.BalanceImpact(), &payment.ID); err != nil {
				return err
			}
			result = res
			balanceAfter = party.Balance
			return nil
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	resp := &PaymentResponse{
		Payment:        ToTransactionResponse(payment),
		Allocations:    make([]AllocationResponse, 0, len(result.Allocations)),
		TotalAllocated: result.TotalAllocated,
		Remainder:      result.Remainder,
		BalanceAfter:   balanceAfter,
	}
	for _, a := range result.Allocations {
		resp.Allocations = append(resp.Allocations, AllocationResponse{
			TransactionID:   a.TransactionID,
			TransactionCode: a.TransactionCode,
			AmountApplied:   a.AmountApplied,
			PaidAfter:       a.PaidAfter,
		})
	}

	s.audit.RecordCreate(ctx, tableTransactions, payment.ID, resp.Payment, cmd.Actor)
	for _, debt := range settled {
		s.audit.RecordUpdate(ctx, tableTransactions, debt.ID, before[debt.ID], viewSettlement(debt), cmd.Actor)
	}
	s.metrics.RecordPayment(ctx, string(payment.Party().Kind), result.TotalAllocated, result.Remainder)
	s.logger.Info("payment allocated",
		zap.String("code", payment.Code),
		zap.String("party", payment.Party().String()),
		zap.String("amount", payment.Total.StringFixed(2)),
		zap.Int("allocations", len(result.Allocations)),
		zap.String("remainder", result.Remainder.StringFixed(2)),
	)
	return resp, nil
}

// CancelTransaction voids a debt or payment and reverses its effect on the
// balance, the allocation history and stock.
func (s *Service) CancelTransaction(ctx context.Context, cmd CancelTransactionCommand) (*TransactionResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "cancel_transaction")
	defer span.End()
	telemetry.SetAttribute(span, "transaction_id", cmd.TransactionID.String())

	var (
		tx      *ledger.Transaction
		before  TransactionResponse
		touched []*ledger.Transaction
		prior   map[uuid.UUID]settlementView
	)

	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		found, err := repos.Transactions().FindByID(ctx, cmd.TransactionID)
		if err != nil {
			return err
		}
		party, err := repos.Parties().FindForUpdate(ctx, found.Party())
		if err != nil {
			return err
		}
		// re-read under the party lock
		tx, err = repos.Transactions().FindByID(ctx, cmd.TransactionID)
		if err != nil {
			return err
		}
		if tx.IsCancelled() {
			return ledger.ErrAlreadyCancelled
		}
		before = ToTransactionResponse(tx)
		prior = make(map[uuid.UUID]settlementView)
		touched = touched[:0]

		var impact decimal.Decimal
		if tx.Type.IsDebt() {
			impact = tx.BalanceImpact().Neg()
			records, err := repos.Allocations().FindByDebt(ctx, tx.ID)
			if err != nil {
				return err
			}
			if err := appendReversals(ctx, repos, party.Ref(), records); err != nil {
				return err
			}
		} else {
			impact = tx.Total
			records, err := repos.Allocations().FindByPayment(ctx, tx.ID)
			if err != nil {
				return err
			}
			for pair, amount := range ledger.NetAllocations(records) {
				debt, err := repos.Transactions().FindByID(ctx, pair.DebtID)
				if err != nil {
					return err
				}
				prior[debt.ID] = viewSettlement(debt)
				debt.ReleasePayment(amount)
				if err := repos.Transactions().UpdateSettlement(ctx, debt); err != nil {
					return err
				}
				touched = append(touched, debt)
			}
			if err := appendReversals(ctx, repos, party.Ref(), records); err != nil {
				return err
			}
		}

		if err := tx.Cancel(); err != nil {
			return err
		}
		if err := repos.Transactions().UpdateSettlement(ctx, tx); err != nil {
			return err
		}
		if err := postBalance(ctx, repos, party, ledger.BalanceEntryCancellation, impact, &tx.ID); err != nil {
			return err
		}

		entries, err := stockEntries(tx, -1, tx.Code+"-CANCEL")
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return repos.Outbox().Save(ctx, entries...)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.audit.RecordDelete(ctx, tableTransactions, tx.ID, before, cmd.Actor)
	for _, debt := range touched {
		s.audit.RecordUpdate(ctx, tableTransactions, debt.ID, prior[debt.ID], viewSettlement(debt), cmd.Actor)
	}
	s.metrics.RecordCancellation(ctx, string(tx.Type))
	s.logger.Info("ledger transaction cancelled",
		zap.String("code", tx.Code),
		zap.String("type", string(tx.Type)),
		zap.Int("released_debts", len(touched)),
	)
	resp := ToTransactionResponse(tx)
	return &resp, nil
}

func appendReversals(ctx context.Context, repos TransactionalRepositories, party ledger.PartyRef, records []*ledger.AllocationRecord) error {
	net := ledger.NetAllocations(records)
	if len(net) == 0 {
		return nil
	}
	reversals := make([]*ledger.AllocationRecord, 0, len(net))
	for pair, amount := range net {
		reversals = append(reversals, ledger.NewAllocationRecord(ledger.AllocationKindReversal, party, pair.PaymentID, pair.DebtID, amount.Neg()))
	}
	return repos.Allocations().Append(ctx, reversals...)
}

// GetTransaction returns a transaction with its items
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*TransactionResponse, error) {
	tx, err := s.transactions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToTransactionResponse(tx)
	return &resp, nil
}

// ListAllocations returns the allocation history of a payment or a debt
func (s *Service) ListAllocations(ctx context.Context, transactionID uuid.UUID) ([]AllocationRecordResponse, error) {
	tx, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	var records []*ledger.AllocationRecord
	if tx.Type.IsPayment() {
		records, err = s.allocations.FindByPayment(ctx, tx.ID)
	} else {
		records, err = s.allocations.FindByDebt(ctx, tx.ID)
	}
	if err != nil {
		return nil, err
	}
	return toAllocationRecordResponses(records), nil
}

// GetPartyBalance returns the cached balance and the fold of the balance
// stream it caches.
func (s *Service) GetPartyBalance(ctx context.Context, ref ledger.PartyRef) (*PartyBalanceResponse, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	party, err := s.parties.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	entries, err := s.balances.FindByParty(ctx, ref)
	if err != nil {
		return nil, err
	}
	folded := ledger.FoldBalance(entries)
	return &PartyBalanceResponse{
		Kind:          string(party.Kind),
		ID:            party.ID,
		Name:          party.Name,
		Active:        party.Active,
		Balance:       party.Balance,
		LedgerBalance: folded,
		InSync:        ledger.WithinEpsilon(folded, party.Balance),
		Version:       party.Version,
	}, nil
}

// RegisterParty makes a customer or supplier known to the ledger. Calling it
// again refreshes the name and reactivates the party; the balance is never
// touched.
func (s *Service) RegisterParty(ctx context.Context, cmd RegisterPartyCommand) (*PartyBalanceResponse, error) {
	ref := ledger.PartyRef{Kind: cmd.Kind, ID: cmd.ID}
	party, err := ledger.NewParty(ref, cmd.Name)
	if err != nil {
		return nil, err
	}
	if party.Name == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "party name is required")
	}
	if err := s.parties.Register(ctx, party); err != nil {
		return nil, err
	}
	resp, err := s.GetPartyBalance(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.audit.RecordCreate(ctx, tableParties, party.ID, viewParty(party), cmd.Actor)
	return resp, nil
}

// DeactivateParty blocks new transactions for the party. Its history and
// balance stay.
func (s *Service) DeactivateParty(ctx context.Context, ref ledger.PartyRef, actor shared.Actor) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	var before, after partyView
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		party, err := repos.Parties().FindForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		before = viewParty(party)
		if !party.Active {
			after = before
			return nil
		}
		party.Deactivate()
		after = viewParty(party)
		return repos.Parties().UpdateBalance(ctx, party)
	})
	if err != nil {
		return err
	}
	s.audit.RecordUpdate(ctx, tableParties, ref.ID, before, after, actor)
	return nil
}

func lockActiveParty(ctx context.Context, repos TransactionalRepositories, ref ledger.PartyRef) (*ledger.Party, error) {
	party, err := repos.Parties().FindForUpdate(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !party.Active {
		return nil, ledger.ErrPartyInactive
	}
	return party, nil
}

// postBalance appends a balance entry and writes the cached balance
func postBalance(ctx context.Context, repos TransactionalRepositories, party *ledger.Party, kind ledger.BalanceEntryKind, amount decimal.Decimal, txID *uuid.UUID) error {
	entry := party.Post(kind, amount, txID)
	if err := repos.Balances().Append(ctx, entry); err != nil {
		return err
	}
	return repos.Parties().UpdateBalance(ctx, party)
}
