package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
)

// StatementLine is one row of a party statement
type StatementLine struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Code          string          `json:"code"`
	Type          string          `json:"type"`
	Date          time.Time       `json:"date"`
	Status        string          `json:"status"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Balance       decimal.Decimal `json:"balance"`
}

// StatementResponse is the chronological account of a party
type StatementResponse struct {
	Kind           string          `json:"kind"`
	PartyID        uuid.UUID       `json:"party_id"`
	Name           string          `json:"name"`
	From           *time.Time      `json:"from,omitempty"`
	To             *time.Time      `json:"to,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	TotalDebit     decimal.Decimal `json:"total_debit"`
	TotalCredit    decimal.Decimal `json:"total_credit"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Lines          []StatementLine `json:"lines"`
}

// ReceivableItem is a party with a positive balance
type ReceivableItem struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
	PendingCount int             `json:"pending_count"`
	PartialCount int             `json:"partial_count"`
	OldestDebtAt *time.Time      `json:"oldest_debt_at,omitempty"`
}

// ReceivablesResponse lists who owes (customers) or is owed (suppliers)
type ReceivablesResponse struct {
	Kind    string           `json:"kind"`
	Count   int              `json:"count"`
	Total   decimal.Decimal  `json:"total"`
	Average decimal.Decimal  `json:"average"`
	Highest decimal.Decimal  `json:"highest"`
	Items   []ReceivableItem `json:"items"`
}

// ReportService builds read-only views of the ledger
type ReportService struct {
	transactions ledger.TransactionRepository
	parties      ledger.PartyRepository
}

// NewReportService creates a new ReportService
func NewReportService(transactions ledger.TransactionRepository, parties ledger.PartyRepository) *ReportService {
	return &ReportService{transactions: transactions, parties: parties}
}

// Statement lists non-cancelled transactions of a party with a running
// balance. Debts debit their total and credit what was paid at the counter;
// payments credit their amount. Entries before from fold into the opening
// balance.
func (s *ReportService) Statement(ctx context.Context, ref ledger.PartyRef, from, to *time.Time) (*StatementResponse, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	party, err := s.parties.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	txs, err := s.transactions.FindByParty(ctx, ref, ledger.TransactionFilter{To: to})
	if err != nil {
		return nil, err
	}
	ledger.SortFIFO(txs)

	resp := &StatementResponse{
		Kind:           string(ref.Kind),
		PartyID:        ref.ID,
		Name:           party.Name,
		From:           from,
		To:             to,
		OpeningBalance: decimal.Zero,
		TotalDebit:     decimal.Zero,
		TotalCredit:    decimal.Zero,
		CurrentBalance: party.Balance,
		Lines:          make([]StatementLine, 0, len(txs)),
	}

	running := decimal.Zero
	for _, tx := range txs {
		debit, credit := decimal.Zero, tx.PaidOnCreation
		if tx.Type.IsDebt() {
			debit = tx.Total
		}
		running = running.Add(debit).Sub(credit)

		if from != nil && tx.Date.Before(*from) {
			resp.OpeningBalance = running
			continue
		}
		resp.TotalDebit = resp.TotalDebit.Add(debit)
		resp.TotalCredit = resp.TotalCredit.Add(credit)
		resp.Lines = append(resp.Lines, StatementLine{
			TransactionID: tx.ID,
			Code:          tx.Code,
			Type:          string(tx.Type),
			Date:          tx.Date,
			Status:        string(tx.Status),
			Debit:         debit,
			Credit:        credit,
			Balance:       running,
		})
	}
	resp.ClosingBalance = running
	return resp, nil
}

// Receivables lists parties of the given kind with a positive balance,
// largest first.
func (s *ReportService) Receivables(ctx context.Context, kind ledger.PartyKind) (*ReceivablesResponse, error) {
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "party kind must be CUSTOMER or SUPPLIER")
	}
	parties, err := s.parties.ListWithPositiveBalance(ctx, kind)
	if err != nil {
		return nil, err
	}

	resp := &ReceivablesResponse{
		Kind:    string(kind),
		Total:   decimal.Zero,
		Average: decimal.Zero,
		Highest: decimal.Zero,
		Items:   make([]ReceivableItem, 0, len(parties)),
	}
	for _, p := range parties {
		debts, err := s.transactions.FindOutstandingDebts(ctx, p.Ref())
		if err != nil {
			return nil, err
		}
		item := ReceivableItem{ID: p.ID, Name: p.Name, Balance: p.Balance}
		for _, d := range debts {
			switch d.Status {
			case ledger.StatusPending:
				item.PendingCount++
			case ledger.StatusPartial:
				item.PartialCount++
			}
			if item.OldestDebtAt == nil || d.Date.Before(*item.OldestDebtAt) {
				date := d.Date
				item.OldestDebtAt = &date
			}
		}
		resp.Items = append(resp.Items, item)
		resp.Total = resp.Total.Add(p.Balance)
		if p.Balance.GreaterThan(resp.Highest) {
			resp.Highest = p.Balance
		}
	}

	sort.SliceStable(resp.Items, func(i, j int) bool {
		return resp.Items[i].Balance.GreaterThan(resp.Items[j].Balance)
	})
	resp.Count = len(resp.Items)
	if resp.Count > 0 {
		resp.Average = ledger.RoundMoney(resp.Total.Div(decimal.NewFromInt(int64(resp.Count))))
	}
	return resp, nil
}
