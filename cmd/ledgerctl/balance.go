package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	ledgerapp "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newBalanceCmd(c *cli) *cobra.Command {
	var kind, party string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a party balance next to the fold of its balance entries",
		Example: `  ledgerctl balance --kind supplier --party 7d0e...`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := ledger.ParsePartyKind(kind)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(party)
			if err != nil {
				return fmt.Errorf("invalid party id %q: %w", party, err)
			}
			return c.withDatabase(cmd.Context(), func(db *gorm.DB) error {
				service := ledgerapp.NewService(
					persistence.NewGormTransactionScope(db),
					persistence.NewGormTransactionRepository(db),
					persistence.NewGormPartyRepository(db),
					persistence.NewGormBalanceEntryRepository(db),
					persistence.NewGormAllocationRepository(db),
					nil,
					nil,
					c.log,
				)
				balance, err := service.GetPartyBalance(cmd.Context(), ledger.PartyRef{Kind: k, ID: id})
				if err != nil {
					return err
				}
				if !balance.InSync {
					c.log.Warn("Cached balance drifted from the balance entries",
						zap.String("party_id", id.String()),
						zap.String("balance", balance.Balance.String()),
						zap.String("ledger_balance", balance.LedgerBalance.String()),
					)
				}
				return printJSON(cmd.OutOrStdout(), balance)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "customer or supplier")
	cmd.Flags().StringVar(&party, "party", "", "Party id")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("party")
	return cmd
}
