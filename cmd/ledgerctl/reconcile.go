package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	ledgerapp "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/infrastructure/audit"
	"github.com/vetclinic/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newReconcileCmd(c *cli) *cobra.Command {
	var (
		kind   string
		party  string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute party balances from the transaction history",
		Long: `Recompute every party balance and paid amount from the transaction
history and correct any drift. Each party is reconciled in its own
database transaction.`,
		Example: `  # Reconcile everything
  ledgerctl reconcile

  # Preview the changes for one customer
  ledgerctl reconcile --kind customer --party 7d0e... --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := reconcileOptions(kind, party, dryRun)
			if err != nil {
				return err
			}
			return c.withDatabase(cmd.Context(), func(db *gorm.DB) error {
				recorder := audit.NewAsyncRecorder(audit.NewGormSink(db), audit.DefaultConfig(), c.log)
				defer func() {
					if err := recorder.Close(cmd.Context()); err != nil {
						c.log.Warn("Error flushing audit records", zap.Error(err))
					}
				}()

				reconciler := ledgerapp.NewReconciler(
					persistence.NewGormTransactionScope(db),
					persistence.NewGormPartyRepository(db),
					recorder,
					c.log,
				)
				summary, err := reconciler.Run(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
				if summary.Errored > 0 {
					return fmt.Errorf("%d parties could not be reconciled", summary.Errored)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Limit to customer or supplier")
	cmd.Flags().StringVar(&party, "party", "", "Limit to one party id (needs --kind)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the changes without writing them")
	return cmd
}

func reconcileOptions(kind, party string, dryRun bool) (ledgerapp.ReconcileOptions, error) {
	opts := ledgerapp.ReconcileOptions{DryRun: dryRun}
	if kind != "" {
		k, err := ledger.ParsePartyKind(kind)
		if err != nil {
			return opts, err
		}
		opts.PartyKind = &k
	}
	if party != "" {
		if opts.PartyKind == nil {
			return opts, fmt.Errorf("--party needs --kind")
		}
		id, err := uuid.Parse(party)
		if err != nil {
			return opts, fmt.Errorf("invalid party id %q: %w", party, err)
		}
		opts.PartyID = &id
	}
	return opts, nil
}
