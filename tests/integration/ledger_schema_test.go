//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerSchema_PaidAmountBoundedByTotal(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	ref := f.customer(t)

	sale, err := f.sale(ctx, ref, "80", time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	tests := []struct {
		name    string
		paid    string
		wantErr bool
	}{
		{"exactly total", "80.00", false},
		{"one cent over total", "80.01", true},
		{"negative", "-0.01", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.db.DB.Exec("UPDATE transactions SET paid_amount = ? WHERE id = ?", tt.paid, sale.ID).Error
			if tt.wantErr {
				assert.ErrorContains(t, err, "chk_transactions_paid")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
