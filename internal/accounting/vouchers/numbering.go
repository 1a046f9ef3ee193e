package vouchers

import (
	"context"
	"fmt"
	"strings"
)

// SequenceKey scopes a numbering sequence.
type SequenceKey struct {
	CompanyID int64
	BranchID  *int64
	PeriodID  int64
	Type      Type
}

// FormatNumber renders TYPE/PERIOD/00001.
func FormatNumber(t Type, periodCode string, seq int64) string {
	return fmt.Sprintf("%s/%s/%05d", t, strings.TrimSpace(periodCode), seq)
}

// NextSequence reserves the next value for key inside the caller's
// transaction. Branchless vouchers share branch 0.
func NextSequence(ctx context.Context, db DBTX, key SequenceKey) (int64, error) {
	var branch int64
	if key.BranchID != nil {
		branch = *key.BranchID
	}
	var seq int64
	err := db.QueryRow(ctx, `
INSERT INTO voucher_sequences (company_id, branch_id, period_id, voucher_type, seq)
VALUES ($1, $2, $3, $4, 1)
ON CONFLICT (company_id, branch_id, period_id, voucher_type)
DO UPDATE SET seq = voucher_sequences.seq + 1
RETURNING seq`, key.CompanyID, branch, key.PeriodID, string(key.Type)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("vouchers: next sequence: %w", err)
	}
	return seq, nil
}
