package shared

import "fmt"

// VoucherLockKey builds the redis key guarding posting work on a voucher.
func VoucherLockKey(voucherID int64) string {
	return fmt.Sprintf("finance:voucher:%d:post", voucherID)
}

// ReconciliationLockKey builds the redis key guarding a reconciliation header.
func ReconciliationLockKey(headerID int64) string {
	return fmt.Sprintf("finance:bankrec:%d:lock", headerID)
}
