package shared

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Period statuses reused outside the periods package.
const (
	PeriodStatusOpen   = "OPEN"
	PeriodStatusClosed = "CLOSED"
	PeriodStatusLocked = "LOCKED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = fmt.Errorf("period transition invalid: %w", httpx.ErrState)

// ValidatePeriodTransition checks transitions according to policy.
// OPEN and CLOSED move freely between each other and into LOCKED; leaving
// LOCKED requires an override and lands in CLOSED.
func ValidatePeriodTransition(current, target string, hasOverride bool) error {
	if current == target {
		return nil
	}
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed || target == PeriodStatusLocked {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusOpen || target == PeriodStatusLocked {
			return nil
		}
	case PeriodStatusLocked:
		if target == PeriodStatusClosed && hasOverride {
			return nil
		}
	}
	return fmt.Errorf("%s -> %s: %w", current, target, ErrInvalidPeriodTransition)
}
