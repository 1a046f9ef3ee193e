// Package fx converts foreign currency amounts into the company base
// currency using stored exchange rates.
package fx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// RateProvider resolves the rate that converts one unit of from into to.
type RateProvider interface {
	Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error)
}

// MissingRateError indicates no quote exists for the pair on or before the date.
type MissingRateError struct {
	From string
	To   string
	Date time.Time
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("fx: missing rate %s/%s on %s", e.From, e.To, e.Date.Format(shared.DateLayout))
}

// Is lets httpx map the error.
func (e *MissingRateError) Is(target error) bool {
	return target == httpx.ErrValidation
}

// ProblemExtensions exposes the pair.
func (e *MissingRateError) ProblemExtensions() map[string]any {
	return map[string]any{"from": e.From, "to": e.To, "date": e.Date.Format(shared.DateLayout)}
}

// Normalize upper-cases and trims a currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Convert applies rate to amount and rounds to the ledger scale.
func Convert(amount, rate decimal.Decimal) decimal.Decimal {
	return shared.Round(amount.Mul(rate))
}

// StaticProvider serves rates from memory, keyed by "FROMTO".
type StaticProvider map[string]decimal.Decimal

// Rate implements RateProvider. Same-currency pairs return one and a missing
// pair falls back to the inverse of the opposite pair.
func (p StaticProvider) Rate(_ context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	from, to = Normalize(from), Normalize(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := p[from+to]; ok {
		return r, nil
	}
	if r, ok := p[to+from]; ok && !r.IsZero() {
		return decimal.NewFromInt(1).DivRound(r, 10), nil
	}
	return decimal.Zero, &MissingRateError{From: from, To: to, Date: date}
}
