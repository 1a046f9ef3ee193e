package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// ValidationError reports malformed or policy-violating input.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

// Invalid builds a ValidationError for field violating rule.
func Invalid(field, rule, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "accounting: " + e.Message
	}
	return fmt.Sprintf("accounting: %s: %s", e.Field, e.Message)
}

// Is lets httpx map the error.
func (e *ValidationError) Is(target error) bool {
	return target == httpx.ErrValidation
}

// ProblemExtensions exposes the violated field and rule.
func (e *ValidationError) ProblemExtensions() map[string]any {
	return map[string]any{"field": e.Field, "rule": e.Rule}
}

// UnbalancedVoucherError is the validation failure raised when debits and
// credits differ. It unwraps to a *ValidationError.
type UnbalancedVoucherError struct {
	VoucherID   int64
	DebitTotal  decimal.Decimal
	CreditTotal decimal.Decimal
}

func (e *UnbalancedVoucherError) Error() string {
	return fmt.Sprintf("accounting: voucher %d unbalanced: debit %s credit %s",
		e.VoucherID, e.DebitTotal.StringFixed(2), e.CreditTotal.StringFixed(2))
}

// Unwrap exposes the generic validation failure.
func (e *UnbalancedVoucherError) Unwrap() error {
	return &ValidationError{Field: "lines", Rule: "balanced", Message: "debit total must equal credit total"}
}

// Is lets httpx map the error.
func (e *UnbalancedVoucherError) Is(target error) bool {
	return target == httpx.ErrUnprocessable
}

// Difference returns debit minus credit.
func (e *UnbalancedVoucherError) Difference() decimal.Decimal {
	return e.DebitTotal.Sub(e.CreditTotal)
}

// ProblemExtensions exposes both totals.
func (e *UnbalancedVoucherError) ProblemExtensions() map[string]any {
	return map[string]any{
		"debit_total":  e.DebitTotal.StringFixed(2),
		"credit_total": e.CreditTotal.StringFixed(2),
		"difference":   e.Difference().StringFixed(2),
	}
}

// StateError reports an operation invalid for the entity's lifecycle state.
type StateError struct {
	Entity string
	ID     int64
	Status string
	Action string
}

// InvalidState builds a StateError.
func InvalidState(entity string, id int64, status, action string) *StateError {
	return &StateError{Entity: entity, ID: id, Status: status, Action: action}
}

func (e *StateError) Error() string {
	return fmt.Sprintf("accounting: cannot %s %s %d in status %s", e.Action, e.Entity, e.ID, e.Status)
}

// Is lets httpx map the error.
func (e *StateError) Is(target error) bool {
	return target == httpx.ErrState
}

// ProblemExtensions exposes the current status.
func (e *StateError) ProblemExtensions() map[string]any {
	return map[string]any{"entity": e.Entity, "id": e.ID, "status": e.Status, "action": e.Action}
}

// ConflictError reports an entity that is still in use.
type ConflictError struct {
	Entity string
	ID     int64
	Reason string
	Count  int
	Amount *decimal.Decimal
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("accounting: %s %d conflict: %s", e.Entity, e.ID, e.Reason)
	if e.Count > 0 {
		msg += fmt.Sprintf(" (%d)", e.Count)
	}
	if e.Amount != nil {
		msg += " (" + e.Amount.StringFixed(2) + ")"
	}
	return msg
}

// Is lets httpx map the error.
func (e *ConflictError) Is(target error) bool {
	return target == httpx.ErrConflict
}

// ProblemExtensions exposes the resolution context.
func (e *ConflictError) ProblemExtensions() map[string]any {
	ext := map[string]any{"entity": e.Entity, "id": e.ID, "reason": e.Reason}
	if e.Count > 0 {
		ext["count"] = e.Count
	}
	if e.Amount != nil {
		ext["amount"] = e.Amount.StringFixed(2)
	}
	return ext
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

// NotFound builds a NotFoundError.
func NotFound(entity string, id int64) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("accounting: %s %d not found", e.Entity, e.ID)
}

// Is lets httpx map the error.
func (e *NotFoundError) Is(target error) bool {
	return target == httpx.ErrNotFound
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
