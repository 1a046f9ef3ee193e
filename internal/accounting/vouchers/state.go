package vouchers

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// ErrInvalidTransition reports a transition absent from the state table.
var ErrInvalidTransition = fmt.Errorf("vouchers: invalid status transition: %w", httpx.ErrState)

var transitions = map[Status][]Status{
	StatusDraft:           {StatusSubmitted, StatusCancelled},
	StatusSubmitted:       {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:        {StatusPosted, StatusCancelled},
	StatusRejected:        {StatusSubmitted, StatusCancelled},
	StatusPosted:          {StatusReversed},
}

var actions = map[Status]string{
	StatusSubmitted:       "submit",
	StatusPendingApproval: "request approval for",
	StatusApproved:        "approve",
	StatusRejected:        "reject",
	StatusPosted:          "post",
	StatusReversed:        "reverse",
	StatusCancelled:       "cancel",
}

// Transition validates a status change for every voucher type.
func Transition(from, to Status) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Action names the operation that moves a voucher into status to.
func Action(to Status) string {
	if a, ok := actions[to]; ok {
		return a
	}
	return "change"
}

// Editable reports whether lines and header may still change.
func (s Status) Editable() bool {
	return s == StatusDraft
}

// Terminal reports whether no further transition exists.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// IsInvalidTransition reports whether err came from Transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
