package accounting

import (
	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bankrec"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/vouchers"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
)

// Handler mounts the accounting sub-routers. Nil members are skipped.
type Handler struct {
	Periods  *periods.Handler
	Accounts *accounts.Handler
	Vouchers *vouchers.Handler
	Ledger   *ledger.Handler
	BankRec  *bankrec.Handler
	Audit    *audit.Handler
}

// MountRoutes registers HTTP routes for the accounting module.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	if h.Periods != nil {
		r.Route("/periods", h.Periods.MountRoutes)
	}
	if h.Accounts != nil {
		r.Route("/coa", h.Accounts.MountRoutes)
	}
	if h.Vouchers != nil {
		r.Route("/vouchers", h.Vouchers.MountRoutes)
	}
	if h.Ledger != nil {
		r.Route("/ledger", h.Ledger.MountRoutes)
	}
	if h.BankRec != nil {
		r.Route("/bank-reconciliations", h.BankRec.MountRoutes)
	}
	if h.Audit != nil {
		r.Route("/audit", h.Audit.MountRoutes)
	}
}
