package ledger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler serves ledger report endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/gl", h.generalLedger)
	r.Get("/trial-balance", h.trialBalance)
	r.Get("/pl", h.profitAndLoss)
	r.Get("/bs", h.balanceSheet)
	r.Get("/integrity", h.integrity)
}

func dateRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := shared.QueryDate(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := shared.QueryDate(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func (h *Handler) generalLedger(w http.ResponseWriter, r *http.Request) {
	accountID, err := shared.QueryInt64(r, "account_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	gl, err := h.service.GeneralLedger(r.Context(), accountID, from, to)
	if err != nil {
		h.logger.Error("general ledger", slog.Int64("account_id", accountID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gl)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	companyID, err := shared.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if r.URL.Query().Get("grouped") == "true" {
		grouped, err := h.service.GroupedTrialBalance(r.Context(), companyID, from, to)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, grouped)
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), companyID, from, to)
	if err != nil {
		h.logger.Error("trial balance", slog.Int64("company_id", companyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	companyID, err := shared.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pl, err := h.service.ProfitAndLoss(r.Context(), companyID, from, to)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	companyID, err := shared.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := shared.QueryDate(r, "as_of")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bs, err := h.service.BalanceSheet(r.Context(), companyID, asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	companyID, err := shared.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.CheckIntegrity(r.Context(), companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
