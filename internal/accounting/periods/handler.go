package periods

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler serves period endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: shared.NewValidator()}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/status", h.setStatus)
}

type createRequest struct {
	CompanyID int64  `json:"company_id" validate:"required,gt=0"`
	Code      string `json:"code" validate:"required,max=16"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type statusRequest struct {
	Status   string `json:"status" validate:"required,oneof=OPEN CLOSED LOCKED"`
	Override bool   `json:"override"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companyID, err := shared.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.List(r.Context(), companyID)
	if err != nil {
		h.logger.Error("list periods", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, err := shared.ParseDate("start_date", req.StartDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	end, err := shared.ParseDate("end_date", req.EndDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Create(r.Context(), CreateInput{
		CompanyID: req.CompanyID,
		Code:      req.Code,
		StartDate: start,
		EndDate:   end,
		ActorID:   internalShared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req statusRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.SetStatus(r.Context(), StatusInput{
		ID:       id,
		Status:   PeriodStatus(req.Status),
		Override: req.Override,
		ActorID:  internalShared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}
