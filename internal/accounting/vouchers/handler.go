package vouchers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler serves voucher endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: shared.NewValidator()}
}

// MountRoutes registers voucher routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/", h.updateHeader)
		r.Get("/balance", h.balance)
		r.Post("/lines", h.addLine)
		r.Delete("/lines/{lineNo}", h.removeLine)
		r.Post("/submit", h.simple(h.service.Submit))
		r.Post("/request-approval", h.simple(h.service.RequestApproval))
		r.Post("/approve", h.simple(h.service.Approve))
		r.Post("/post", h.simple(h.service.Post))
		r.Post("/reject", h.withReason(h.service.Reject, true))
		r.Post("/cancel", h.withReason(h.service.Cancel, false))
		r.Post("/reverse", h.reverse)
	})
}

type lineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description" validate:"max=255"`
}

type createRequest struct {
	CompanyID int64         `json:"company_id" validate:"required,gt=0"`
	BranchID  *int64        `json:"branch_id" validate:"omitempty,gt=0"`
	Type      string        `json:"type" validate:"required"`
	Date      string        `json:"date" validate:"required"`
	Narration string        `json:"narration" validate:"max=500"`
	Lines     []lineRequest `json:"lines" validate:"dive"`
}

type updateHeaderRequest struct {
	Date      *string `json:"date"`
	Narration *string `json:"narration" validate:"omitempty,max=500"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type reverseRequest struct {
	Memo string  `json:"memo" validate:"max=500"`
	Date *string `json:"date"`
}

type listResponse struct {
	Vouchers   []Voucher                 `json:"vouchers"`
	Pagination internalShared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companyID, err := shared.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	page, perPage := internalShared.PageFromQuery(q)
	f := ListFilter{CompanyID: companyID, Status: Status(q.Get("status")), Limit: perPage}
	if raw := q.Get("type"); raw != "" {
		if f.Type, err = ParseType(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if f.From, err = optionalDate("from", q.Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if f.To, err = optionalDate("to", q.Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	f.Offset = internalShared.NewPagination(page, perPage, 0).Offset()
	items, total, err := h.service.List(r.Context(), f)
	if err != nil {
		h.logger.Error("list vouchers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Vouchers: items, Pagination: internalShared.NewPagination(page, perPage, total)})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := shared.ParseDate("date", req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInput{
		CompanyID: req.CompanyID,
		BranchID:  req.BranchID,
		Type:      Type(req.Type),
		Date:      date,
		Narration: req.Narration,
		ActorID:   internalShared.ActorFromContext(r.Context()),
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, LineInput(l))
	}
	v, err := h.service.Create(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) updateHeader(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateHeaderRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := UpdateHeaderInput{ID: id, Narration: req.Narration, ActorID: internalShared.ActorFromContext(r.Context())}
	if req.Date != nil {
		if in.Date, err = optionalDate("date", *req.Date); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	v, err := h.service.UpdateHeader(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.BalanceCheck(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req lineRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.AddLine(r.Context(), id, internalShared.ActorFromContext(r.Context()), LineInput(req))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineNo, err := strconv.Atoi(chi.URLParam(r, "lineNo"))
	if err != nil || lineNo <= 0 {
		httpx.RespondError(w, shared.Invalid("lineNo", "id", "invalid line number"))
		return
	}
	if err := h.service.RemoveLine(r.Context(), id, lineNo, internalShared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) simple(fn func(ctx context.Context, voucherID, actorID int64) (Voucher, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := shared.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		v, err := fn(r.Context(), id, internalShared.ActorFromContext(r.Context()))
		if err != nil {
			h.logger.Debug("voucher action failed", slog.Int64("voucher_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, v)
	}
}

func (h *Handler) withReason(fn func(ctx context.Context, voucherID, actorID int64, reason string) (Voucher, error), required bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := shared.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req reasonRequest
		if err := shared.Decode(r, h.validate, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if required && req.Reason == "" {
			httpx.RespondError(w, shared.Invalid("reason", "required", "reason is required"))
			return
		}
		v, err := fn(r.Context(), id, internalShared.ActorFromContext(r.Context()), req.Reason)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, v)
	}
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := ReverseInput{VoucherID: id, ActorID: internalShared.ActorFromContext(r.Context()), Memo: req.Memo}
	if req.Date != nil {
		if in.Date, err = optionalDate("date", *req.Date); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	v, err := h.service.Reverse(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func optionalDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := shared.ParseDate(field, raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
