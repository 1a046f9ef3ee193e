package bankrec

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// IdempotencyModule scopes import idempotency keys.
const IdempotencyModule = "BANKREC_IMPORT"

// IdempotencyPort guards repeated imports.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler serves bank reconciliation endpoints.
type Handler struct {
	service     *Service
	idempotency IdempotencyPort
	logger      *slog.Logger
	validate    *validator.Validate
}

// NewHandler builds a Handler instance. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, idempotency: idempotency, logger: logger, validate: shared.NewValidator()}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Get("/summary", h.summary)
		r.Get("/outstanding", h.outstanding)
		r.Post("/complete", h.complete)
		r.Post("/import", h.importRows)
		r.Get("/lines", h.lines)
		r.Post("/lines", h.addLine)
		r.Put("/lines/{lineID}", h.updateLine)
		r.Delete("/lines/{lineID}", h.deleteLine)
		r.Post("/lines/{lineID}/cleared", h.setCleared)
	})
}

type createRequest struct {
	BankAccountID int64            `json:"bank_account_id" validate:"required,gt=0"`
	From          string           `json:"from" validate:"required"`
	To            string           `json:"to" validate:"required"`
	EndingBalance *decimal.Decimal `json:"ending_balance"`
}

type lineRequest struct {
	Date        string          `json:"date" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Cleared     bool            `json:"cleared"`
	VoucherID   *int64          `json:"voucher_id" validate:"omitempty,gt=0"`
	Description string          `json:"description" validate:"max=255"`
	Reference   string          `json:"reference" validate:"max=64"`
}

func (req lineRequest) input() (LineInput, error) {
	date, err := shared.ParseDate("date", req.Date)
	if err != nil {
		return LineInput{}, err
	}
	return LineInput{
		Date:        date,
		Amount:      req.Amount,
		Cleared:     req.Cleared,
		VoucherID:   req.VoucherID,
		Description: req.Description,
		Reference:   req.Reference,
	}, nil
}

type clearedRequest struct {
	Cleared bool `json:"cleared"`
}

type importRequest struct {
	Rows           [][]string     `json:"rows" validate:"required,min=1"`
	Mapping        map[string]int `json:"mapping"`
	HasHeader      bool           `json:"has_header"`
	SkipDuplicates bool           `json:"skip_duplicates"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	accountID, err := shared.QueryInt64(r, "bank_account_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	headers, err := h.service.List(r.Context(), accountID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, headers)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := shared.ParseDate("from", req.From)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := shared.ParseDate("to", req.To)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	header, err := h.service.CreateHeader(r.Context(), CreateInput{
		BankAccountID: req.BankAccountID,
		From:          from,
		To:            to,
		EndingBalance: req.EndingBalance,
		ActorID:       internalShared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, header)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	header, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, header)
}

func (h *Handler) lines(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.service.Lines(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
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
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.AddLine(r.Context(), id, internalShared.ActorFromContext(r.Context()), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineID, err := shared.PathID(r, "lineID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req lineRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.UpdateLine(r.Context(), id, lineID, internalShared.ActorFromContext(r.Context()), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) deleteLine(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineID, err := shared.PathID(r, "lineID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteLine(r.Context(), id, lineID, internalShared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setCleared(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineID, err := shared.PathID(r, "lineID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req clearedRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.SetCleared(r.Context(), id, lineID, internalShared.ActorFromContext(r.Context()), req.Cleared)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sum, err := h.service.Summary(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.service.Outstanding(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	header, err := h.service.Complete(r.Context(), id, internalShared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, header)
}

func (h *Handler) importRows(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req importRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := ImportInput{
		HeaderID:       id,
		ActorID:        internalShared.ActorFromContext(r.Context()),
		Rows:           req.Rows,
		HasHeader:      req.HasHeader,
		SkipDuplicates: req.SkipDuplicates,
	}
	if len(req.Mapping) > 0 {
		in.Mapping = Mapping{}
		for name, idx := range req.Mapping {
			in.Mapping[Field(strings.ToLower(strings.TrimSpace(name)))] = idx
		}
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, IdempotencyModule); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	result, err := h.service.Import(r.Context(), in)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Delete(context.WithoutCancel(r.Context()), key, IdempotencyModule); derr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
