package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	rateLimit  = 30
	rateWindow = time.Minute
)

// Handler serves the audit trail endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds an audit Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the timeline and approval history routes.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Use(httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "audit query rate exceeded")
		}),
	))
	r.Get("/", h.timeline)
	r.Get("/approvals/{module}/{ref}", h.approvals)
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := internalShared.ActorFromContext(r.Context()); actor > 0 {
		return "actor:" + strconv.FormatInt(actor, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		if !shared.IsValidation(err) {
			h.logger.Error("audit timeline", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
	ref, err := uuid.Parse(chi.URLParam(r, "ref"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("ref", "uuid", "ref must be a UUID"))
		return
	}
	steps, err := h.service.Approvals(r.Context(), chi.URLParam(r, "module"), ref)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, steps)
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	var f TimelineFilters
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err := shared.ParseDate("from", raw)
		if err != nil {
			return f, err
		}
		f.From = from
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		to, err := shared.ParseDate("to", raw)
		if err != nil {
			return f, err
		}
		f.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if raw := strings.TrimSpace(q.Get("actor_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, shared.Invalid("actor_id", "gt=0", "actor_id must be a positive integer")
		}
		f.ActorID = id
	}
	f.Entity = q.Get("entity")
	f.EntityID = q.Get("entity_id")
	f.Action = q.Get("action")
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	return f, nil
}
