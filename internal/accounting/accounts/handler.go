package accounts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler serves chart of accounts endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: shared.NewValidator()}
}

// MountRoutes registers chart of accounts routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/tree", h.tree)
	r.Post("/seed", h.seed)
	r.Route("/groups", func(r chi.Router) {
		r.Get("/", h.listGroups)
		r.Post("/", h.createGroup)
		r.Post("/{id}/move", h.moveGroup)
		r.Post("/{id}/active", h.setActive(KindGroup))
	})
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.createAccount)
		r.Get("/{id}", h.getAccount)
		r.Delete("/{id}", h.deleteAccount)
		r.Post("/{id}/move", h.moveAccount)
		r.Post("/{id}/active", h.setActive(KindAccount))
	})
}

type createGroupRequest struct {
	CompanyID int64  `json:"company_id" validate:"required,gt=0"`
	Code      string `json:"code" validate:"required,max=32"`
	Name      string `json:"name" validate:"required,max=128"`
	Nature    string `json:"nature" validate:"required"`
	ParentID  *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

type createAccountRequest struct {
	CompanyID  int64  `json:"company_id" validate:"required,gt=0"`
	Code       string `json:"code" validate:"required,max=32"`
	Name       string `json:"name" validate:"required,max=128"`
	GroupID    int64  `json:"group_id" validate:"required,gt=0"`
	Currency   string `json:"currency" validate:"omitempty,len=3"`
	IsPostable bool   `json:"is_postable"`
	IsControl  bool   `json:"is_control"`
}

type moveRequest struct {
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	GroupID  int64  `json:"group_id" validate:"omitempty,gt=0"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

// List returns the accounts of a company.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	companyID, err := shared.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	accounts, err := h.service.List(r.Context(), companyID)
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	companyID, err := shared.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	groups, err := h.service.ListGroups(r.Context(), companyID)
	if err != nil {
		h.logger.Error("list groups", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, groups)
}

func (h *Handler) tree(w http.ResponseWriter, r *http.Request) {
	companyID, err := shared.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	nodes, err := h.service.Tree(r.Context(), companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nodes)
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	nature, err := shared.ParseNature(req.Nature)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	g, err := h.service.CreateGroup(r.Context(), CreateGroupInput{
		CompanyID: req.CompanyID,
		Code:      req.Code,
		Name:      req.Name,
		Nature:    nature,
		ParentID:  req.ParentID,
		ActorID:   internalShared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

func (h *Handler) moveGroup(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req moveRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	g, err := h.service.MoveGroup(r.Context(), id, req.ParentID, internalShared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.CreateAccount(r.Context(), CreateAccountInput{
		CompanyID:  req.CompanyID,
		Code:       req.Code,
		Name:       req.Name,
		GroupID:    req.GroupID,
		Currency:   req.Currency,
		IsPostable: req.IsPostable,
		IsControl:  req.IsControl,
		ActorID:    internalShared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) moveAccount(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req moveRequest
	if err := shared.Decode(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.GroupID == 0 {
		httpx.RespondError(w, shared.Invalid("group_id", "required", "group_id is required"))
		return
	}
	a, err := h.service.MoveAccount(r.Context(), id, req.GroupID, internalShared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteAccount(r.Context(), id, internalShared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setActive(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := shared.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req activeRequest
		if err := shared.Decode(r, h.validate, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		err = h.service.SetActive(r.Context(), SetActiveInput{
			Kind:    kind,
			ID:      id,
			Active:  req.Active,
			ActorID: internalShared.ActorFromContext(r.Context()),
		})
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// seed applies a YAML template posted as the request body.
func (h *Handler) seed(w http.ResponseWriter, r *http.Request) {
	companyID, err := shared.QueryInt64(r, "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tpl, err := LoadTemplate(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		if !shared.IsValidation(err) {
			err = shared.Invalid("body", "yaml", "%v", err)
		}
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Seed(r.Context(), companyID, internalShared.ActorFromContext(r.Context()), tpl)
	if err != nil {
		h.logger.Warn("seed chart of accounts", slog.Int64("company_id", companyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
