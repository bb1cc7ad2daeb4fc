package budget

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	appshared "github.com/odyssey-erp/ledger/internal/shared"
)

// Handler exposes budgets and the budget comparison report.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

// MountRoutes registers HTTP routes for budgets.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/budgets", h.handleCreate)
	r.Get("/budgets/{id}", h.handleGet)
	r.Get("/reports/budget-comparison", h.handleComparison)
}

type createRequest struct {
	Year           int             `json:"year" validate:"required,gte=1900,lte=9999"`
	Month          *int            `json:"month" validate:"omitempty,gte=1,lte=12"`
	Type           string          `json:"type" validate:"omitempty,max=32"`
	CostCenterID   *int64          `json:"cost_center_id" validate:"omitempty,gt=0"`
	ProjectID      *int64          `json:"project_id" validate:"omitempty,gt=0"`
	AccountCode    string          `json:"account_code" validate:"required"`
	BudgetedAmount decimal.Decimal `json:"budgeted_amount"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.engine.CreateBudget(r.Context(), CreateInput{
		Year:           req.Year,
		Month:          req.Month,
		Type:           req.Type,
		CostCenterID:   req.CostCenterID,
		ProjectID:      req.ProjectID,
		AccountCode:    req.AccountCode,
		BudgetedAmount: req.BudgetedAmount,
		CreatedBy:      appshared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "create budget", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.engine.BudgetLine(r.Context(), id)
	if err != nil {
		h.fail(w, "get budget", err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) handleComparison(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := httpx.QueryInt(q.Get("year"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ComparisonFilter{Year: int(year)}
	if raw := q.Get("month"); raw != "" {
		month, err := httpx.QueryInt(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		m := int(month)
		filter.Month = &m
	}
	if raw := q.Get("cost_center_id"); raw != "" {
		id, err := httpx.QueryInt(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.CostCenterID = &id
	}
	if raw := q.Get("project_id"); raw != "" {
		id, err := httpx.QueryInt(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.ProjectID = &id
	}
	report, err := h.engine.Comparison(r.Context(), filter)
	if err != nil {
		h.fail(w, "budget comparison", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.Status(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
