package accounting

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	appshared "github.com/odyssey-erp/ledger/internal/shared"
)

// Handler wires chart, period and journal endpoints.
type Handler struct {
	logger    *slog.Logger
	registry  *Registry
	periods   *PeriodManager
	ledger    *Ledger
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, registry *Registry, periods *PeriodManager, ledger *Ledger) *Handler {
	return &Handler{logger: logger, registry: registry, periods: periods, ledger: ledger, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.handleChart)
	r.Post("/accounts", h.handleCreateAccount)
	r.Get("/accounts/{code}/subtree", h.handleSubtree)
	r.Post("/accounts/{code}/deactivate", h.handleDeactivate)
	r.Get("/cost-centers", h.handleListCostCenters)
	r.Post("/cost-centers", h.handleCreateCostCenter)

	r.Get("/periods", h.handleListPeriods)
	r.Post("/periods", h.handleOpenPeriod)
	r.Get("/periods/{id}/trial-balance", h.handleTrialBalance)
	r.Post("/periods/{id}/close", h.handleClosePeriod)

	r.Get("/journals", h.handleListJournals)
	r.Post("/journals", h.handleCreateJournal)
	r.Get("/journals/{id}", h.handleGetJournal)
	r.Post("/journals/{id}/post", h.handlePostJournal)
	r.Post("/journals/{id}/void", h.handleVoidJournal)
	r.Post("/journals/{id}/reverse", h.handleReverseJournal)
}

type createAccountRequest struct {
	Code             string `json:"code" validate:"required,max=32"`
	Name             string `json:"name" validate:"required,max=200"`
	Type             string `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY INCOME EXPENSE COST MEMO"`
	ParentCode       string `json:"parent_code" validate:"omitempty,max=32"`
	Nature           string `json:"nature" validate:"required,oneof=DEBIT CREDIT"`
	AcceptsMovements bool   `json:"accepts_movements"`
}

type createCostCenterRequest struct {
	Code      string `json:"code" validate:"required,max=32"`
	Name      string `json:"name" validate:"required,max=200"`
	Type      string `json:"type" validate:"required"`
	ProjectID *int64 `json:"project_id" validate:"omitempty,gt=0"`
}

type openPeriodRequest struct {
	Year  int `json:"year" validate:"required,gte=1900,lte=9999"`
	Month int `json:"month" validate:"required,gte=1,lte=13"`
}

type lineRequest struct {
	AccountCode       string          `json:"account_code" validate:"required"`
	Debit             decimal.Decimal `json:"debit"`
	Credit            decimal.Decimal `json:"credit"`
	CostCenterID      *int64          `json:"cost_center_id" validate:"omitempty,gt=0"`
	DocumentReference string          `json:"document_reference"`
	Description       string          `json:"description"`
}

type createJournalRequest struct {
	PeriodID    int64         `json:"period_id" validate:"required,gt=0"`
	Date        string        `json:"date" validate:"required,datetime=2006-01-02"`
	Description string        `json:"description" validate:"required"`
	Type        string        `json:"type" validate:"required,oneof=OPENING OPERATION ADJUSTMENT RECLASSIFICATION"`
	Lines       []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type reverseRequest struct {
	PeriodID int64  `json:"period_id" validate:"required,gt=0"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Memo     string `json:"memo"`
}

func (h *Handler) handleChart(w http.ResponseWriter, r *http.Request) {
	chart, err := h.registry.Chart(r.Context())
	if err != nil {
		h.fail(w, "load chart", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": chart.Tree(), "count": chart.Len()})
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.registry.CreateAccount(r.Context(), CreateAccountInput{
		Code:             req.Code,
		Name:             req.Name,
		Type:             AccountType(req.Type),
		ParentCode:       req.ParentCode,
		Nature:           Nature(req.Nature),
		AcceptsMovements: req.AcceptsMovements,
	})
	if err != nil {
		h.fail(w, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) handleSubtree(w http.ResponseWriter, r *http.Request) {
	seq, err := h.registry.Subtree(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, "subtree", err)
		return
	}
	accounts := []Account{}
	for account := range seq {
		accounts = append(accounts, account)
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	account, err := h.registry.DeactivateAccount(r.Context(), chi.URLParam(r, "code"), appshared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "deactivate account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) handleListCostCenters(w http.ResponseWriter, r *http.Request) {
	centers, err := h.registry.ListCostCenters(r.Context())
	if err != nil {
		h.fail(w, "list cost centers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, centers)
}

func (h *Handler) handleCreateCostCenter(w http.ResponseWriter, r *http.Request) {
	var req createCostCenterRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cc, err := h.registry.CreateCostCenter(r.Context(), CreateCostCenterInput(req))
	if err != nil {
		h.fail(w, "create cost center", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cc)
}

func (h *Handler) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.periods.ListPeriods(r.Context())
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	httpx.JSON(w, http.StatusOK, periods)
}

func (h *Handler) handleOpenPeriod(w http.ResponseWriter, r *http.Request) {
	var req openPeriodRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.periods.OpenPeriod(r.Context(), req.Year, req.Month, appshared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "open period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tb, err := h.periods.TrialBalance(r.Context(), id)
	if err != nil {
		h.fail(w, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.periods.ClosePeriod(r.Context(), id, appshared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "close period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleListJournals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := JournalFilter{
		Type:         EntryType(q.Get("type")),
		Status:       EntryStatus(q.Get("status")),
		SourceModule: q.Get("source_module"),
		AccountCode:  q.Get("account"),
	}
	var err error
	if filter.PeriodID, err = httpx.QueryInt(q.Get("period_id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.From, err = httpx.QueryDate(q.Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = httpx.QueryDate(q.Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter.Limit, filter.Offset = limit, offset
	filter = filter.Normalize()
	entries, err := h.ledger.ListEntries(r.Context(), filter)
	if err != nil {
		h.fail(w, "list journals", err)
		return
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": appshared.NewPagination(filter.Limit, filter.Offset, len(entries), -1),
	})
}

func (h *Handler) handleCreateJournal(w http.ResponseWriter, r *http.Request) {
	var req createJournalRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	in := CreateEntryInput{
		PeriodID:    req.PeriodID,
		Date:        date,
		Description: req.Description,
		Type:        EntryType(req.Type),
		CreatedBy:   appshared.ActorFromContext(r.Context()),
		Lines:       make([]LineInput, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, LineInput(line))
	}
	entry, err := h.ledger.CreateEntry(r.Context(), in)
	if err != nil {
		h.fail(w, "create journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.ledger.GetEntry(r.Context(), id)
	if err != nil {
		h.fail(w, "get journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handlePostJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.ledger.PostEntry(r.Context(), id, appshared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "post journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleVoidJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req voidRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.ledger.VoidEntry(r.Context(), VoidInput{EntryID: id, ActorID: appshared.ActorFromContext(r.Context()), Reason: req.Reason})
	if err != nil {
		h.fail(w, "void journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleReverseJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	entry, err := h.ledger.ReverseEntry(r.Context(), ReverseInput{
		EntryID:  id,
		ActorID:  appshared.ActorFromContext(r.Context()),
		PeriodID: req.PeriodID,
		Date:     date,
		Memo:     req.Memo,
	})
	if err != nil {
		h.fail(w, "reverse journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.Status(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
