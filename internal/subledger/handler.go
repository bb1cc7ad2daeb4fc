package subledger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	appshared "github.com/odyssey-erp/ledger/internal/shared"
)

// Handler exposes receivables, payables and aging.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the subledger.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/subledger/items", h.handleList)
	r.Post("/subledger/items", h.handleRecord)
	r.Get("/subledger/items/{id}", h.handleGet)
	r.Get("/subledger/items/{id}/payments", h.handlePayments)
	r.Post("/subledger/items/{id}/payments", h.handleApplyPayment)
	r.Post("/subledger/items/{id}/write-off", h.handleWriteOff)
	r.Get("/reports/aging", h.handleAging)
}

type recordRequest struct {
	Kind            string          `json:"kind" validate:"required,oneof=RECEIVABLE PAYABLE"`
	CounterpartID   string          `json:"counterpart_id" validate:"required"`
	CounterpartName string          `json:"counterpart_name"`
	DocumentType    string          `json:"document_type" validate:"required"`
	DocumentNumber  string          `json:"document_number" validate:"required"`
	IssueDate       string          `json:"issue_date" validate:"required,datetime=2006-01-02"`
	DueDate         string          `json:"due_date" validate:"required,datetime=2006-01-02"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required,len=3"`
	JournalEntryID  *int64          `json:"journal_entry_id" validate:"omitempty,gt=0"`
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    string          `json:"paid_at" validate:"omitempty,datetime=2006-01-02"`
	Reference string          `json:"reference" validate:"omitempty,max=120"`
}

type writeOffRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := httpx.QueryInt(q.Get("limit"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	offset, err := httpx.QueryInt(q.Get("offset"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ItemFilter{Kind: Kind(q.Get("kind")), Status: Status(q.Get("status")), CounterpartID: q.Get("counterpart_id"), Limit: int(limit), Offset: int(offset)}
	items, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		h.fail(w, "list subledger items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	issue, _ := time.Parse(time.DateOnly, req.IssueDate)
	due, _ := time.Parse(time.DateOnly, req.DueDate)
	item, created, err := h.service.Record(r.Context(), RecordInput{
		Kind:            Kind(req.Kind),
		CounterpartID:   req.CounterpartID,
		CounterpartName: req.CounterpartName,
		DocumentType:    req.DocumentType,
		DocumentNumber:  req.DocumentNumber,
		IssueDate:       issue,
		DueDate:         due,
		Amount:          req.Amount,
		Currency:        req.Currency,
		JournalEntryID:  req.JournalEntryID,
	})
	if err != nil {
		h.fail(w, "record subledger item", err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	httpx.JSON(w, status, item)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, "get subledger item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handlePayments(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payments, err := h.service.Payments(r.Context(), id)
	if err != nil {
		h.fail(w, "list payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) handleApplyPayment(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	paidAt, _ := httpx.QueryDate(req.PaidAt)
	in := PaymentInput{ItemID: id, Amount: req.Amount, Reference: req.Reference, RecordedBy: appshared.ActorFromContext(r.Context())}
	if paidAt != nil {
		in.PaidAt = *paidAt
	}
	item, err := h.service.ApplyPayment(r.Context(), in)
	if err != nil {
		h.fail(w, "apply payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleWriteOff(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req writeOffRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.WriteOff(r.Context(), id, appshared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, "write off", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleAging(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.QueryDate(r.URL.Query().Get("as_of"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var date time.Time
	if asOf != nil {
		date = *asOf
	}
	report, err := h.service.AgingReport(r.Context(), date)
	if err != nil {
		h.fail(w, "aging report", err)
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

func itemID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, shared.Validationf("invalid item id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}
