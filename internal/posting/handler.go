package posting

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	appshared "github.com/odyssey-erp/ledger/internal/shared"
)

// Handler exposes the posting gateway to business modules.
type Handler struct {
	logger    *slog.Logger
	gateway   *Gateway
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, gateway *Gateway) *Handler {
	return &Handler{logger: logger, gateway: gateway, validator: validator.New()}
}

// MountRoutes registers HTTP routes for postings.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/postings", h.handlePost)
}

type invoiceRequest struct {
	Number      string          `json:"number" validate:"required,max=64"`
	ClientID    string          `json:"client_id" validate:"required"`
	ClientName  string          `json:"client_name"`
	BillingType string          `json:"billing_type" validate:"required,oneof=ONE_TIME RECURRING PROJECT"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	DueDate     string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

type expenseRequest struct {
	Number       string          `json:"number" validate:"required,max=64"`
	ProviderID   string          `json:"provider_id" validate:"required"`
	ProviderName string          `json:"provider_name"`
	Category     string          `json:"category" validate:"required"`
	Project      bool            `json:"project"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	Paid         bool            `json:"paid"`
	DueDate      string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

type payrollRequest struct {
	Reference    string                     `json:"reference" validate:"required"`
	Gross        decimal.Decimal            `json:"gross"`
	Withholdings map[string]decimal.Decimal `json:"withholdings"`
}

type bankRequest struct {
	Reference   string          `json:"reference" validate:"required"`
	Direction   string          `json:"direction" validate:"required,oneof=IN OUT"`
	Counterpart string          `json:"counterpart" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	SettlesItem *uuid.UUID      `json:"settles_item"`
}

type lineRequest struct {
	AccountCode       string          `json:"account_code" validate:"required"`
	Debit             decimal.Decimal `json:"debit"`
	Credit            decimal.Decimal `json:"credit"`
	CostCenterID      *int64          `json:"cost_center_id" validate:"omitempty,gt=0"`
	DocumentReference string          `json:"document_reference"`
	Description       string          `json:"description"`
}

type postRequest struct {
	Module       string          `json:"module" validate:"required,oneof=INVOICE EXPENSE PAYROLL BANK MANUAL"`
	SourceID     string          `json:"source_id" validate:"required,max=128"`
	Date         string          `json:"date" validate:"required,datetime=2006-01-02"`
	Description  string          `json:"description" validate:"required"`
	Type         string          `json:"type" validate:"omitempty,oneof=OPENING OPERATION ADJUSTMENT RECLASSIFICATION"`
	Currency     string          `json:"currency" validate:"omitempty,len=3"`
	CostCenterID *int64          `json:"cost_center_id" validate:"omitempty,gt=0"`
	Invoice      *invoiceRequest `json:"invoice"`
	Expense      *expenseRequest `json:"expense"`
	Payroll      *payrollRequest `json:"payroll"`
	Bank         *bankRequest    `json:"bank"`
	Lines        []lineRequest   `json:"lines" validate:"omitempty,dive"`
}

func (req postRequest) document(actor string) Document {
	date, _ := time.Parse(time.DateOnly, req.Date)
	doc := Document{
		Module:       Module(req.Module),
		SourceID:     req.SourceID,
		Date:         date,
		Description:  req.Description,
		Type:         accounting.EntryType(req.Type),
		Currency:     req.Currency,
		CostCenterID: req.CostCenterID,
		CreatedBy:    actor,
	}
	if inv := req.Invoice; inv != nil {
		doc.Invoice = &Invoice{Number: inv.Number, ClientID: inv.ClientID, ClientName: inv.ClientName, BillingType: inv.BillingType, Subtotal: inv.Subtotal, Tax: inv.Tax, DueDate: parseDay(inv.DueDate)}
	}
	if exp := req.Expense; exp != nil {
		doc.Expense = &Expense{Number: exp.Number, ProviderID: exp.ProviderID, ProviderName: exp.ProviderName, Category: exp.Category, Project: exp.Project, Subtotal: exp.Subtotal, Tax: exp.Tax, Paid: exp.Paid, DueDate: parseDay(exp.DueDate)}
	}
	if run := req.Payroll; run != nil {
		doc.Payroll = &Payroll{Reference: run.Reference, Gross: run.Gross, Withholdings: run.Withholdings}
	}
	if tx := req.Bank; tx != nil {
		doc.Bank = &BankTransaction{Reference: tx.Reference, Direction: tx.Direction, Counterpart: tx.Counterpart, Amount: tx.Amount, SettlesItem: tx.SettlesItem}
	}
	for _, line := range req.Lines {
		doc.Lines = append(doc.Lines, accounting.LineInput{
			AccountCode:       line.AccountCode,
			Debit:             line.Debit,
			Credit:            line.Credit,
			CostCenterID:      line.CostCenterID,
			DocumentReference: line.DocumentReference,
			Description:       line.Description,
		})
	}
	return doc
}

func parseDay(raw string) time.Time {
	t, _ := time.Parse(time.DateOnly, raw)
	return t
}

// handlePost answers 201 for a new entry and 200 with duplicate=true when the
// source document was already booked.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.gateway.PostSourceDocument(r.Context(), req.document(appshared.ActorFromContext(r.Context())))
	if errors.Is(err, shared.ErrDuplicateSource) {
		httpx.JSON(w, http.StatusOK, result)
		return
	}
	if err != nil {
		if status, _ := httpx.Status(err); status >= http.StatusInternalServerError {
			h.logger.Error("post source document", slog.String("module", req.Module), slog.String("source_id", req.SourceID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}
