package fx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/platform/httpx"
)

// Handler exposes the rate log.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes for exchange rates.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/fx/rates", h.handleRecord)
	r.Get("/fx/rates", h.handleHistory)
	r.Get("/fx/rates/latest", h.handleLatest)
}

type recordRequest struct {
	From   string          `json:"from_currency" validate:"required,len=3"`
	To     string          `json:"to_currency" validate:"required,len=3"`
	Buy    decimal.Decimal `json:"buy_rate"`
	Sell   decimal.Decimal `json:"sell_rate"`
	Date   string          `json:"date" validate:"required,datetime=2006-01-02"`
	Source string          `json:"source" validate:"omitempty,max=64"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	rate, err := h.service.Record(r.Context(), RecordInput{From: req.From, To: req.To, Buy: req.Buy, Sell: req.Sell, Date: date, Source: req.Source})
	if err != nil {
		h.fail(w, "record rate", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rate)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := httpx.QueryDate(q.Get("date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf := time.Now().UTC()
	if date != nil {
		asOf = *date
	}
	rate, err := h.service.LatestRate(r.Context(), q.Get("from"), q.Get("to"), asOf)
	if err != nil {
		h.fail(w, "latest rate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rate": rate, "side": h.service.Side(), "applied": rate.Pick(h.service.Side())})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := httpx.QueryInt(q.Get("limit"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rates, err := h.service.History(r.Context(), q.Get("from"), q.Get("to"), int(limit))
	if err != nil {
		h.fail(w, "rate history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rates": rates})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.Status(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
