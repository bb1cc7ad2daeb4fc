package reports

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/ledger/internal/platform/httpx"
)

// Handler exposes financial statements over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the statements route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/periods/{id}/statements", h.handleStatements)
}

func (h *Handler) handleStatements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	statements, err := h.service.Statements(r.Context(), id)
	if err != nil {
		if status, _ := httpx.Status(err); status >= http.StatusInternalServerError {
			h.logger.Error("financial statements", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, statements)
}
