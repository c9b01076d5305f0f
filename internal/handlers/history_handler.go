package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/marketplace/internal/middleware"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/ruralpay/marketplace/internal/services"
)

// Ledger is the read side of settled purchases
type Ledger interface {
	Purchases(ctx context.Context, buyerID string) (*services.PurchaseHistory, error)
	Sales(ctx context.Context, sellerID string) (*services.SalesHistory, error)
	All(ctx context.Context, caller models.Caller) (*services.LedgerOverview, error)
	Receipt(ctx context.Context, caller models.Caller, txID string) (*models.ReceiptView, error)
}

type HistoryHandler struct {
	ledger Ledger
}

func NewHistoryHandler(ledger Ledger) *HistoryHandler {
	return &HistoryHandler{ledger: ledger}
}

// Purchases lists the caller's purchases
// @Summary Purchase history
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.PurchaseHistory
// @Router /transactions/purchases [get]
func (h *HistoryHandler) Purchases(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	history, err := h.ledger.Purchases(r.Context(), caller.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, history)
}

// Sales lists the caller's sales
// @Summary Sales history
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.SalesHistory
// @Router /transactions/sales [get]
func (h *HistoryHandler) Sales(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	history, err := h.ledger.Sales(r.Context(), caller.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, history)
}

// All lists every transaction
// @Summary All transactions
// @Description Every receipt with revenue and platform fee totals. Admin only.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.LedgerOverview
// @Failure 403 {object} services.ErrorResponse
// @Router /transactions [get]
func (h *HistoryHandler) All(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	overview, err := h.ledger.All(r.Context(), caller)
	if err != nil {
		WriteError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, overview)
}

// Receipt returns one transaction
// @Summary Get a receipt
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.ReceiptView
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{txId} [get]
func (h *HistoryHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	receipt, err := h.ledger.Receipt(r.Context(), caller, chi.URLParam(r, "txId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, receipt)
}
