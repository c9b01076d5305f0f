package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/ruralpay/marketplace/internal/middleware"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/ruralpay/marketplace/internal/services"
)

// Settler settles one purchase for an authenticated caller
type Settler interface {
	Purchase(ctx context.Context, caller models.Caller, req services.PurchaseRequest) (*services.PurchaseResult, error)
}

type PurchaseHandler struct {
	settler Settler
}

func NewPurchaseHandler(settler Settler) *PurchaseHandler {
	return &PurchaseHandler{settler: settler}
}

// Purchase buys a product
// @Summary Purchase a product
// @Description Debit the buyer's chosen bucket by subtotal plus fee, credit the seller's card bucket by the subtotal, decrement stock and record the receipt, all in one transaction
// @Tags transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.PurchaseRequest true "Purchase request"
// @Success 201 {object} services.PurchaseResult
// @Failure 400 {object} services.ErrorResponse "Invalid request"
// @Failure 402 {object} services.ErrorResponse "Insufficient funds"
// @Failure 403 {object} services.ErrorResponse "Account blocked"
// @Failure 404 {object} services.ErrorResponse "Product not found"
// @Failure 409 {object} services.ErrorResponse "Insufficient stock or concurrent update"
// @Failure 503 {object} services.ErrorResponse "Storage unavailable"
// @Router /transactions/purchase [post]
func (h *PurchaseHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.PurchaseRequest
	if !services.DecodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.settler.Purchase(r.Context(), caller, req)
	if err != nil {
		log.Printf("[PURCHASE] Rejected purchase of %s by %s: %s", req.ProductID, caller.UserID, services.ErrorKind(err))
		WriteError(w, err)
		return
	}

	log.Printf("[PURCHASE] Transaction %s settled for %s", result.TransactionID, caller.UserID)
	services.SendJSON(w, http.StatusCreated, result)
}
