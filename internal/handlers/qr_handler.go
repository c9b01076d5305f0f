package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/marketplace/internal/middleware"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/ruralpay/marketplace/internal/services"
)

// ReceiptCoder issues and resolves receipt QR codes
type ReceiptCoder interface {
	ReceiptQR(ctx context.Context, receipt *models.ReceiptView) (*services.ReceiptQR, error)
	ResolveReceiptQR(ctx context.Context, code string) (string, error)
}

type QRHandler struct {
	coder     ReceiptCoder
	ledger    Ledger
	validator *services.ValidationHelper
}

func NewQRHandler(coder ReceiptCoder, ledger Ledger) *QRHandler {
	return &QRHandler{
		coder:     coder,
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// ReceiptQR renders a receipt as a QR code
// @Summary Receipt QR code
// @Description Generate a QR code the buyer presents on delivery
// @Tags QR
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Success 200 {object} services.ReceiptQR
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{txId}/qr [get]
func (h *QRHandler) ReceiptQR(w http.ResponseWriter, r *http.Request) {
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

	qr, err := h.coder.ReceiptQR(r.Context(), receipt)
	if err != nil {
		WriteError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, qr)
}

// VerifyQR resolves a scanned receipt QR code
// @Summary Verify a receipt QR code
// @Description Resolve a scanned code to its receipt. Only parties to the transaction and admins may verify.
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Scanned code"
// @Success 200 {object} models.ReceiptView
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/qr/verify [post]
func (h *QRHandler) VerifyQR(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Code string `json:"code" validate:"required"`
	}
	if !services.DecodeJSONBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txID, err := h.coder.ResolveReceiptQR(r.Context(), req.Code)
	if err != nil {
		WriteError(w, err)
		return
	}

	receipt, err := h.ledger.Receipt(r.Context(), caller, txID)
	if err != nil {
		WriteError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, receipt)
}
