package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ruralpay/marketplace/internal/services"
)

// StatusFor maps a service error onto its HTTP status
func StatusFor(err error) int {
	switch services.ErrorKind(err) {
	case "invalid_request", "invalid_account":
		return http.StatusBadRequest
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "insufficient_stock", "transaction_conflict":
		return http.StatusConflict
	case "insufficient_funds":
		return http.StatusPaymentRequired
	case "account_not_initialized":
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

// WriteError sends err as an ErrorResponse carrying its kind and whatever figures the kind exposes
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := services.ErrorResponse{
		Error: err.Error(),
		Kind:  services.ErrorKind(err),
	}

	var (
		invalid *services.InvalidRequestError
		stock   *services.InsufficientStockError
		funds   *services.InsufficientFundsError
	)
	switch {
	case errors.As(err, &invalid):
		resp.Error = "Validation failed"
		resp.Details = invalid.Fields
	case errors.As(err, &stock):
		resp.Error = "Insufficient stock"
		resp.Details = map[string]string{
			"available": strconv.Itoa(stock.Available),
			"requested": strconv.Itoa(stock.Requested),
		}
	case errors.As(err, &funds):
		resp.Error = "Insufficient funds"
		resp.Details = map[string]string{
			"available": funds.Available.String(),
			"required":  funds.Required.String(),
			"shortfall": funds.Shortfall.String(),
		}
	}

	// store internals stay in the log
	if status >= http.StatusInternalServerError {
		log.Printf("[HTTP] %s: %v", resp.Kind, err)
		resp.Error = http.StatusText(status)
	}

	services.SendJSON(w, status, resp)
}
