package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/shopspring/decimal"
)

// Sentinel errors, checked with errors.Is
var (
	// ErrInvalidRequest is returned for malformed input: quantity, payment method or contact.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidAccount is returned when a payment method is not one of the known buckets.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrForbidden is returned for blocked accounts and callers lacking the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrTransactionConflict is returned when the store aborted the transaction because a
	// concurrent transaction touched the same rows. The caller may retry.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrStorageUnavailable is returned when the store cannot be reached or fails mid-transaction.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// NotFoundError names the entity that could not be loaded
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Entity)
}

// InsufficientStockError reports the stock left on the product
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

// InsufficientFundsError reports how far the bucket is from covering the charge
type InsufficientFundsError struct {
	Available decimal.Decimal
	Required  decimal.Decimal
	Shortfall decimal.Decimal
}

func newInsufficientFunds(available, required decimal.Decimal) *InsufficientFundsError {
	return &InsufficientFundsError{
		Available: available,
		Required:  required,
		Shortfall: required.Sub(available),
	}
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s, shortfall %s",
		e.Available, e.Required, e.Shortfall)
}

// AccountNotInitializedError means a user has no bucket row for a known method.
// It points to a provisioning gap, not a user mistake.
type AccountNotInitializedError struct {
	UserID string
	Method models.PaymentMethod
}

func (e *AccountNotInitializedError) Error() string {
	return fmt.Sprintf("account %s of user %s is not initialized", e.Method, e.UserID)
}

// Postgres SQLSTATE codes for aborted concurrent transactions
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// classifyStoreError maps driver level failures onto the settlement taxonomy.
// Business errors pass through untouched.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrTransactionConflict, pqErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrStorageUnavailable, pqErr.Message)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if isBusinessError(err) {
		return err
	}

	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func isBusinessError(err error) bool {
	var (
		notFound    *NotFoundError
		stock       *InsufficientStockError
		funds       *InsufficientFundsError
		uninitiated *AccountNotInitializedError
	)
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrTransactionConflict) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.As(err, &notFound) ||
		errors.As(err, &stock) ||
		errors.As(err, &funds) ||
		errors.As(err, &uninitiated)
}

// ErrorKind returns the stable name of an error for responses, metrics and audit events
func ErrorKind(err error) string {
	var (
		notFound    *NotFoundError
		stock       *InsufficientStockError
		funds       *InsufficientFundsError
		uninitiated *AccountNotInitializedError
	)
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrInvalidAccount):
		return "invalid_account"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.As(err, &funds):
		return "insufficient_funds"
	case errors.As(err, &uninitiated):
		return "account_not_initialized"
	case errors.Is(err, ErrTransactionConflict):
		return "transaction_conflict"
	default:
		return "storage_unavailable"
	}
}
