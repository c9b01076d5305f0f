package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruralpay/marketplace/internal/config"
	"github.com/ruralpay/marketplace/internal/metrics"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lockProduct   = "SELECT id, owner_id, name, price, stock FROM products WHERE id = \\$1 FOR UPDATE"
	selectBuyer   = "SELECT is_blocked FROM users WHERE id = \\$1"
	sellerExists  = "SELECT EXISTS\\(SELECT 1 FROM users WHERE id = \\$1\\)"
	updateStock   = "UPDATE products SET stock = \\$1, updated_at = \\$2 WHERE id = \\$3"
	insertReceipt = "INSERT INTO transactions"
)

func newTestSettlement(t *testing.T) (*SettlementService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	service := NewSettlementService(db, NewAccountService(db), config.SettlementConfig{
		FeeRate: decimal.RequireFromString("0.02"),
	})
	return service, mock
}

func productRow(price string, stock int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_id", "name", "price", "stock"}).
		AddRow(testProductID, testSellerID, "Clay pot", price, stock)
}

func purchase(qty int, method models.PaymentMethod) PurchaseRequest {
	return PurchaseRequest{
		ProductID:       testProductID,
		Quantity:        qty,
		PaymentMethod:   method,
		DeliveryContact: "+2250700000000",
	}
}

// expectSettled queues every statement of a purchase that commits
func expectSettled(mock sqlmock.Sqlmock, price string, stock, qty int, balance, newBalance, subtotal, fee, total string, sellerFound bool) *sqlmock.ExpectedCommit {
	mock.ExpectBegin()
	mock.ExpectQuery(lockProduct).WithArgs(testProductID).WillReturnRows(productRow(price, stock))
	mock.ExpectQuery(selectBuyer).WithArgs(testBuyerID).WillReturnRows(sqlmock.NewRows([]string{"is_blocked"}).AddRow(false))
	mock.ExpectQuery(selectBucket).WithArgs(testBuyerID, "card").WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(balance))
	mock.ExpectExec(updateBucket).
		WithArgs(decimalArg(newBalance), sqlmock.AnyArg(), testBuyerID, "card").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(sellerExists).WithArgs(testSellerID).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(sellerFound))
	if sellerFound {
		mock.ExpectExec(insertBucket).
			WithArgs(testSellerID, decimalArg("0"), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(creditBucket).
			WithArgs(decimalArg(subtotal), sqlmock.AnyArg(), testSellerID, "card").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("200200"))
	}
	mock.ExpectExec(updateStock).
		WithArgs(stock-qty, sqlmock.AnyArg(), testProductID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertReceipt).
		WithArgs(sqlmock.AnyArg(), testBuyerID, testProductID, testSellerID, qty,
			decimalArg(price), decimalArg(subtotal), decimalArg(fee), decimalArg(total),
			"card", "+2250700000000", models.PaymentSucceeded, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	return mock.ExpectCommit()
}

// expectDebitAndCredit queues a card purchase at 100 up to and including the seller credit
func expectDebitAndCredit(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(lockProduct).WithArgs(testProductID).WillReturnRows(productRow("100", 5))
	mock.ExpectQuery(selectBuyer).WithArgs(testBuyerID).WillReturnRows(sqlmock.NewRows([]string{"is_blocked"}).AddRow(false))
	mock.ExpectQuery(selectBucket).WithArgs(testBuyerID, "card").WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("1000"))
	mock.ExpectExec(updateBucket).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(sellerExists).WithArgs(testSellerID).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(insertBucket).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(creditBucket).WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testSellerID, "card").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("200200"))
}

func TestSettlementService_Pricing(t *testing.T) {
	service, _ := newTestSettlement(t)

	subtotal, fee, total := service.Pricing(decimal.NewFromInt(100), 2)
	assert.True(t, decimal.NewFromInt(200).Equal(subtotal))
	assert.True(t, decimal.NewFromInt(4).Equal(fee))
	assert.True(t, decimal.NewFromInt(204).Equal(total))

	subtotal, fee, total = service.Pricing(decimal.RequireFromString("19.99"), 3)
	assert.True(t, decimal.RequireFromString("59.97").Equal(subtotal))
	assert.True(t, decimal.RequireFromString("1.1994").Equal(fee))
	assert.True(t, subtotal.Add(fee).Equal(total))
}

func TestSettlementService_Purchase(t *testing.T) {
	ctx := context.Background()

	t.Run("successful purchase settles buyer, seller, stock and receipt", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		expectSettled(mock, "100", 5, 2, "1000", "796", "200", "4", "204", true)

		result, err := service.Purchase(ctx, buyer(), purchase(2, models.MethodCard))
		require.NoError(t, err)
		assert.NotEmpty(t, result.TransactionID)
		assert.Equal(t, "Clay pot", result.ProductName)
		assert.Equal(t, 2, result.Quantity)
		assert.True(t, decimal.NewFromInt(200).Equal(result.Subtotal))
		assert.True(t, decimal.NewFromInt(4).Equal(result.Fee))
		assert.True(t, decimal.NewFromInt(204).Equal(result.Total))
		assert.True(t, decimal.NewFromInt(796).Equal(result.NewBalance))
		assert.Equal(t, models.MethodCard, result.PaymentMethod)
		assert.False(t, result.Timestamp.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("last unit can be bought", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		expectSettled(mock, "100", 1, 1, "1000", "898", "100", "2", "102", true)

		result, err := service.Purchase(ctx, buyer(), purchase(1, models.MethodCard))
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(898).Equal(result.NewBalance))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing seller still settles without a credit", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		expectSettled(mock, "100", 5, 2, "1000", "796", "200", "4", "204", false)
		skipped := testutil.ToFloat64(metrics.SellerCreditSkipped)

		result, err := service.Purchase(ctx, buyer(), purchase(2, models.MethodCard))
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(796).Equal(result.NewBalance))
		assert.Equal(t, skipped+1, testutil.ToFloat64(metrics.SellerCreditSkipped))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("seller buying their own listing by card sees the credited balance", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockProduct).WithArgs(testProductID).WillReturnRows(
			sqlmock.NewRows([]string{"id", "owner_id", "name", "price", "stock"}).
				AddRow(testProductID, testBuyerID, "Clay pot", "100", 5))
		mock.ExpectQuery(selectBuyer).WithArgs(testBuyerID).WillReturnRows(sqlmock.NewRows([]string{"is_blocked"}).AddRow(false))
		mock.ExpectQuery(selectBucket).WithArgs(testBuyerID, "card").WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("1000"))
		mock.ExpectExec(updateBucket).
			WithArgs(decimalArg("796"), sqlmock.AnyArg(), testBuyerID, "card").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(sellerExists).WithArgs(testBuyerID).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec(insertBucket).
			WithArgs(testBuyerID, decimalArg("0"), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(creditBucket).
			WithArgs(decimalArg("200"), sqlmock.AnyArg(), testBuyerID, "card").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("996"))
		mock.ExpectExec(updateStock).WithArgs(3, sqlmock.AnyArg(), testProductID).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertReceipt).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.Purchase(ctx, buyer(), purchase(2, models.MethodCard))
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(996).Equal(result.NewBalance), "got %s", result.NewBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stock update failure rolls back the debit and credit", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		expectDebitAndCredit(mock)
		mock.ExpectExec(updateStock).WithArgs(3, sqlmock.AnyArg(), testProductID).WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		result, err := service.Purchase(ctx, buyer(), purchase(2, models.MethodCard))
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("receipt insert failure rolls back every write", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		expectDebitAndCredit(mock)
		mock.ExpectExec(updateStock).WithArgs(3, sqlmock.AnyArg(), testProductID).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertReceipt).WillReturnError(&pq.Error{Code: "23514", Message: "check constraint violated"})
		mock.ExpectRollback()

		result, err := service.Purchase(ctx, buyer(), purchase(2, models.MethodCard))
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient stock rolls back", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockProduct).WithArgs(testProductID).WillReturnRows(productRow("100", 1))
		mock.ExpectRollback()
		rejected := testutil.ToFloat64(metrics.SettlementsTotal.WithLabelValues("insufficient_stock"))

		_, err := service.Purchase(ctx, buyer(), purchase(2, models.MethodCard))
		assert.Equal(t, rejected+1, testutil.ToFloat64(metrics.SettlementsTotal.WithLabelValues("insufficient_stock")))

		var stock *InsufficientStockError
		require.True(t, errors.As(err, &stock))
		assert.Equal(t, 1, stock.Available)
		assert.Equal(t, 2, stock.Requested)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds rolls back with the shortfall", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockProduct).WithArgs(testProductID).WillReturnRows(productRow("100", 5))
		mock.ExpectQuery(selectBuyer).WithArgs(testBuyerID).WillReturnRows(sqlmock.NewRows([]string{"is_blocked"}).AddRow(false))
		mock.ExpectQuery(selectBucket).WithArgs(testBuyerID, "card").WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("100"))
		mock.ExpectRollback()

		_, err := service.Purchase(ctx, buyer(), purchase(1, models.MethodCard))

		var funds *InsufficientFundsError
		require.True(t, errors.As(err, &funds))
		assert.True(t, decimal.NewFromInt(100).Equal(funds.Available))
		assert.True(t, decimal.NewFromInt(102).Equal(funds.Required))
		assert.True(t, decimal.NewFromInt(2).Equal(funds.Shortfall))
		assert.Equal(t, "insufficient_funds", ErrorKind(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown product", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockProduct).WithArgs(testProductID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "price", "stock"}))
		mock.ExpectRollback()

		_, err := service.Purchase(ctx, buyer(), purchase(1, models.MethodCard))

		var notFound *NotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "product", notFound.Entity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed product id is not found without a transaction", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		req := purchase(1, models.MethodCard)
		req.ProductID = "not-a-uuid"

		_, err := service.Purchase(ctx, buyer(), req)
		assert.Equal(t, "not_found", ErrorKind(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("buyer removed before settlement", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockProduct).WithArgs(testProductID).WillReturnRows(productRow("100", 5))
		mock.ExpectQuery(selectBuyer).WithArgs(testBuyerID).WillReturnRows(sqlmock.NewRows([]string{"is_blocked"}))
		mock.ExpectRollback()

		_, err := service.Purchase(ctx, buyer(), purchase(1, models.MethodCard))

		var notFound *NotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "buyer", notFound.Entity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("buyer blocked in the store", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockProduct).WithArgs(testProductID).WillReturnRows(productRow("100", 5))
		mock.ExpectQuery(selectBuyer).WithArgs(testBuyerID).WillReturnRows(sqlmock.NewRows([]string{"is_blocked"}).AddRow(true))
		mock.ExpectRollback()

		_, err := service.Purchase(ctx, buyer(), purchase(1, models.MethodCard))
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blocked caller is rejected before the store", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		caller := buyer()
		caller.IsBlocked = true

		_, err := service.Purchase(ctx, caller, purchase(1, models.MethodCard))
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("uninitialized bucket", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockProduct).WithArgs(testProductID).WillReturnRows(productRow("100", 5))
		mock.ExpectQuery(selectBuyer).WithArgs(testBuyerID).WillReturnRows(sqlmock.NewRows([]string{"is_blocked"}).AddRow(false))
		mock.ExpectQuery(selectBucket).WithArgs(testBuyerID, "mobileMoneyB").WillReturnRows(sqlmock.NewRows([]string{"amount"}))
		mock.ExpectRollback()

		_, err := service.Purchase(ctx, buyer(), purchase(1, models.MethodMobileMoneyB))

		var notInitialized *AccountNotInitializedError
		require.True(t, errors.As(err, &notInitialized))
		assert.Equal(t, models.MethodMobileMoneyB, notInitialized.Method)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serialization failure surfaces as a conflict", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockProduct).WithArgs(testProductID).
			WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access due to concurrent update"})
		mock.ExpectRollback()

		_, err := service.Purchase(ctx, buyer(), purchase(1, models.MethodCard))
		assert.ErrorIs(t, err, ErrTransactionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deadlock at commit surfaces as a conflict", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		expectSettled(mock, "100", 5, 2, "1000", "796", "200", "4", "204", true).
			WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})

		result, err := service.Purchase(ctx, buyer(), purchase(2, models.MethodCard))
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrTransactionConflict)
		assert.Equal(t, "transaction_conflict", ErrorKind(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure means storage unavailable", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		mock.ExpectBegin().WillReturnError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))

		_, err := service.Purchase(ctx, buyer(), purchase(1, models.MethodCard))
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("write failure mid transaction means storage unavailable", func(t *testing.T) {
		service, mock := newTestSettlement(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockProduct).WithArgs(testProductID).WillReturnRows(productRow("100", 5))
		mock.ExpectQuery(selectBuyer).WithArgs(testBuyerID).WillReturnRows(sqlmock.NewRows([]string{"is_blocked"}).AddRow(false))
		mock.ExpectQuery(selectBucket).WithArgs(testBuyerID, "card").WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("1000"))
		mock.ExpectExec(updateBucket).WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		_, err := service.Purchase(ctx, buyer(), purchase(1, models.MethodCard))
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementService_PurchaseValidation(t *testing.T) {
	service, mock := newTestSettlement(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		edit  func(*PurchaseRequest)
		field string
	}{
		{"zero quantity", func(r *PurchaseRequest) { r.Quantity = 0 }, "quantity"},
		{"negative quantity", func(r *PurchaseRequest) { r.Quantity = -3 }, "quantity"},
		{"unknown payment method", func(r *PurchaseRequest) { r.PaymentMethod = "bitcoin" }, "paymentMethod"},
		{"blank delivery contact", func(r *PurchaseRequest) { r.DeliveryContact = "   " }, "deliveryContact"},
		{"missing product", func(r *PurchaseRequest) { r.ProductID = "" }, "productId"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := purchase(1, models.MethodCard)
			tc.edit(&req)

			_, err := service.Purchase(ctx, buyer(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)

			var invalid *InvalidRequestError
			require.True(t, errors.As(err, &invalid))
			assert.Contains(t, invalid.Fields, tc.field)
		})
	}

	// validation never opens a transaction
	assert.NoError(t, mock.ExpectationsWereMet())
}
