package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	selectBucket = "SELECT amount FROM balances WHERE user_id = \\$1 AND method = \\$2 FOR UPDATE"
	updateBucket = "UPDATE balances SET amount = \\$1, updated_at = \\$2 WHERE user_id = \\$3 AND method = \\$4"
	insertBucket = "INSERT INTO balances \\(user_id, method, amount, updated_at\\)"
	creditBucket = "UPDATE balances SET amount = amount \\+ \\$1"
)

func TestAccountService_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)
	ctx := context.Background()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	t.Run("existing bucket", func(t *testing.T) {
		mock.ExpectQuery(selectBucket).
			WithArgs(testBuyerID, "card").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("1000"))

		balance, err := service.GetBalance(ctx, tx, testBuyerID, models.MethodCard)
		assert.NoError(t, err)
		assert.True(t, decimal.NewFromInt(1000).Equal(balance))
	})

	t.Run("missing bucket", func(t *testing.T) {
		mock.ExpectQuery(selectBucket).
			WithArgs(testBuyerID, "mobileMoneyB").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}))

		_, err := service.GetBalance(ctx, tx, testBuyerID, models.MethodMobileMoneyB)

		var notInitialized *AccountNotInitializedError
		require.True(t, errors.As(err, &notInitialized))
		assert.Equal(t, models.MethodMobileMoneyB, notInitialized.Method)
		assert.Equal(t, testBuyerID, notInitialized.UserID)
	})

	t.Run("unknown method never reaches the store", func(t *testing.T) {
		_, err := service.GetBalance(ctx, tx, testBuyerID, models.PaymentMethod("paypal"))
		assert.ErrorIs(t, err, ErrInvalidAccount)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_Debit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)
	ctx := context.Background()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	t.Run("sufficient balance", func(t *testing.T) {
		mock.ExpectQuery(selectBucket).
			WithArgs(testBuyerID, "mobileMoneyA").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("500"))
		mock.ExpectExec(updateBucket).
			WithArgs(decimalArg("398"), sqlmock.AnyArg(), testBuyerID, "mobileMoneyA").
			WillReturnResult(sqlmock.NewResult(0, 1))

		balance, err := service.Debit(ctx, tx, testBuyerID, models.MethodMobileMoneyA, decimal.NewFromInt(102))
		assert.NoError(t, err)
		assert.True(t, decimal.NewFromInt(398).Equal(balance))
	})

	t.Run("debit of the whole balance leaves zero", func(t *testing.T) {
		mock.ExpectQuery(selectBucket).
			WithArgs(testBuyerID, "card").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("102"))
		mock.ExpectExec(updateBucket).
			WithArgs(decimalArg("0"), sqlmock.AnyArg(), testBuyerID, "card").
			WillReturnResult(sqlmock.NewResult(0, 1))

		balance, err := service.Debit(ctx, tx, testBuyerID, models.MethodCard, decimal.NewFromInt(102))
		assert.NoError(t, err)
		assert.True(t, balance.IsZero())
	})

	t.Run("insufficient balance writes nothing", func(t *testing.T) {
		mock.ExpectQuery(selectBucket).
			WithArgs(testBuyerID, "card").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("100"))

		_, err := service.Debit(ctx, tx, testBuyerID, models.MethodCard, decimal.NewFromInt(102))

		var funds *InsufficientFundsError
		require.True(t, errors.As(err, &funds))
		assert.True(t, decimal.NewFromInt(100).Equal(funds.Available))
		assert.True(t, decimal.NewFromInt(102).Equal(funds.Required))
		assert.True(t, decimal.NewFromInt(2).Equal(funds.Shortfall))
	})

	t.Run("negative amount", func(t *testing.T) {
		_, err := service.Debit(ctx, tx, testBuyerID, models.MethodCard, decimal.NewFromInt(-1))
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)
	ctx := context.Background()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	t.Run("credit creates missing buckets at zero first", func(t *testing.T) {
		mock.ExpectExec(insertBucket).
			WithArgs(testSellerID, decimalArg("0"), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectQuery(creditBucket).
			WithArgs(decimalArg("200"), sqlmock.AnyArg(), testSellerID, "card").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("200"))

		balance, err := service.Credit(ctx, tx, testSellerID, models.MethodCard, decimal.NewFromInt(200))
		assert.NoError(t, err)
		assert.True(t, decimal.NewFromInt(200).Equal(balance))
	})

	t.Run("credit adds to an existing bucket", func(t *testing.T) {
		mock.ExpectExec(insertBucket).
			WithArgs(testSellerID, decimalArg("0"), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(creditBucket).
			WithArgs(decimalArg("50"), sqlmock.AnyArg(), testSellerID, "card").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("250"))

		balance, err := service.Credit(ctx, tx, testSellerID, models.MethodCard, decimal.NewFromInt(50))
		assert.NoError(t, err)
		assert.True(t, decimal.NewFromInt(250).Equal(balance))
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := service.Credit(ctx, tx, testSellerID, models.PaymentMethod("cash"), decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrInvalidAccount)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_Provision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectExec(insertBucket).
		WithArgs(testBuyerID, decimalArg("200000"), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	created, err := service.Provision(context.Background(), tx, testBuyerID, decimal.NewFromInt(200000))
	assert.NoError(t, err)
	assert.Equal(t, int64(3), created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_Balances(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	mock.ExpectQuery("SELECT method, amount FROM balances WHERE user_id = \\$1").
		WithArgs(testBuyerID).
		WillReturnRows(sqlmock.NewRows([]string{"method", "amount"}).
			AddRow("card", "796").
			AddRow("mobileMoneyA", "200000"))

	balances, err := service.Balances(context.Background(), testBuyerID)
	assert.NoError(t, err)
	assert.Len(t, balances, 2)
	assert.True(t, decimal.NewFromInt(796).Equal(balances[models.MethodCard]))
	assert.True(t, decimal.NewFromInt(200000).Equal(balances[models.MethodMobileMoneyA]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_ProvisionMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	mock.ExpectQuery("SELECT u.id FROM users u LEFT JOIN balances b").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testBuyerID).AddRow(testSellerID))

	mock.ExpectBegin()
	mock.ExpectExec(insertBucket).
		WithArgs(testBuyerID, decimalArg("200000"), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(insertBucket).
		WithArgs(testSellerID, decimalArg("200000"), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	report, err := service.ProvisionMissing(context.Background(), decimal.NewFromInt(200000))
	assert.NoError(t, err)
	assert.Equal(t, 2, report.Users)
	assert.Equal(t, int64(4), report.Buckets)
	assert.NoError(t, mock.ExpectationsWereMet())
}
