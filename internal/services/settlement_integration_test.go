package services

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/ruralpay/marketplace/internal/config"
	"github.com/ruralpay/marketplace/internal/database"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to the database named by MARKETPLACE_TEST_DATABASE_URL
func openTestStore(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("MARKETPLACE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MARKETPLACE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.Open(ctx, &database.DBConfig{URL: url, MaxOpenConns: 10, MaxIdleConns: 10})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(ctx, db))
	return db
}

func seedUser(t *testing.T, db *sql.DB, role models.Role, balance int64) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.New().String()

	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, company_name, company_description)
		VALUES ($1, $2, $3, 'x', $4, 'Acme Goods', 'Testing')`,
		id, "user "+id[:8], id+"@example.com", string(role))
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = NewAccountService(db).Provision(ctx, tx, id, decimal.NewFromInt(balance))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func seedProduct(t *testing.T, db *sql.DB, ownerID string, price int64, stock int) string {
	t.Helper()
	id := uuid.New().String()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO products (id, owner_id, name, description, price, stock, category)
		VALUES ($1, $2, 'Clay pot', 'Hand-thrown', $3, $4, 'Home')`,
		id, ownerID, price, stock)
	require.NoError(t, err)
	return id
}

func cardBalance(t *testing.T, db *sql.DB, userID string) decimal.Decimal {
	t.Helper()
	var amount decimal.Decimal
	require.NoError(t, db.QueryRow(`SELECT amount FROM balances WHERE user_id = $1 AND method = 'card'`, userID).Scan(&amount))
	return amount
}

func TestSettlementIntegration_ConcurrentPurchasesOfLastUnit(t *testing.T) {
	db := openTestStore(t)

	sellerID := seedUser(t, db, models.RoleSeller, 0)
	buyerA := seedUser(t, db, models.RoleBuyer, 1000)
	buyerB := seedUser(t, db, models.RoleBuyer, 1000)
	productID := seedProduct(t, db, sellerID, 100, 1)

	service := NewSettlementService(db, NewAccountService(db), config.SettlementConfig{FeeRate: decimal.RequireFromString("0.02")})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, buyerID := range []string{buyerA, buyerB} {
		wg.Add(1)
		go func(buyerID string) {
			defer wg.Done()
			_, err := service.Purchase(context.Background(), models.Caller{UserID: buyerID, Role: models.RoleBuyer}, PurchaseRequest{
				ProductID:       productID,
				Quantity:        1,
				PaymentMethod:   models.MethodCard,
				DeliveryContact: "+2250700000000",
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(buyerID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var stock *InsufficientStockError
		assert.True(t, errors.As(err, &stock) || errors.Is(err, ErrTransactionConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	var stock int
	require.NoError(t, db.QueryRow(`SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock))
	assert.Equal(t, 0, stock)

	// exactly one buyer paid 102 and the seller got the 100 subtotal
	spent := decimal.NewFromInt(2000).Sub(cardBalance(t, db, buyerA)).Sub(cardBalance(t, db, buyerB))
	assert.True(t, decimal.NewFromInt(102).Equal(spent), spent.String())
	assert.True(t, decimal.NewFromInt(100).Equal(cardBalance(t, db, sellerID)))

	var receipts int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE product_id = $1`, productID).Scan(&receipts))
	assert.Equal(t, 1, receipts)
}

func TestSettlementIntegration_ConcurrentPurchasesShareOneBucket(t *testing.T) {
	db := openTestStore(t)

	sellerID := seedUser(t, db, models.RoleSeller, 0)
	buyerID := seedUser(t, db, models.RoleBuyer, 150)
	productID := seedProduct(t, db, sellerID, 100, 10)

	service := NewSettlementService(db, NewAccountService(db), config.SettlementConfig{FeeRate: decimal.RequireFromString("0.02")})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = service.Purchase(context.Background(), models.Caller{UserID: buyerID, Role: models.RoleBuyer}, PurchaseRequest{
				ProductID:       productID,
				Quantity:        1,
				PaymentMethod:   models.MethodCard,
				DeliveryContact: "+2250700000000",
			})
		}(i)
	}
	wg.Wait()

	// 150 covers one purchase of 102, never two
	balance := cardBalance(t, db, buyerID)
	assert.True(t, decimal.NewFromInt(48).Equal(balance), balance.String())
	assert.False(t, balance.IsNegative())

	var stock int
	require.NoError(t, db.QueryRow(`SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock))
	assert.Equal(t, 9, stock)
}
