package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/marketplace/internal/audit"
	"github.com/ruralpay/marketplace/internal/config"
	"github.com/ruralpay/marketplace/internal/metrics"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/shopspring/decimal"
)

// PurchaseRequest is one buy order for a single product
type PurchaseRequest struct {
	ProductID       string               `json:"productId" validate:"required" example:"8f14e45f-ceea-4a67-9c2e-1f0c2d6a1b3e"`
	Quantity        int                  `json:"quantity" validate:"gte=1" example:"2"`
	PaymentMethod   models.PaymentMethod `json:"paymentMethod" validate:"required,payment_method" example:"card"`
	DeliveryContact string               `json:"deliveryContact" validate:"required,notblank,max=200" example:"+2250700000000"`
}

// PurchaseResult is returned once the purchase has been committed
type PurchaseResult struct {
	TransactionID   string               `json:"transactionId"`
	ProductName     string               `json:"productName"`
	Quantity        int                  `json:"quantity"`
	Subtotal        decimal.Decimal      `json:"subtotal"`
	Fee             decimal.Decimal      `json:"fee"`
	Total           decimal.Decimal      `json:"total"`
	PaymentMethod   models.PaymentMethod `json:"paymentMethod"`
	DeliveryContact string               `json:"deliveryContact"`
	Timestamp       time.Time            `json:"timestamp"`
	NewBalance      decimal.Decimal      `json:"newBalance"`
}

// SettlementService applies a purchase to buyer, seller, product and ledger as one
// database transaction. It keeps no state between calls.
type SettlementService struct {
	db        *sql.DB
	accounts  *AccountService
	audit     *audit.Logger
	validator *ValidationHelper
	feeRate   decimal.Decimal
}

func NewSettlementService(db *sql.DB, accounts *AccountService, cfg config.SettlementConfig) *SettlementService {
	return &SettlementService{
		db:        db,
		accounts:  accounts,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		feeRate:   cfg.FeeRate,
	}
}

// Pricing splits the charge of qty units at price into subtotal, fee and total
func (s *SettlementService) Pricing(price decimal.Decimal, qty int) (subtotal, fee, total decimal.Decimal) {
	subtotal = price.Mul(decimal.NewFromInt(int64(qty)))
	fee = subtotal.Mul(s.feeRate)
	total = subtotal.Add(fee)
	return subtotal, fee, total
}

// Purchase settles req for the authenticated caller. Either every write commits or none does.
// Conflicts with concurrent purchases surface as ErrTransactionConflict and are not retried here.
func (s *SettlementService) Purchase(ctx context.Context, caller models.Caller, req PurchaseRequest) (result *PurchaseResult, err error) {
	start := time.Now()
	defer func() {
		outcome := ErrorKind(err)
		metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
		metrics.SettlementDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		if err != nil {
			s.audit.LogRejected(caller.UserID, req.ProductID, outcome, err)
		}
	}()

	req.DeliveryContact = strings.TrimSpace(req.DeliveryContact)
	if err := s.validator.ValidateRequest(&req); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(req.ProductID); err != nil {
		return nil, &NotFoundError{Entity: "product"}
	}
	if caller.IsBlocked {
		return nil, fmt.Errorf("%w: account is blocked", ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to begin transaction: %v", err)
		return nil, fmt.Errorf("%w: begin: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	receipt, productName, newBalance, sellerCredited, err := s.settleTx(ctx, tx, caller.UserID, req)
	if err != nil {
		return nil, classifyStoreError(err)
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[SETTLEMENT] Failed to commit purchase of %s by %s: %v", req.ProductID, caller.UserID, err)
		return nil, classifyStoreError(err)
	}

	metrics.SettledVolume.WithLabelValues(string(receipt.PaymentMethod)).Add(receipt.Total.InexactFloat64())
	metrics.PlatformFees.Add(receipt.Fee.InexactFloat64())
	if !sellerCredited {
		metrics.SellerCreditSkipped.Inc()
	}
	s.audit.LogPurchase(receipt.ID, receipt.BuyerID, receipt.SellerID, receipt.ProductID, receipt.Quantity, receipt.Total)

	return &PurchaseResult{
		TransactionID:   receipt.ID,
		ProductName:     productName,
		Quantity:        receipt.Quantity,
		Subtotal:        receipt.Subtotal,
		Fee:             receipt.Fee,
		Total:           receipt.Total,
		PaymentMethod:   receipt.PaymentMethod,
		DeliveryContact: receipt.DeliveryContact,
		Timestamp:       receipt.CreatedAt,
		NewBalance:      newBalance,
	}, nil
}

// settleTx issues every read and write of the purchase on tx. It never commits.
func (s *SettlementService) settleTx(ctx context.Context, tx *sql.Tx, buyerID string, req PurchaseRequest) (*models.Transaction, string, decimal.Decimal, bool, error) {
	product, err := s.lockProduct(ctx, tx, req.ProductID)
	if err != nil {
		return nil, "", decimal.Zero, false, err
	}

	if product.Stock < req.Quantity {
		return nil, "", decimal.Zero, false, &InsufficientStockError{Available: product.Stock, Requested: req.Quantity}
	}

	subtotal, fee, total := s.Pricing(product.Price, req.Quantity)

	if err := s.checkBuyer(ctx, tx, buyerID); err != nil {
		return nil, "", decimal.Zero, false, err
	}

	newBalance, err := s.accounts.Debit(ctx, tx, buyerID, req.PaymentMethod, total)
	if err != nil {
		return nil, "", decimal.Zero, false, err
	}

	sellerCredited, sellerBalance, err := s.creditSeller(ctx, tx, product.OwnerID, subtotal)
	if err != nil {
		return nil, "", decimal.Zero, false, err
	}
	// buying your own listing with card pays the subtotal back into the debited bucket
	if sellerCredited && product.OwnerID == buyerID && req.PaymentMethod == models.MethodCard {
		newBalance = sellerBalance
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = $1, updated_at = $2
		WHERE id = $3`,
		product.Stock-req.Quantity, time.Now(), product.ID); err != nil {
		return nil, "", decimal.Zero, false, err
	}

	receipt := &models.Transaction{
		ID:              uuid.New().String(),
		BuyerID:         buyerID,
		ProductID:       product.ID,
		SellerID:        product.OwnerID,
		Quantity:        req.Quantity,
		UnitPrice:       product.Price,
		Subtotal:        subtotal,
		Fee:             fee,
		Total:           total,
		PaymentMethod:   req.PaymentMethod,
		DeliveryContact: req.DeliveryContact,
		PaymentStatus:   models.PaymentSucceeded,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.insertReceiptTx(ctx, tx, receipt); err != nil {
		return nil, "", decimal.Zero, false, err
	}

	return receipt, product.Name, newBalance, sellerCredited, nil
}

func (s *SettlementService) lockProduct(ctx context.Context, tx *sql.Tx, productID string) (*models.Product, error) {
	var product models.Product
	err := tx.QueryRowContext(ctx, `
		SELECT id, owner_id, name, price, stock
		FROM products
		WHERE id = $1
		FOR UPDATE`, productID).Scan(&product.ID, &product.OwnerID, &product.Name, &product.Price, &product.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "product"}
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *SettlementService) checkBuyer(ctx context.Context, tx *sql.Tx, buyerID string) error {
	var isBlocked bool
	err := tx.QueryRowContext(ctx, `SELECT is_blocked FROM users WHERE id = $1 FOR SHARE`, buyerID).Scan(&isBlocked)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Entity: "buyer"}
	}
	if err != nil {
		return err
	}
	if isBlocked {
		return fmt.Errorf("%w: account is blocked", ErrForbidden)
	}
	return nil
}

// creditSeller pays the subtotal into the owner's card bucket. The fee stays with the platform.
// A missing owner is skipped and the purchase still settles; it reports whether a credit happened
// and the card balance it produced.
func (s *SettlementService) creditSeller(ctx context.Context, tx *sql.Tx, sellerID string, subtotal decimal.Decimal) (bool, decimal.Decimal, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, sellerID).Scan(&exists); err != nil {
		return false, decimal.Zero, err
	}
	if !exists {
		log.Printf("[SETTLEMENT] Seller %s not found, skipping credit of %s", sellerID, subtotal.String())
		return false, decimal.Zero, nil
	}

	balance, err := s.accounts.Credit(ctx, tx, sellerID, models.MethodCard, subtotal)
	if err != nil {
		return false, decimal.Zero, err
	}
	return true, balance, nil
}

func (s *SettlementService) insertReceiptTx(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, buyer_id, product_id, seller_id, quantity, unit_price, subtotal, fee, total,
			payment_method, delivery_contact, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.BuyerID, t.ProductID, t.SellerID, t.Quantity, t.UnitPrice, t.Subtotal, t.Fee, t.Total,
		string(t.PaymentMethod), t.DeliveryContact, t.PaymentStatus, t.CreatedAt)
	return err
}
