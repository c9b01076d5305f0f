package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/shopspring/decimal"
)

type PurchaseHistory struct {
	Count        int                  `json:"count"`
	TotalSpent   decimal.Decimal      `json:"totalSpent"`
	Transactions []models.ReceiptView `json:"transactions"`
}

type SalesHistory struct {
	Count        int                  `json:"count"`
	TotalEarned  decimal.Decimal      `json:"totalEarned"`
	Transactions []models.ReceiptView `json:"transactions"`
}

type LedgerOverview struct {
	Count        int                  `json:"count"`
	TotalRevenue decimal.Decimal      `json:"totalRevenue"`
	PlatformFees decimal.Decimal      `json:"platformFees"`
	Transactions []models.ReceiptView `json:"transactions"`
}

// HistoryService answers read-only questions over the receipts ledger
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

const receiptSelect = `
	SELECT t.id, t.buyer_id, t.product_id, t.seller_id, t.quantity, t.unit_price, t.subtotal, t.fee, t.total,
	       t.payment_method, t.delivery_contact, t.payment_status, t.created_at,
	       COALESCE(p.name, ''), COALESCE(p.price, 0), COALESCE(p.image_url, ''),
	       COALESCE(b.name, ''), COALESCE(b.email, ''),
	       COALESCE(s.name, ''), COALESCE(s.email, ''), COALESCE(s.company_name, '')
	FROM transactions t
	LEFT JOIN products p ON p.id = t.product_id
	LEFT JOIN users b ON b.id = t.buyer_id
	LEFT JOIN users s ON s.id = t.seller_id`

// Purchases lists the receipts where buyerID paid, newest first
func (s *HistoryService) Purchases(ctx context.Context, buyerID string) (*PurchaseHistory, error) {
	receipts, err := s.listReceipts(ctx, " WHERE t.buyer_id = $1", buyerID)
	if err != nil {
		return nil, err
	}

	history := &PurchaseHistory{Count: len(receipts), TotalSpent: decimal.Zero, Transactions: receipts}
	for i := range receipts {
		receipts[i].Buyer = nil
		history.TotalSpent = history.TotalSpent.Add(receipts[i].Total)
	}
	return history, nil
}

// Sales lists the receipts where sellerID was the product owner, newest first.
// TotalEarned sums subtotals since the fee is never forwarded to the seller.
func (s *HistoryService) Sales(ctx context.Context, sellerID string) (*SalesHistory, error) {
	receipts, err := s.listReceipts(ctx, " WHERE t.seller_id = $1", sellerID)
	if err != nil {
		return nil, err
	}

	history := &SalesHistory{Count: len(receipts), TotalEarned: decimal.Zero, Transactions: receipts}
	for i := range receipts {
		receipts[i].Seller = nil
		history.TotalEarned = history.TotalEarned.Add(receipts[i].Subtotal)
	}
	return history, nil
}

// All lists every receipt. Admin only.
func (s *HistoryService) All(ctx context.Context, caller models.Caller) (*LedgerOverview, error) {
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: administrator privileges required", ErrForbidden)
	}

	receipts, err := s.listReceipts(ctx, "")
	if err != nil {
		return nil, err
	}

	overview := &LedgerOverview{
		Count:        len(receipts),
		TotalRevenue: decimal.Zero,
		PlatformFees: decimal.Zero,
		Transactions: receipts,
	}
	for _, r := range receipts {
		overview.TotalRevenue = overview.TotalRevenue.Add(r.Total)
		overview.PlatformFees = overview.PlatformFees.Add(r.Fee)
	}
	return overview, nil
}

// Receipt returns one receipt to its buyer, its seller or an admin
func (s *HistoryService) Receipt(ctx context.Context, caller models.Caller, txID string) (*models.ReceiptView, error) {
	if _, err := uuid.Parse(txID); err != nil {
		return nil, &NotFoundError{Entity: "transaction"}
	}

	receipts, err := s.listReceipts(ctx, " WHERE t.id = $1", txID)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, &NotFoundError{Entity: "transaction"}
	}

	receipt := receipts[0]
	if !caller.IsAdmin() && caller.UserID != receipt.BuyerID && caller.UserID != receipt.SellerID {
		return nil, fmt.Errorf("%w: not a party to this transaction", ErrForbidden)
	}
	return &receipt, nil
}

func (s *HistoryService) listReceipts(ctx context.Context, where string, args ...any) ([]models.ReceiptView, error) {
	rows, err := s.db.QueryContext(ctx, receiptSelect+where+" ORDER BY t.created_at DESC", args...)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer rows.Close()

	receipts := []models.ReceiptView{}
	for rows.Next() {
		var (
			r             models.ReceiptView
			method        string
			buyer, seller models.Party
		)
		err := rows.Scan(
			&r.ID, &r.BuyerID, &r.ProductID, &r.SellerID, &r.Quantity, &r.UnitPrice, &r.Subtotal, &r.Fee, &r.Total,
			&method, &r.DeliveryContact, &r.PaymentStatus, &r.CreatedAt,
			&r.Product.Name, &r.Product.Price, &r.Product.ImageURL,
			&buyer.Name, &buyer.Email,
			&seller.Name, &seller.Email, &seller.Company,
		)
		if err != nil {
			return nil, classifyStoreError(err)
		}
		r.PaymentMethod = models.PaymentMethod(method)
		r.Product.ID = r.ProductID
		buyer.ID = r.BuyerID
		seller.ID = r.SellerID
		r.Buyer = &buyer
		r.Seller = &seller
		receipts = append(receipts, r)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(err)
	}
	return receipts, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
