package services

import (
	"database/sql/driver"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/shopspring/decimal"
)

const (
	testBuyerID   = "6f1c2b9e-3a41-4d7e-9d0a-0b7c1e2f3a41"
	testSellerID  = "a3d5e7f9-1b2c-4d6e-8f0a-2c4e6a8b0d12"
	testAdminID   = "0e9d8c7b-6a5f-4e3d-2c1b-0a9f8e7d6c5b"
	testProductID = "8f14e45f-ceea-4a67-9c2e-1f0c2d6a1b3e"
	testTxID      = "5b2e8d1c-7f3a-4c9e-b6d0-1a2b3c4d5e6f"
)

// decimalArg matches a NUMERIC argument by value rather than by its string form
type decimalArg string

func (d decimalArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	got, err := decimal.NewFromString(s)
	return err == nil && got.Equal(decimal.RequireFromString(string(d)))
}

func buyer() models.Caller {
	return models.Caller{UserID: testBuyerID, Role: models.RoleBuyer}
}

func seller() models.Caller {
	return models.Caller{UserID: testSellerID, Role: models.RoleSeller}
}

func admin() models.Caller {
	return models.Caller{UserID: testAdminID, Role: models.RoleAdmin}
}

var receiptColumns = []string{
	"id", "buyer_id", "product_id", "seller_id", "quantity", "unit_price", "subtotal", "fee", "total",
	"payment_method", "delivery_contact", "payment_status", "created_at",
	"product_name", "product_price", "image_url",
	"buyer_name", "buyer_email",
	"seller_name", "seller_email", "company_name",
}

// addReceipt appends a receipt row for qty units of a product priced at price with a 2% fee
func addReceipt(rows *sqlmock.Rows, id, buyerID, sellerID string, qty int64, price string, createdAt time.Time) *sqlmock.Rows {
	unit := decimal.RequireFromString(price)
	subtotal := unit.Mul(decimal.NewFromInt(qty))
	fee := subtotal.Mul(decimal.RequireFromString("0.02"))
	return rows.AddRow(
		id, buyerID, testProductID, sellerID, qty, unit.String(), subtotal.String(), fee.String(), subtotal.Add(fee).String(),
		"card", "+2250700000000", models.PaymentSucceeded, createdAt,
		"Clay pot", unit.String(), "",
		"Ama Buyer", "ama@example.com",
		"Kofi Seller", "kofi@example.com", "Acme Goods",
	)
}
