package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment status of a receipt
const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// Transaction is the immutable receipt of one settled purchase.
// Rows are inserted once and never updated.
type Transaction struct {
	ID              string          `json:"id" db:"id"`
	BuyerID         string          `json:"buyerId" db:"buyer_id"`
	ProductID       string          `json:"productId" db:"product_id"`
	SellerID        string          `json:"sellerId" db:"seller_id"`
	Quantity        int             `json:"quantity" db:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice" db:"unit_price"`
	Subtotal        decimal.Decimal `json:"subtotal" db:"subtotal"`
	Fee             decimal.Decimal `json:"fee" db:"fee"`
	Total           decimal.Decimal `json:"total" db:"total"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod" db:"payment_method"`
	DeliveryContact string          `json:"deliveryContact" db:"delivery_contact"`
	PaymentStatus   string          `json:"paymentStatus" db:"payment_status"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
}

// Party is the display projection of a user joined onto a receipt
type Party struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Company string `json:"company,omitempty"`
}

// ProductSummary is the display projection of a product joined onto a receipt
type ProductSummary struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Price    decimal.Decimal `json:"price"`
	ImageURL string          `json:"imageUrl,omitempty"`
}

// ReceiptView is a receipt joined with product and counterparty display fields
type ReceiptView struct {
	Transaction
	Product ProductSummary `json:"product"`
	Buyer   *Party         `json:"buyer,omitempty"`
	Seller  *Party         `json:"seller,omitempty"`
}
