package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod names one balance bucket. The set is closed.
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodMobileMoneyA PaymentMethod = "mobileMoneyA"
	MethodMobileMoneyB PaymentMethod = "mobileMoneyB"
)

// PaymentMethods lists every bucket a fully provisioned user holds.
var PaymentMethods = []PaymentMethod{MethodCard, MethodMobileMoneyA, MethodMobileMoneyB}

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	for _, m := range PaymentMethods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

func (m PaymentMethod) Valid() bool {
	_, err := ParsePaymentMethod(string(m))
	return err == nil
}

// Bucket is one row of the balances table
type Bucket struct {
	UserID    string          `json:"userId" db:"user_id"`
	Method    PaymentMethod   `json:"method" db:"method"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// Balances maps each initialized bucket to its amount
type Balances map[PaymentMethod]decimal.Decimal
