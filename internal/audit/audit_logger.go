package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp     time.Time       `json:"timestamp"`
	EventType     string          `json:"event_type"`
	TransactionID string          `json:"transaction_id,omitempty"`
	UserID        string          `json:"user_id"`
	ProductID     string          `json:"product_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Details       any             `json:"details,omitempty"`
}

// Logger writes settlement events as single JSON lines through the standard logger
type Logger struct {
	logger *log.Logger
}

func NewLogger() *Logger {
	return &Logger{logger: log.Default()}
}

// NewLoggerWith sends events to l instead of the default logger
func NewLoggerWith(l *log.Logger) *Logger {
	return &Logger{logger: l}
}

func (a *Logger) LogPurchase(transactionID, buyerID, sellerID, productID string, quantity int, total decimal.Decimal) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "PURCHASE",
		TransactionID: transactionID,
		UserID:        buyerID,
		ProductID:     productID,
		Amount:        total,
		Status:        "SUCCESS",
		Details: map[string]any{
			"seller_id": sellerID,
			"quantity":  quantity,
		},
	})
}

func (a *Logger) LogRejected(buyerID, productID, kind string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "PURCHASE",
		UserID:    buyerID,
		ProductID: productID,
		Status:    "FAILED",
		Details: map[string]string{
			"kind":  kind,
			"error": err.Error(),
		},
	})
}

func (a *Logger) LogOperation(userID, operation, details string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		UserID:    userID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	a.logger.Printf("AUDIT: %s", string(data))
}
