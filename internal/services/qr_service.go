package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/skip2/go-qrcode"
)

// receipt QR codes stay verifiable for a day, long enough to cover a delivery
const receiptQRTTL = 24 * time.Hour

// ReceiptQR is a scannable proof of purchase handed to the buyer
type ReceiptQR struct {
	Code    string `json:"code"`
	Image   string `json:"image"` // base64 PNG
	Expires int64  `json:"expires"`
}

type receiptQRPayload struct {
	TransactionID string               `json:"transactionId"`
	SellerID      string               `json:"sellerId"`
	Total         string               `json:"total"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
	Timestamp     int64                `json:"timestamp"`
	Nonce         string               `json:"nonce"`
}

type QRService struct {
	redis *redis.Client
}

func NewQRService(redis *redis.Client) *QRService {
	return &QRService{redis: redis}
}

// ReceiptQR renders receipt as a QR code and registers the code so the seller can verify it on delivery
func (s *QRService) ReceiptQR(ctx context.Context, receipt *models.ReceiptView) (*ReceiptQR, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("%w: QR registry is not configured", ErrStorageUnavailable)
	}

	payload := receiptQRPayload{
		TransactionID: receipt.ID,
		SellerID:      receipt.SellerID,
		Total:         receipt.Total.StringFixed(2),
		PaymentMethod: receipt.PaymentMethod,
		Timestamp:     time.Now().Unix(),
		Nonce:         s.generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	if err := s.redis.Set(ctx, receiptQRKey(code), receipt.ID, receiptQRTTL).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, err
	}

	return &ReceiptQR{
		Code:    code,
		Image:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		Expires: time.Now().Add(receiptQRTTL).Unix(),
	}, nil
}

// ResolveReceiptQR returns the transaction id a scanned code was issued for
func (s *QRService) ResolveReceiptQR(ctx context.Context, code string) (string, error) {
	if s.redis == nil {
		return "", fmt.Errorf("%w: QR registry is not configured", ErrStorageUnavailable)
	}

	txID, err := s.redis.Get(ctx, receiptQRKey(code)).Result()
	if err == redis.Nil {
		return "", &NotFoundError{Entity: "receipt QR code"}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return txID, nil
}

func receiptQRKey(code string) string {
	return fmt.Sprintf("receipt-qr:%s", code)
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
