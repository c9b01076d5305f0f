package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/shopspring/decimal"
)

// AccountService owns the per-method balance buckets of a user.
// Every mutating call runs on the caller's transaction and is only visible once it commits.
type AccountService struct {
	db *sql.DB
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{db: db}
}

// GetBalance reads and row-locks one bucket.
func (s *AccountService) GetBalance(ctx context.Context, tx *sql.Tx, userID string, method models.PaymentMethod) (decimal.Decimal, error) {
	if !method.Valid() {
		return decimal.Zero, fmt.Errorf("%w: unknown payment method %q", ErrInvalidAccount, method)
	}

	var amount decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT amount
		FROM balances
		WHERE user_id = $1 AND method = $2
		FOR UPDATE`, userID, string(method)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, &AccountNotInitializedError{UserID: userID, Method: method}
	}
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// Debit subtracts amount from the bucket and returns the new balance.
// It refuses to take a bucket below zero.
func (s *AccountService) Debit(ctx context.Context, tx *sql.Tx, userID string, method models.PaymentMethod, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative debit", ErrInvalidRequest)
	}

	balance, err := s.GetBalance(ctx, tx, userID, method)
	if err != nil {
		return decimal.Zero, err
	}

	if balance.LessThan(amount) {
		return balance, newInsufficientFunds(balance, amount)
	}

	newBalance := balance.Sub(amount)
	if err := s.setBalance(ctx, tx, userID, method, newBalance); err != nil {
		return decimal.Zero, err
	}

	return newBalance, nil
}

// setBalance overwrites a bucket that the caller has already locked and checked.
func (s *AccountService) setBalance(ctx context.Context, tx *sql.Tx, userID string, method models.PaymentMethod, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return newInsufficientFunds(decimal.Zero, amount.Neg())
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE balances
		SET amount = $1, updated_at = $2
		WHERE user_id = $3 AND method = $4`,
		amount, time.Now(), userID, string(method))
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return &AccountNotInitializedError{UserID: userID, Method: method}
	}
	return nil
}

// Credit adds amount to the bucket and returns the new balance. Missing buckets of the
// user are created at zero first.
func (s *AccountService) Credit(ctx context.Context, tx *sql.Tx, userID string, method models.PaymentMethod, amount decimal.Decimal) (decimal.Decimal, error) {
	if !method.Valid() {
		return decimal.Zero, fmt.Errorf("%w: unknown payment method %q", ErrInvalidAccount, method)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative credit", ErrInvalidRequest)
	}

	if _, err := s.Provision(ctx, tx, userID, decimal.Zero); err != nil {
		return decimal.Zero, err
	}

	var newBalance decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		UPDATE balances
		SET amount = amount + $1, updated_at = $2
		WHERE user_id = $3 AND method = $4
		RETURNING amount`,
		amount, time.Now(), userID, string(method)).Scan(&newBalance)
	if err != nil {
		return decimal.Zero, err
	}

	return newBalance, nil
}

// Provision creates every missing bucket of the user at startingBalance.
// Existing buckets are left untouched. It returns the number of buckets created.
func (s *AccountService) Provision(ctx context.Context, tx *sql.Tx, userID string, startingBalance decimal.Decimal) (int64, error) {
	methods := make([]string, len(models.PaymentMethods))
	for i, m := range models.PaymentMethods {
		methods[i] = string(m)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, method, amount, updated_at)
		SELECT $1, m, $2, $3 FROM unnest($4::text[]) AS m
		ON CONFLICT (user_id, method) DO NOTHING`,
		userID, startingBalance, time.Now(), pq.Array(methods))
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Balances returns every initialized bucket of the user outside of any settlement.
func (s *AccountService) Balances(ctx context.Context, userID string) (models.Balances, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT method, amount
		FROM balances
		WHERE user_id = $1
		ORDER BY method`, userID)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer rows.Close()

	balances := models.Balances{}
	for rows.Next() {
		var (
			method string
			amount decimal.Decimal
		)
		if err := rows.Scan(&method, &amount); err != nil {
			return nil, classifyStoreError(err)
		}
		balances[models.PaymentMethod(method)] = amount
	}

	return balances, classifyStoreError(rows.Err())
}

// BackfillReport counts what ProvisionMissing created
type BackfillReport struct {
	Users   int
	Buckets int64
}

// ProvisionMissing opens every missing bucket of every user at startingBalance.
// Each user is provisioned in its own transaction so one failure does not undo the rest.
func (s *AccountService) ProvisionMissing(ctx context.Context, startingBalance decimal.Decimal) (BackfillReport, error) {
	var report BackfillReport

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id
		FROM users u
		LEFT JOIN balances b ON b.user_id = u.id
		GROUP BY u.id
		HAVING COUNT(b.method) < $1`, len(models.PaymentMethods))
	if err != nil {
		return report, classifyStoreError(err)
	}

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return report, classifyStoreError(err)
		}
		userIDs = append(userIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return report, classifyStoreError(err)
	}

	for _, userID := range userIDs {
		created, err := s.provisionOne(ctx, userID, startingBalance)
		if err != nil {
			return report, fmt.Errorf("provision %s: %w", userID, err)
		}
		report.Users++
		report.Buckets += created
	}
	return report, nil
}

func (s *AccountService) provisionOne(ctx context.Context, userID string, startingBalance decimal.Decimal) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classifyStoreError(err)
	}
	defer tx.Rollback()

	created, err := s.Provision(ctx, tx, userID, startingBalance)
	if err != nil {
		return 0, classifyStoreError(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classifyStoreError(err)
	}
	return created, nil
}
