package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/marketplace/internal/audit"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/shopspring/decimal"
)

// CreateProductRequest is the listing a seller submits
type CreateProductRequest struct {
	Name        string          `json:"name" validate:"required,notblank,max=200" example:"Clay pot"`
	Description string          `json:"description" validate:"required,notblank" example:"Hand-thrown 2L pot"`
	Price       decimal.Decimal `json:"price" example:"100"`
	Stock       int             `json:"stock" validate:"gte=0" example:"5"`
	Category    string          `json:"category" validate:"required,oneof=Electronics Clothing Food Books Sports Home Beauty Other" example:"Home"`
	ImageURL    string          `json:"imageUrl" validate:"omitempty,url" example:"https://cdn.example.com/pot.png"`
}

// UpdateProductRequest changes only the fields that are present
type UpdateProductRequest struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,notblank,max=200" example:"Clay pot"`
	Description *string          `json:"description,omitempty" validate:"omitempty,notblank" example:"Hand-thrown 2L pot"`
	Price       *decimal.Decimal `json:"price,omitempty" example:"120"`
	Stock       *int             `json:"stock,omitempty" validate:"omitempty,gte=0" example:"10"`
	Category    *string          `json:"category,omitempty" validate:"omitempty,oneof=Electronics Clothing Food Books Sports Home Beauty Other" example:"Home"`
	ImageURL    *string          `json:"imageUrl,omitempty" validate:"omitempty,url" example:"https://cdn.example.com/pot.png"`
}

type ProductService struct {
	db        *sql.DB
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewProductService(db *sql.DB) *ProductService {
	return &ProductService{
		db:        db,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// Create lists a new product owned by the calling seller
func (s *ProductService) Create(ctx context.Context, caller models.Caller, req CreateProductRequest) (*models.Product, error) {
	if caller.Role != models.RoleSeller {
		return nil, fmt.Errorf("%w: only sellers can list products", ErrForbidden)
	}
	if caller.IsBlocked {
		return nil, fmt.Errorf("%w: account is blocked", ErrForbidden)
	}

	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.ValidateRequest(&req); err != nil {
		return nil, err
	}
	if req.Price.IsNegative() {
		return nil, &InvalidRequestError{Fields: map[string]string{"price": "must not be negative"}}
	}

	now := time.Now().UTC()
	product := &models.Product{
		ID:          uuid.New().String(),
		OwnerID:     caller.UserID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, owner_id, name, description, price, stock, category, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		product.ID, product.OwnerID, product.Name, product.Description, product.Price, product.Stock,
		product.Category, product.ImageURL, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return nil, classifyStoreError(err)
	}

	return product, nil
}

// Get loads one product outside of any settlement
func (s *ProductService) Get(ctx context.Context, productID string) (*models.Product, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return nil, &NotFoundError{Entity: "product"}
	}

	var p models.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, price, stock, category, COALESCE(image_url, ''), created_at, updated_at
		FROM products
		WHERE id = $1`, productID).Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Category, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	if isNoRows(err) {
		return nil, &NotFoundError{Entity: "product"}
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return &p, nil
}

// List returns every product, newest first
func (s *ProductService) List(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, description, price, stock, category, COALESCE(image_url, ''), created_at, updated_at
		FROM products
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Category, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, classifyStoreError(err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(err)
	}
	return products, nil
}

// Update edits a listing of the calling seller. The row is locked so a restock
// waits for any purchase of the same product to finish.
func (s *ProductService) Update(ctx context.Context, caller models.Caller, productID string, req UpdateProductRequest) (*models.Product, error) {
	if caller.Role != models.RoleSeller {
		return nil, fmt.Errorf("%w: only sellers can edit products", ErrForbidden)
	}
	if caller.IsBlocked {
		return nil, fmt.Errorf("%w: account is blocked", ErrForbidden)
	}
	if _, err := uuid.Parse(productID); err != nil {
		return nil, &NotFoundError{Entity: "product"}
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		req.Name = &name
	}
	if err := s.validator.ValidateRequest(&req); err != nil {
		return nil, err
	}
	if req.Price != nil && req.Price.IsNegative() {
		return nil, &InvalidRequestError{Fields: map[string]string{"price": "must not be negative"}}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer tx.Rollback()

	product, err := s.lockOwned(ctx, tx, caller, productID)
	if err != nil {
		return nil, classifyStoreError(err)
	}

	if req.Name != nil {
		product.Name = *req.Name
	}
	if req.Description != nil {
		product.Description = *req.Description
	}
	if req.Price != nil {
		product.Price = *req.Price
	}
	if req.Stock != nil {
		product.Stock = *req.Stock
	}
	if req.Category != nil {
		product.Category = *req.Category
	}
	if req.ImageURL != nil {
		product.ImageURL = *req.ImageURL
	}
	product.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET name = $1, description = $2, price = $3, stock = $4, category = $5, image_url = $6, updated_at = $7
		WHERE id = $8`,
		product.Name, product.Description, product.Price, product.Stock, product.Category, product.ImageURL,
		product.UpdatedAt, product.ID)
	if err != nil {
		return nil, classifyStoreError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyStoreError(err)
	}

	s.audit.LogOperation(caller.UserID, "PRODUCT_UPDATE", fmt.Sprintf("product=%s stock=%d price=%s", product.ID, product.Stock, product.Price))
	return product, nil
}

// Delete removes a listing. Sellers may delete their own products, admins any product.
// Receipts that reference it are kept.
func (s *ProductService) Delete(ctx context.Context, caller models.Caller, productID string) error {
	if caller.IsBlocked {
		return fmt.Errorf("%w: account is blocked", ErrForbidden)
	}
	if !caller.IsAdmin() && caller.Role != models.RoleSeller {
		return fmt.Errorf("%w: only sellers and admins can delete products", ErrForbidden)
	}
	if _, err := uuid.Parse(productID); err != nil {
		return &NotFoundError{Entity: "product"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyStoreError(err)
	}
	defer tx.Rollback()

	if _, err := s.lockOwned(ctx, tx, caller, productID); err != nil {
		return classifyStoreError(err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID); err != nil {
		return classifyStoreError(err)
	}

	if err := tx.Commit(); err != nil {
		return classifyStoreError(err)
	}

	s.audit.LogOperation(caller.UserID, "PRODUCT_DELETE", "product="+productID)
	return nil
}

// lockOwned loads the product FOR UPDATE and checks the caller may change it
func (s *ProductService) lockOwned(ctx context.Context, tx *sql.Tx, caller models.Caller, productID string) (*models.Product, error) {
	var p models.Product
	err := tx.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, price, stock, category, COALESCE(image_url, ''), created_at, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE`, productID).Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Category, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	if isNoRows(err) {
		return nil, &NotFoundError{Entity: "product"}
	}
	if err != nil {
		return nil, err
	}

	if p.OwnerID != caller.UserID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: not the owner of this product", ErrForbidden)
	}
	return &p, nil
}
