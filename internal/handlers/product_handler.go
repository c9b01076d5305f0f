package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/marketplace/internal/middleware"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/ruralpay/marketplace/internal/services"
)

// Catalog stores the listed products
type Catalog interface {
	Create(ctx context.Context, caller models.Caller, req services.CreateProductRequest) (*models.Product, error)
	Get(ctx context.Context, productID string) (*models.Product, error)
	List(ctx context.Context) ([]models.Product, error)
	Update(ctx context.Context, caller models.Caller, productID string, req services.UpdateProductRequest) (*models.Product, error)
	Delete(ctx context.Context, caller models.Caller, productID string) error
}

type ProductHandler struct {
	catalog Catalog
}

func NewProductHandler(catalog Catalog) *ProductHandler {
	return &ProductHandler{catalog: catalog}
}

// List returns every product
// @Summary List products
// @Tags products
// @Produce json
// @Success 200 {array} models.Product
// @Router /products [get]
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, products)
}

// Get returns one product
// @Summary Get a product
// @Tags products
// @Produce json
// @Param productId path string true "Product ID"
// @Success 200 {object} models.Product
// @Failure 404 {object} services.ErrorResponse
// @Router /products/{productId} [get]
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.Get(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, product)
}

// Create lists a new product
// @Summary Create a product
// @Description Sellers only
// @Tags products
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateProductRequest true "Product"
// @Success 201 {object} models.Product
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /products [post]
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.CreateProductRequest
	if !services.DecodeJSONBody(w, r, &req) {
		return
	}

	product, err := h.catalog.Create(r.Context(), caller, req)
	if err != nil {
		WriteError(w, err)
		return
	}

	log.Printf("[PRODUCT] %s listed %s", caller.UserID, product.ID)
	services.SendJSON(w, http.StatusCreated, product)
}

// Update edits a listing
// @Summary Update a product
// @Description Owner only. Absent fields are left unchanged; use stock to restock.
// @Tags products
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param productId path string true "Product ID"
// @Param request body services.UpdateProductRequest true "Changed fields"
// @Success 200 {object} models.Product
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /products/{productId} [put]
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.UpdateProductRequest
	if !services.DecodeJSONBody(w, r, &req) {
		return
	}

	product, err := h.catalog.Update(r.Context(), caller, chi.URLParam(r, "productId"), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, product)
}

// Delete removes a listing
// @Summary Delete a product
// @Description Owner or admin
// @Tags products
// @Produce json
// @Security BearerAuth
// @Param productId path string true "Product ID"
// @Success 200 {object} map[string]string
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /products/{productId} [delete]
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	productID := chi.URLParam(r, "productId")
	if err := h.catalog.Delete(r.Context(), caller, productID); err != nil {
		WriteError(w, err)
		return
	}

	log.Printf("[PRODUCT] %s deleted %s", caller.UserID, productID)
	services.SendJSON(w, http.StatusOK, map[string]string{"message": "Product deleted"})
}
