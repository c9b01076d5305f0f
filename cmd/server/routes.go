package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruralpay/marketplace/internal/handlers"
	mW "github.com/ruralpay/marketplace/internal/middleware"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/ruralpay/marketplace/internal/services"
	httpSwagger "github.com/swaggo/http-swagger"
)

type application struct {
	auth       *services.AuthService
	settlement *services.SettlementService
	history    *services.HistoryService
	products   *services.ProductService
	qr         *services.QRService
}

func (app *application) routes() http.Handler {
	purchaseHandler := handlers.NewPurchaseHandler(app.settlement)
	historyHandler := handlers.NewHistoryHandler(app.history)
	productHandler := handlers.NewProductHandler(app.products)
	qrHandler := handlers.NewQRHandler(app.qr, app.history)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Handle("/static/products/*", http.StripPrefix("/static/products/",
		mW.StaticFileServer("./static/products")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", app.auth.Register)
		r.Post("/auth/login", app.auth.Login)
		r.Post("/auth/logout", app.auth.Logout)

		r.Get("/products", productHandler.List)
		r.Get("/products/{productId}", productHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", app.auth.GetUserAccount)

			r.With(mW.RequireRole(models.RoleSeller)).Post("/products", productHandler.Create)
			r.With(mW.RequireRole(models.RoleSeller)).Put("/products/{productId}", productHandler.Update)
			r.With(mW.RequireRole(models.RoleSeller, models.RoleAdmin)).Delete("/products/{productId}", productHandler.Delete)

			r.Post("/transactions/purchase", purchaseHandler.Purchase)
			r.Get("/transactions/purchases", historyHandler.Purchases)
			r.Get("/transactions/sales", historyHandler.Sales)
			r.Post("/transactions/qr/verify", qrHandler.VerifyQR)
			r.Get("/transactions/{txId}", historyHandler.Receipt)
			r.Get("/transactions/{txId}/qr", qrHandler.ReceiptQR)

			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin))
				r.Get("/transactions", historyHandler.All)
				r.Put("/admin/users/{userId}/block", app.auth.ToggleBlock)
			})
		})
	})

	return r
}
