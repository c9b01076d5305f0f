package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruralpay/marketplace/docs"
	"github.com/ruralpay/marketplace/internal/config"
	"github.com/ruralpay/marketplace/internal/database"
	mW "github.com/ruralpay/marketplace/internal/middleware"
	"github.com/ruralpay/marketplace/internal/services"
	"github.com/spf13/viper"
)

// @title Marketplace Settlement API
// @version 1.0
// @description Purchase settlement, balances and transaction history for the marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	configFile := flag.String("config", ".env", "path to the env config file")
	flag.Parse()

	config.Init(*configFile)

	docs.SwaggerInfo.Host = viper.GetString("server.public_host")
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	ctx := context.Background()

	db := database.InitDatabase(ctx)
	defer db.Close()

	if viper.GetBool("database.auto_migrate") {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	redisClient := database.InitRedis(ctx)
	if redisClient != nil {
		defer redisClient.Close()
	}

	mW.InitAuthMiddleware(db, redisClient)

	accountService := services.NewAccountService(db)
	app := &application{
		auth:       services.NewAuthService(db, redisClient, accountService, config.Accounts()),
		settlement: services.NewSettlementService(db, accountService, config.Settlement()),
		history:    services.NewHistoryService(db),
		products:   services.NewProductService(db),
		qr:         services.NewQRService(redisClient),
	}

	serverCfg := config.Server()
	server := &http.Server{
		Addr:         ":" + serverCfg.Port,
		Handler:      app.routes(),
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
		IdleTimeout:  serverCfg.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", serverCfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
