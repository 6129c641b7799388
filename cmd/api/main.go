package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/csmith1188/FormBank/internal/config"
	"github.com/csmith1188/FormBank/internal/handler"
	"github.com/csmith1188/FormBank/internal/integrations/formbar"
	"github.com/csmith1188/FormBank/internal/middleware"
	"github.com/csmith1188/FormBank/internal/repository"
	"github.com/csmith1188/FormBank/internal/scheduler"
	"github.com/csmith1188/FormBank/internal/service"
	"github.com/csmith1188/FormBank/internal/utils/email"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}
	if err := repository.RunMigrations(context.Background(), db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	gateway := formbar.NewClient(cfg, logger)
	alerts := email.NewSender(cfg, logger)
	svc := service.NewService(repo, gateway, alerts, logger, cfg)
	h := handler.NewHandler(svc, cfg, logger)

	// Start the deferred transfer leg executor; it also resumes any legs
	// persisted before the last restart
	executor := scheduler.NewExecutor(repo, gateway, alerts, logger, cfg.EncryptionKey)
	if err := executor.Start(); err != nil {
		logger.Fatalf("Failed to start transfer leg executor: %v", err)
	}
	defer executor.Stop()

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/login", h.Login).Methods("GET")
	r.HandleFunc("/logout", h.Logout).Methods("GET")
	// Check detail doubles as the unauthenticated redemption link
	r.HandleFunc("/checks/{id:[0-9]+}", h.CheckDetail).Methods("GET")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/", h.Home).Methods("GET")
	authRouter.HandleFunc("/admin", h.Admin).Methods("GET")
	authRouter.HandleFunc("/credit", h.Credit).Methods("GET")
	authRouter.HandleFunc("/credit/borrow", h.Borrow).Methods("POST")
	authRouter.HandleFunc("/credit/repay", h.Repay).Methods("POST")
	authRouter.HandleFunc("/credit/repay/full", h.RepayFull).Methods("POST")
	authRouter.HandleFunc("/checks", h.Checks).Methods("GET")
	authRouter.HandleFunc("/checks/write", h.WriteCheck).Methods("POST")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
