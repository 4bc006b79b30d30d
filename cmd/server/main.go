// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/database"
	"github.com/javajoker/escrowpay/internal/escrow"
	"github.com/javajoker/escrowpay/internal/payments"
	"github.com/javajoker/escrowpay/internal/router"
	"github.com/javajoker/escrowpay/internal/services"
	"github.com/javajoker/escrowpay/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	setupLogging(cfg)
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	storage, err := services.NewStorageService(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize evidence storage")
	}

	clock := escrow.SystemClock{}
	provider := payments.NewStripeProvider(cfg)
	notifier := services.NewNotificationService(db, cfg)
	escrowService := services.NewEscrowService(db, cfg, provider, clock, notifier)
	disputeService := services.NewDisputeService(db, cfg, provider, clock, storage, notifier)
	sweepService := services.NewSweepService(db, cfg, escrowService, clock)

	r := router.Setup(db, cfg, router.Services{
		Escrow:  escrowService,
		Dispute: disputeService,
		Sweep:   sweepService,
		Storage: storage,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweepService.Start(sweepCtx)

	go func() {
		logrus.WithField("addr", srv.Addr).Info("Starting escrow server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Fatal("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}

func setupLogging(cfg *config.Config) {
	if cfg.Environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetOutput(os.Stdout)
}
