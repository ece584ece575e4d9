package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"printshop-checkout/internal/callback"
	"printshop-checkout/internal/config"
	"printshop-checkout/internal/database"
	"printshop-checkout/internal/infrastructure/payment"
	"printshop-checkout/internal/notify"
	"printshop-checkout/internal/pricing"
	"printshop-checkout/internal/repo"
	"printshop-checkout/internal/service"
)

// app holds everything the subcommands share.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *sql.DB
	dbHealth database.Service

	orderRepo        repo.OrderRepo
	paymentRepo      repo.PaymentRepo
	confirmationRepo repo.ConfirmationRepo

	orders     service.OrderService
	reconciler *service.Reconciler
	verifier   *callback.Verifier
	dispatcher *notify.Dispatcher
	natsConn   *nats.Conn
}

func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, database.Service, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Connected to database", "database", cfg.Database.Name)
	return db, database.New(db, cfg.Database.Name, logger), nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, health, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:              cfg,
		logger:           logger,
		db:               db,
		dbHealth:         health,
		orderRepo:        repo.NewOrderRepo(db),
		paymentRepo:      repo.NewPaymentRepo(db),
		confirmationRepo: repo.NewConfirmationRepo(db),
	}

	gw := payment.NewRetryingGateway(payment.NewPaymentGateway(cfg.Gateway, logger), cfg.Retry, logger)

	publisher := notify.NoopPublisher()
	if cfg.NATSURL != "" {
		conn, err := notify.ConnectNATS(cfg.NATSURL)
		if err != nil {
			health.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.natsConn = conn
		publisher = notify.NewNATSPublisher(conn)
	} else {
		logger.Warn("NATS_URL not set, fulfillment triggers are disabled")
	}

	mailer := notify.NoopMailer()
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTP)
	} else {
		logger.Warn("SMTP_HOST not set, confirmation emails are disabled")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Unknown PAYMENT_TIMEZONE, using UTC", "timezone", cfg.Timezone, "error", err)
		loc = time.UTC
	}

	tx := database.NewTransactor(db)
	a.dispatcher = notify.NewDispatcher(mailer, publisher, logger)
	a.orders = service.NewOrderService(tx, a.orderRepo, a.paymentRepo, gw, pricing.NewCalculator(cfg.Pricing), logger)
	a.reconciler = service.NewReconciler(tx, a.orderRepo, a.paymentRepo, a.confirmationRepo, a.dispatcher, logger)
	a.verifier = callback.NewVerifier(cfg.CallbackSecret, loc, logger)
	return a, nil
}

// Close waits for pending notifications before releasing connections.
func (a *app) Close() {
	a.dispatcher.Wait()
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Error("Failed to drain NATS connection", "error", err)
		}
	}
	if err := a.dbHealth.Close(); err != nil {
		a.logger.Error("Failed to close database", "error", err)
	}
}
