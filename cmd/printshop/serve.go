package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"printshop-checkout/internal/database"
	"printshop-checkout/internal/server"
	"printshop-checkout/internal/worker"
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gateway callback and the expiry worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				if err := database.Migrate(ctx, a.db); err != nil {
					return err
				}
				logger.Info("Database schema is up to date")
			}

			w := worker.NewReconciliationWorker(a.orderRepo, a.paymentRepo, a.reconciler, cfg.Worker, logger)
			go w.Run(ctx)

			gin.SetMode(gin.ReleaseMode)
			srv := server.NewServer(server.Deps{
				Orders:      a.orders,
				Verifier:    a.verifier,
				Reconciler:  a.reconciler,
				DB:          a.dbHealth,
				CORSOrigins: cfg.CORSOrigins,
			}, logger)
			return srv.Run(ctx, cfg.HTTPAddr)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the database schema before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, health, err := openDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer health.Close()

			if err := database.Migrate(ctx, db); err != nil {
				return err
			}
			logger.Info("Database schema is up to date")
			return nil
		},
	}
}
