package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"printshop-checkout/internal/database"
	"printshop-checkout/internal/domain"
	"printshop-checkout/internal/service"
)

type CallbackVerifier interface {
	Verify(q url.Values) (*domain.ConfirmationEvent, error)
}

type ConfirmationApplier interface {
	ApplyConfirmation(ctx context.Context, event domain.ConfirmationEvent) (service.Result, error)
}

type Deps struct {
	Orders      service.OrderService
	Verifier    CallbackVerifier
	Reconciler  ConfirmationApplier
	DB          database.Service
	CORSOrigins []string
}

// Server is the storefront-facing HTTP API and the gateway callback endpoint.
type Server struct {
	deps   Deps
	router *gin.Engine
	logger *slog.Logger
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), corsMiddleware(deps.CORSOrigins))

	s := &Server{
		deps:   deps,
		router: router,
		logger: logger,
	}

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/cart/quote", s.handleQuote)
		api.POST("/orders", s.handleCreateOrder)
		api.GET("/orders/:id", s.handleGetOrder)
		api.POST("/orders/:id/payments", s.handleCreatePayment)
		api.GET("/payments/methods", s.handleMethods)
		api.GET("/payments/callback", s.handleCallback)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled and then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = origins
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cors.New(cfg)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			args = append(args, "errors", c.Errors.String())
		}
		if status >= http.StatusInternalServerError {
			logger.Error("Request failed", args...)
			return
		}
		logger.Info("Request handled", args...)
	}
}
