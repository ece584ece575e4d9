package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"printshop-checkout/internal/database"
	"printshop-checkout/internal/domain"
	"printshop-checkout/internal/infrastructure/payment"
	"printshop-checkout/internal/pricing"
	"printshop-checkout/internal/server"
	"printshop-checkout/internal/worker"
)

const sandboxSecret = "sandbox-secret"

// simulateCmd runs orders end to end against the in-process sandbox gateway:
// checkout, settlement callbacks (sometimes delivered twice), then an expiry sweep.
func simulateCmd() *cobra.Command {
	var (
		count  int
		settle time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive orders through the sandbox gateway and print what the database ends up with",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			sandbox := payment.NewSandbox()
			sandbox.Stall = 2 * time.Second
			gwServer := httptest.NewServer(sandbox)
			defer gwServer.Close()

			cfg.Gateway.BaseURL = gwServer.URL
			cfg.Gateway.Timeout = time.Second
			cfg.Gateway.ReturnURL = "http://localhost" + cfg.HTTPAddr + "/checkout"
			for _, m := range domain.Methods {
				cfg.Gateway.Keys[m] = "SANDBOX-" + string(m)
			}
			cfg.Retry = payment.RetryPolicy{
				MaxRetries:      2,
				InitialInterval: 100 * time.Millisecond,
				MaxInterval:     time.Second,
				MaxElapsed:      10 * time.Second,
			}
			cfg.CallbackSecret = sandboxSecret

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := database.Migrate(ctx, a.db); err != nil {
				return err
			}

			gin.SetMode(gin.ReleaseMode)
			api := httptest.NewServer(server.NewServer(server.Deps{
				Orders:     a.orders,
				Verifier:   a.verifier,
				Reconciler: a.reconciler,
				DB:         a.dbHealth,
			}, logger).Handler())
			defer api.Close()

			fmt.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", count)
			var ids []string
			for i := 0; i < count; i++ {
				order, err := a.orders.CreateOrder(ctx, sampleCart(), domain.CustomerContact{Phone: "912345678"})
				if err != nil {
					fmt.Printf("[%d] create failed: %v\n", i+1, err)
					continue
				}
				ids = append(ids, order.ID)

				method := domain.Methods[rand.IntN(len(domain.Methods))]
				fmt.Printf("[%d] %s %s EUR via %s ... ", i+1, order.ID, order.Amount.StringFixed(2), method)
				if _, err := a.orders.Checkout(ctx, order.ID, method, nil); err != nil {
					fmt.Printf("FAILED: %v\n", err)
				} else {
					fmt.Printf("INSTRUCTIONS\n")
				}

				// Some payers pay; the gateway sometimes delivers twice.
				if rand.IntN(100) < 60 {
					paidAt := time.Now()
					deliveries := 1 + rand.IntN(2)
					for d := 0; d < deliveries; d++ {
						status, ok := deliver(ctx, api.URL, sandbox, order.ID, paidAt)
						if ok {
							fmt.Printf("    -> callback #%d: %d\n", d+1, status)
						}
					}
				}

				fresh, _ := a.orderRepo.FindById(ctx, order.ID)
				if fresh != nil {
					fmt.Printf("    -> DB Status: %s\n", fresh.Status)
				}
				fmt.Println("---------------------------------------------------")
			}

			fmt.Println("--- EXPIRY SWEEP ---")
			sweepCtx, cancel := context.WithTimeout(ctx, settle)
			defer cancel()
			w := worker.NewReconciliationWorker(a.orderRepo, a.paymentRepo, a.reconciler, worker.Config{
				Interval:       500 * time.Millisecond,
				OrderTTL:       time.Millisecond,
				AttemptTimeout: time.Millisecond,
			}, logger)
			w.Run(sweepCtx)

			summary := map[domain.OrderStatus]int{}
			for _, id := range ids {
				if o, _ := a.orderRepo.FindById(ctx, id); o != nil {
					summary[o.Status]++
				}
			}
			fmt.Printf("--- RESULT: paid=%d failed=%d expired=%d pending=%d ---\n",
				summary[domain.OrderPaid], summary[domain.OrderFailed], summary[domain.OrderExpired], summary[domain.OrderPending])

			review, err := a.reconciler.ListForReview(ctx, 100)
			if err != nil {
				return err
			}
			fmt.Printf("--- %d confirmations flagged for review ---\n", len(review))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "orders", "n", 20, "number of orders to simulate")
	cmd.Flags().DurationVar(&settle, "settle", 3*time.Second, "how long the expiry worker runs afterwards")
	return cmd
}

func sampleCart() pricing.Cart {
	widths := []int64{100, 150, 200, 300}
	heights := []int64{150, 200, 250}
	return pricing.Cart{Items: []pricing.LineItem{{
		ProductID:    "pvc-banner",
		Name:         "PVC banner 510g",
		PricePerArea: decimal.RequireFromString("14.90"),
		WidthCm:      decimal.NewFromInt(widths[rand.IntN(len(widths))]),
		HeightCm:     decimal.NewFromInt(heights[rand.IntN(len(heights))]),
		Laminated:    rand.IntN(2) == 0,
		Quantity:     1 + rand.IntN(3),
	}}}
}

// deliver sends the settlement callback the sandbox would send for orderID.
func deliver(ctx context.Context, baseURL string, sandbox *payment.Sandbox, orderID string, paidAt time.Time) (int, bool) {
	q, ok := sandbox.Settle(orderID, sandboxSecret, paidAt)
	if !ok {
		return 0, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/payments/callback?"+q.Encode(), nil)
	if err != nil {
		return 0, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, false
	}
	resp.Body.Close()
	return resp.StatusCode, true
}
