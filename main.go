// main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"

	"github.com/ewent-la/reservation-core/config"
	"github.com/ewent-la/reservation-core/internal/accounting"
	"github.com/ewent-la/reservation-core/internal/checkout"
	"github.com/ewent-la/reservation-core/internal/handlers"
	"github.com/ewent-la/reservation-core/internal/ledger"
	"github.com/ewent-la/reservation-core/internal/mockprovider"
	"github.com/ewent-la/reservation-core/internal/orders"
	"github.com/ewent-la/reservation-core/internal/ratelimit"
	"github.com/ewent-la/reservation-core/internal/realtime"
	"github.com/ewent-la/reservation-core/internal/session"
	_ "github.com/ewent-la/reservation-core/migrations"
	"github.com/ewent-la/reservation-core/monitoring"
	"github.com/ewent-la/reservation-core/utils"
)

func main() {
	app := pocketbase.New()

	cfg := config.LoadConfig()

	redisClient := utils.NewRedisClient(cfg.RedisURL)
	defer redisClient.Close()

	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey
	pn := pubnub.NewPubNub(pnConfig)
	notifier := realtime.New(pn)

	tbClient, err := ledger.NewClient(ledger.Config{
		ClusterID: uint64(cfg.TBClusterID),
		Addresses: []string{cfg.TBAddress},
	})
	if err != nil {
		log.Fatalf("failed to connect to ledger: %v", err)
	}
	defer tbClient.Close()

	metrics := monitoring.NewBatcherMetrics()
	breaker := utils.NewCircuitBreaker("ledger")
	batcher := ledger.New(tbClient, breaker, metrics)
	defer batcher.Close()

	acc := accounting.New(batcher)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := acc.InitializeSupply(initCtx, accounting.Supply{
		Goodies: cfg.GoodieSupply,
		ClassA:  cfg.TicketSupplyA,
		ClassB:  cfg.TicketSupplyB,
	}); err != nil {
		cancelInit()
		log.Fatalf("failed to initialize ledger supply: %v", err)
	}
	cancelInit()

	sessionStore := session.New(redisClient, cfg.HoldTimeout+60*time.Second)
	orderStore := orders.New(app)
	limiter := ratelimit.New(redisClient, int64(cfg.CheckoutRateLimit), cfg.CheckoutRateWindow)
	provider := mockprovider.New(cfg.MockWebhookURL, cfg.WebhookSecret, cfg.HoldTimeout+cfg.SweepGrace)

	pricing := func(class string) (int64, string) {
		if class == "A" {
			return 5000, "USD"
		}
		return 2000, "USD"
	}

	orchestrator := checkout.New(acc, sessionStore, orderStore, provider, notifier,
		cfg.HoldTimeout, cfg.SweepGrace, cfg.WebhookSkew, cfg.WebhookSecret, pricing)

	checkoutHandler := handlers.NewCheckoutHandler(orchestrator, provider, limiter, cfg.WebhookDeadline)

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runSweep(ctx, app, orchestrator, cfg.SweepInterval, cfg.SweepGrace)
	go handleShutdown(cancel)

	if cfg.EnableMetrics {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		e.Router.POST("/checkout", checkoutHandler.Checkout)
		e.Router.GET("/orders/{id}", checkoutHandler.GetOrder)
		e.Router.POST("/payments/webhook", checkoutHandler.Webhook)
		e.Router.GET("/payments/mock/{intent_id}", checkoutHandler.MockRedirect)

		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
			}
			if _, err := batcher.LookupAccounts(e.Request.Context(), []tbtypes.Uint128{ledger.RestartCounterPair.SpentID()}); err != nil {
				return e.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
			}
			if err := orderStore.Ping(); err != nil {
				return e.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

// runSweep periodically voids and transitions HELD orders whose hold
// expired past the grace window.
func runSweep(ctx context.Context, app *pocketbase.PocketBase, o *checkout.Orchestrator, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-grace)
			records, err := app.FindRecordsByFilter(
				"orders",
				"status = 'HELD' && hold_expires_at < {:cutoff}",
				"",
				200,
				0,
				map[string]any{"cutoff": cutoff},
			)
			if err != nil {
				log.Printf("sweep: query expired holds: %v", err)
				monitoring.TrackSweep("error", 0)
				continue
			}
			if len(records) == 0 {
				monitoring.TrackSweep("noop", 0)
				continue
			}

			expired := make([]orders.Order, 0, len(records))
			for _, r := range records {
				expired = append(expired, orders.Order{
					OrderID:         r.GetString("order_id"),
					Class:           r.GetString("class"),
					TicketPendingID: r.GetString("ticket_pending_id"),
					GoodiePendingID: r.GetString("goodie_pending_id"),
				})
			}

			n := o.SweepTimedOutHolds(ctx, expired)
			monitoring.TrackSweep("ok", n)
		}
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
