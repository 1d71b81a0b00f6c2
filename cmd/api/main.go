package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ordlink/ordercore/internal/config"
	"github.com/ordlink/ordercore/internal/handler"
	"github.com/ordlink/ordercore/internal/logging"
	"github.com/ordlink/ordercore/internal/middleware"
	"github.com/ordlink/ordercore/internal/notify"
	"github.com/ordlink/ordercore/internal/repository"
	"github.com/ordlink/ordercore/internal/service/account"
	"github.com/ordlink/ordercore/internal/service/credit"
	"github.com/ordlink/ordercore/internal/service/idempotency"
	"github.com/ordlink/ordercore/internal/service/inbound"
	"github.com/ordlink/ordercore/internal/service/ledger"
	"github.com/ordlink/ordercore/internal/service/order"
	"github.com/ordlink/ordercore/internal/service/routing"
	"github.com/ordlink/ordercore/internal/txn"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("ordercore-api", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	accountRepo := repository.NewCreditAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	orderEventRepo := repository.NewOrderEventRepository(db)
	routingRepo := repository.NewRoutingRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)
	inboundEventRepo := repository.NewInboundEventRepository(db)

	txManager := txn.NewManager(db, txn.RetryPolicy{
		MaxAttempts: cfg.TxMaxAttempts,
		BaseDelay:   time.Duration(cfg.TxBaseDelayMs) * time.Millisecond,
		MaxElapsed:  time.Duration(cfg.TxMaxElapsedMs) * time.Millisecond,
	}, time.Duration(cfg.TxLockTimeoutMs)*time.Millisecond, time.Duration(cfg.TxStmtTimeoutMs)*time.Millisecond)

	ledgerSvc := ledger.NewService(ledgerRepo, accountRepo, txManager, db)
	creditSvc := credit.NewService(accountRepo, reservationRepo, ledgerSvc, txManager)
	accountSvc := account.NewService(accountRepo, ledgerSvc, creditSvc, txManager, db)
	orderSvc := order.NewService(orderRepo, orderEventRepo, creditSvc, nil, txManager, db)
	routingSvc := routing.NewService(routingRepo, orderSvc, notify.NewLogNotifier(logger), txManager, db)
	orderSvc.SetBroadcaster(routingSvc)
	idempotencySvc := idempotency.NewService(idempotencyRepo, cfg.IdempotencyTTL())

	sweeper := idempotency.NewSweeper(idempotencySvc, logger, cfg.IdempotencySweepInterval())
	go sweeper.Start(ctx)

	processor := inbound.NewProcessor(inboundEventRepo, orderSvc, logger, cfg.InboundPollInterval(), cfg.InboundBatchSize)
	go processor.Start(ctx)

	router := newRouter(cfg, handlerSet{
		health:   handler.NewHealthHandler(db),
		accounts: handler.NewAccountHandler(accountSvc, ledgerSvc),
		orders:   handler.NewOrderHandler(orderSvc),
		routings: handler.NewRoutingHandler(routingSvc),
		webhook:  handler.NewWebhookHandler(inboundEventRepo, cfg.SourceWebhookSecret, cfg.WebhookMaxSkew()),
	}, idempotencySvc)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

type handlerSet struct {
	health   *handler.HealthHandler
	accounts *handler.AccountHandler
	orders   *handler.OrderHandler
	routings *handler.RoutingHandler
	webhook  *handler.WebhookHandler
}

func newRouter(cfg *config.Config, h handlerSet, idemSvc *idempotency.Service) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.Metrics)

	r.HandleFunc("/health", h.health.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	idem := middleware.Idempotency(idemSvc)

	// Inbound source events authenticate with an HMAC signature, not a
	// token. Deliveries still carry an Idempotency-Key, checked before the
	// signature, so a retried delivery replays the original ack.
	api.Handle("/webhooks/source", idem(http.HandlerFunc(h.webhook.ReceiveSourceEvent))).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.Auth(cfg.AdminJWTSecret))

	authed.Handle("/orders", idem(http.HandlerFunc(h.orders.Place))).Methods(http.MethodPost)
	authed.HandleFunc("/orders/{id}", h.orders.Get).Methods(http.MethodGet)
	authed.HandleFunc("/orders/{id}/events", h.orders.GetHistory).Methods(http.MethodGet)
	authed.Handle("/orders/{id}/transition", idem(http.HandlerFunc(h.orders.Transition))).Methods(http.MethodPost)
	authed.Handle("/orders/{id}/fulfill", idem(http.HandlerFunc(h.orders.Fulfill))).Methods(http.MethodPost)
	authed.Handle("/orders/{id}/cancel", idem(http.HandlerFunc(h.orders.Cancel))).Methods(http.MethodPost)

	authed.HandleFunc("/routings/{id}", h.routings.Get).Methods(http.MethodGet)
	authed.Handle("/routings/{id}/responses", idem(http.HandlerFunc(h.routings.Respond))).Methods(http.MethodPost)

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireRole("admin"))

	admin.Handle("/accounts", idem(http.HandlerFunc(h.accounts.Create))).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}", h.accounts.Get).Methods(http.MethodGet)
	admin.Handle("/accounts/{id}/pause", idem(http.HandlerFunc(h.accounts.Pause))).Methods(http.MethodPost)
	admin.Handle("/accounts/{id}/unpause", idem(http.HandlerFunc(h.accounts.Unpause))).Methods(http.MethodPost)
	admin.Handle("/accounts/{id}/limit", idem(http.HandlerFunc(h.accounts.UpdateLimit))).Methods(http.MethodPut)
	admin.Handle("/accounts/{id}/ledger", idem(http.HandlerFunc(h.accounts.AppendEntry))).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}/ledger", h.accounts.ListEntries).Methods(http.MethodGet)
	admin.HandleFunc("/accounts/{id}/reconcile", h.accounts.Reconcile).Methods(http.MethodGet)

	return r
}
