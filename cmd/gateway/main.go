package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentpay-gateway/internal/audit"
	"github.com/xela07ax/agentpay-gateway/internal/authorizer"
	"github.com/xela07ax/agentpay-gateway/internal/billing"
	"github.com/xela07ax/agentpay-gateway/internal/connectors"
	"github.com/xela07ax/agentpay-gateway/internal/engine"
	"github.com/xela07ax/agentpay-gateway/internal/infra"
	"github.com/xela07ax/agentpay-gateway/internal/issuing"
	"github.com/xela07ax/agentpay-gateway/internal/ledger"
	"github.com/xela07ax/agentpay-gateway/internal/merchant"
	"github.com/xela07ax/agentpay-gateway/internal/repository/postgres"
	"github.com/xela07ax/agentpay-gateway/internal/settlement"
)

func main() {
	// 1. Инфраструктура и ресурсы
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	store, err := postgres.New(cfg.Database.URL)
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	defer store.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Контекст для управления жизненным циклом фоновых горутин.
	// При срабатывании SIGTERM cancel() остановит слушателей и свип
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Observability: аудит-трейл и метрики
	trail := audit.NewTrail(store, logger)
	trail.Start()
	defer trail.Stop()

	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		logger.Info("metrics exporter started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 3. Control Plane: L1-кэш статусов агентов (pause / kill-switch)
	statuses := engine.NewAgentStatusManager(rdb, store, logger)
	if err := statuses.Init(appCtx); err != nil {
		logger.Fatal("agent status cache init failed", zap.Error(err))
	}
	go statuses.StartListener(appCtx)

	// 4. Execution Layer: платежный провайдер + стек устойчивости
	provider := engine.NewReliableProvider(connectors.NewMockPaymentProvider(), cfg.Provider, metrics)

	preauth := issuing.NewFundingPreAuthorizer(provider, logger)
	issuer := issuing.NewCardIssuer(provider, cfg.Settlement.CardTTL, logger)

	// 5. Core: авторизация, комиссии, выпуск карт
	spends := ledger.New(store)
	vendors := merchant.NewRegistry(store)
	auth := authorizer.New(store, spends, vendors, logger)
	calc := billing.NewCalculator(store)

	core := engine.NewCore(store, auth, calc, preauth, issuer, vendors, trail, metrics, logger)

	// Пробуждение по HITL-решениям консоли
	listener := engine.NewApprovalListener(core, rdb, logger)
	go listener.Start(appCtx)

	// Expiry sweep: просроченные карты, зависшие холды, потерянные HITL-сигналы
	sweeper := engine.NewSweeper(store, provider, trail, core.CompleteApprovedIntent, cfg.Settlement.SweepInterval, logger)
	go sweeper.Run(appCtx)

	// Сеттлмент: вебхуки карточной сети
	reconciler := settlement.NewReconciler(store, provider, trail, logger)
	webhook := settlement.NewWebhookHandler(reconciler, cfg.Settlement.WebhookSecret, logger)

	// 6. HTTP API
	protect := func(h http.Handler) http.Handler {
		return engine.TracingMiddleware(engine.APIKeyMiddleware(store, statuses, logger)(h))
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/purchase_intent", protect(http.HandlerFunc(core.HandlePurchaseIntent)))
	// Опрос статуса (и получение карты после HITL-одобрения)
	mux.Handle("/v1/purchase_intent/", protect(http.HandlerFunc(core.HandleIntentStatus)))
	mux.Handle("/webhooks/network", webhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
	cancel()
	logger.Info("gateway exited properly")
}
