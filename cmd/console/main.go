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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentpay-gateway/internal/console/handler"
	"github.com/xela07ax/agentpay-gateway/internal/console/server"
	"github.com/xela07ax/agentpay-gateway/internal/console/service"
	"github.com/xela07ax/agentpay-gateway/internal/infra"
	"github.com/xela07ax/agentpay-gateway/internal/infra/auth"
	"github.com/xela07ax/agentpay-gateway/internal/repository/postgres"
)

func main() {
	// 1. Инициализация ресурсов
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

	// Проверяем соединение с таймаутом
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

	// 2. RSA ключи: приватный подписывает токены, публичный их проверяет
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("private key parse failed", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key parse failed", zap.Error(err))
	}
	validator := auth.NewBaseValidator(publicKey)

	// 3. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(store, privateKey, cfg.Auth.TokenTTL)
	agentService := service.NewAgentService(rdb, store, validator, logger)
	approvalService := service.NewApprovalService(rdb, store, logger)
	intentService := service.NewIntentService(store)
	dashService := service.NewDashboardService(store)
	auditService := service.NewAuditService(store)

	srv := server.NewConsoleServer(
		cfg,
		logger,
		agentService, // embeds BaseValidator
		handler.NewAuthHandler(authService),
		handler.NewAgentHandler(agentService),
		handler.NewApprovalHandler(approvalService),
		handler.NewIntentHandler(intentService),
		handler.NewDashboardHandler(dashService),
		handler.NewAuditHandler(auditService),
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 4. Запуск и graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
	logger.Info("console exited properly")
}
