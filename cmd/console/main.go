package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/xela07ax/bookflow/internal/console/handler"
	"github.com/xela07ax/bookflow/internal/console/server"
	"github.com/xela07ax/bookflow/internal/console/service"
	"github.com/xela07ax/bookflow/internal/infra"
	"github.com/xela07ax/bookflow/internal/infra/auth"
	"github.com/xela07ax/bookflow/internal/policy"
	"github.com/xela07ax/bookflow/internal/repository/postgres"
	"github.com/xela07ax/bookflow/internal/risk"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 2. Инициализация ресурсов
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	repo, err := postgres.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	cancel()
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer repo.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Проверка операторских токенов (RS256, публичный ключ из конфига)
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// Кэш политики для валидации подаваемых планов
	policyStore, err := policy.NewStore(repo, logger, risk.Options{})
	if err != nil {
		logger.Fatal("failed to init policy store", zap.Error(err))
	}
	if err := policyStore.Refresh(context.Background()); err != nil {
		logger.Warn("initial policy load failed, using built-in default", zap.Error(err))
	}

	// 3. Инициализация слоев (Dependency Injection)
	approvalService := service.NewApprovalService(repo, repo, logger)
	sagaService := service.NewSagaService(repo, repo, policyStore, logger)
	policyService := service.NewPolicyService(repo, rdb, logger)

	consoleSrv := server.NewConsoleServer(cfg, logger, validator,
		handler.NewApprovalHandler(approvalService),
		handler.NewSagaHandler(sagaService),
		handler.NewPolicyHandler(policyService),
	)

	// 4. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("console API started", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("console server failed", zap.Error(err))
	}
}
