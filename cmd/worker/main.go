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

	"github.com/xela07ax/bookflow/internal/audit"
	"github.com/xela07ax/bookflow/internal/connectors"
	"github.com/xela07ax/bookflow/internal/engine"
	"github.com/xela07ax/bookflow/internal/infra"
	"github.com/xela07ax/bookflow/internal/policy"
	"github.com/xela07ax/bookflow/internal/repository/postgres"
	"github.com/xela07ax/bookflow/internal/risk"
	"github.com/xela07ax/bookflow/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
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

	// Контекст для управления жизненным циклом фоновых горутин
	// При срабатывании SIGTERM cancel() остановит слушателей и пул
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	repo, err := postgres.New(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
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

	// Асинхронный аудиторский след: данные летят в базу пачками
	trail := audit.NewTrail(repo, logger,
		cfg.Engine.AuditBufferSize, cfg.Engine.AuditBatchSize, cfg.Engine.AuditFlushInterval)
	trail.Start()

	// 3. Политика риска: кэш движка + живучая подписка на перезагрузку
	policyStore, err := policy.NewStore(repo, logger, risk.Options{
		StrictMode: cfg.Engine.RiskStrictMode,
		SkipRules:  cfg.Engine.RiskSkipRules,
	})
	if err != nil {
		logger.Fatal("failed to init policy store", zap.Error(err))
	}
	if err := policyStore.Refresh(appCtx); err != nil {
		// Не смертельно: работаем на встроенном дефолте до первого сигнала
		logger.Warn("initial policy load failed, using built-in default", zap.Error(err))
	}
	go policyStore.ListenReload(appCtx, rdb)

	// 4. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)
	trail.SetGauge(metrics.AuditBufferFill)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 5. Execution Layer (Исполнение + Надежность)
	resilience := engine.NewResilience(engine.ResilienceConfig{
		Attempts:    cfg.Engine.RetryAttempts,
		CallTimeout: cfg.Engine.CallTimeout,
		RateLimit:   rate.Limit(cfg.Engine.RateLimit),
		RateBurst:   cfg.Engine.RateBurst,
		Breaker: engine.BreakerSettings{
			FailureThreshold: cfg.Engine.CBFailureThreshold,
			ResetTimeout:     cfg.Engine.CBResetTimeout,
			SuccessThreshold: cfg.Engine.CBSuccessThreshold,
			Interval:         cfg.Engine.CBInterval,
		},
	}, logger, metrics)

	// Адаптеры внешних финансовых систем
	// TODO: заменить моки на реальные коннекторы, когда появятся sandbox-ключи
	adapters := []connectors.Adapter{
		connectors.NewMockBooksAdapter(),
		connectors.NewMockPayAdapter(),
	}

	dispatcher := engine.NewDispatcher(adapters, resilience, policyStore, repo, trail, metrics, logger,
		engine.DispatcherConfig{
			DryRun:        cfg.Engine.DryRun,
			SkipApprovals: cfg.Engine.SkipApprovals,
		})
	orchestrator := engine.NewOrchestrator(dispatcher, repo, trail, metrics, logger)

	// 6. Пул воркеров долговечной очереди
	pool := worker.NewPool(repo, worker.Config{
		Workers:      cfg.Worker.Count,
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
	}, logger)
	handlers := worker.NewHandlers(orchestrator, dispatcher, repo, repo, logger)
	handlers.RegisterAll(pool)
	pool.Start(appCtx)

	logger.Info("orchestration worker started",
		zap.Int("workers", cfg.Worker.Count),
		zap.Bool("dry_run", cfg.Engine.DryRun))

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("orchestration worker stopping...")
	cancel()

	// Ждем, пока воркеры дообработают взятые джобы
	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("worker pool shutdown timed out")
	}

	// Финальный сброс аудиторского следа (drain)
	trail.Stop()
	logger.Info("orchestration worker exited properly")
}
