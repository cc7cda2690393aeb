package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/bookflow/internal/connectors"
	"github.com/xela07ax/bookflow/internal/domain"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ResilienceConfig — настройки слоя надежности для исходящих вызовов.
type ResilienceConfig struct {
	Attempts    uint          // Попыток на один вызов (включая первую)
	CallTimeout time.Duration // Жесткий таймаут одной попытки
	RateLimit   rate.Limit    // Запросов в секунду на весь executor
	RateBurst   int
	Breaker     BreakerSettings
}

func (c ResilienceConfig) withDefaults() ResilienceConfig {
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = rate.Limit(100)
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	return c
}

// Resilience оборачивает каждый исходящий вызов во внешнюю систему:
// rate limiter -> circuit breaker (по имени цели) -> retry с бэкоффом,
// каждая попытка под своим таймаутом. Бизнес-семантики слой не знает.
type Resilience struct {
	cfg      ResilienceConfig
	breakers *Breakers
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewResilience(cfg ResilienceConfig, logger *zap.Logger, metrics *Metrics) *Resilience {
	cfg = cfg.withDefaults()
	return &Resilience{
		cfg:      cfg,
		breakers: NewBreakers(cfg.Breaker, logger, metrics),
		limiter:  rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:   logger.Named("resilience"),
	}
}

// Breakers — доступ к реестру для административного Reset и мониторинга.
func (r *Resilience) Breakers() *Breakers { return r.breakers }

// Do выполняет вызов под защитой. Решение "звонить или нет" (риск, approval)
// принимается один раз до Do — ретраи касаются только самого вызова.
func (r *Resilience) Do(ctx context.Context, target string, call func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	cb := r.breakers.Get(target)
	_, err := cb.Execute(func() (interface{}, error) {
		rt := retry.New(
			retry.Context(ctx),
			retry.Attempts(r.cfg.Attempts),
			retry.RetryIf(isRetryable),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если адаптер вернул ThrottleError (считал Retry-After заголовок)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := rt.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
			defer cancel()
			return call(tCtx)
		})

		return nil, retryErr
	})

	if err != nil {
		// Breaker отсек вызов — адаптер даже не вызывался
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.NewOpError(domain.KindCircuitOpen, target,
				"circuit breaker rejected the call", err)
		}
		return err
	}
	return nil
}

// isRetryable: клиентские ошибки (4xx) и неподдерживаемые операции (501)
// ретраить бессмысленно — ответ не изменится.
func isRetryable(err error) bool {
	var ae *connectors.AdapterError
	if errors.As(err, &ae) {
		if ae.StatusCode >= 400 && ae.StatusCode < 500 {
			return false
		}
		if ae.StatusCode == 501 {
			return false
		}
	}
	return true
}
