package engine

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings — пороги предохранителя, одинаковые для всех целевых систем.
type BreakerSettings struct {
	FailureThreshold uint32        // Подряд идущих ошибок до открытия
	ResetTimeout     time.Duration // Пауза перед пробным вызовом (half-open)
	SuccessThreshold uint32        // Успехов в half-open до закрытия
	Interval         time.Duration // Окно сброса счетчиков в closed
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout == 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 2
	}
	return s
}

// Breakers — реестр предохранителей, по одному на имя целевой системы.
// Состояние каждого breaker'а живет до конца процесса либо до явного Reset.
// Доступ конкурентный: воркеры из пула бьют в одни и те же цели.
type Breakers struct {
	mu       sync.Mutex
	byTarget map[string]*gobreaker.CircuitBreaker
	settings BreakerSettings
	logger   *zap.Logger
	metrics  *Metrics
}

func NewBreakers(settings BreakerSettings, logger *zap.Logger, metrics *Metrics) *Breakers {
	return &Breakers{
		byTarget: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings.withDefaults(),
		logger:   logger.Named("breakers"),
		metrics:  metrics,
	}
}

// Get возвращает breaker целевой системы, лениво создавая его.
func (b *Breakers) Get(target string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.byTarget[target]; ok {
		return cb
	}
	cb := b.newBreaker(target)
	b.byTarget[target] = cb
	return cb
}

// Reset — административный аварийный выход: принудительно "закрывает"
// breaker цели, подменяя его свежим экземпляром с нулевыми счетчиками.
func (b *Breakers) Reset(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.byTarget[target] = b.newBreaker(target)
	b.metrics.CircuitBreakerState.WithLabelValues(target).Set(0)
	b.logger.Warn("circuit breaker force-reset", zap.String("target", target))
}

// State — снапшот состояния для мониторинга (никогда не мутабельная ссылка).
func (b *Breakers) State(target string) gobreaker.State {
	return b.Get(target).State()
}

func (b *Breakers) newBreaker(target string) *gobreaker.CircuitBreaker {
	failureThreshold := b.settings.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: target,
		// В half-open закрываемся после SuccessThreshold подряд успехов
		MaxRequests: b.settings.SuccessThreshold,
		Interval:    b.settings.Interval,
		Timeout:     b.settings.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.metrics.CircuitBreakerState.WithLabelValues(name).Set(stateGaugeValue(to))
			b.logger.Warn("circuit breaker state change",
				zap.String("target", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

func stateGaugeValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
