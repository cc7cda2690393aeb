package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xela07ax/bookflow/internal/connectors"
	"github.com/xela07ax/bookflow/internal/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func newTestResilience(t *testing.T, breaker BreakerSettings, attempts uint) *Resilience {
	t.Helper()
	return NewResilience(ResilienceConfig{
		Attempts:    attempts,
		CallTimeout: time.Second,
		RateLimit:   rate.Inf,
		RateBurst:   1,
		Breaker:     breaker,
	}, zap.NewNop(), NewMetrics(nil))
}

var errBackend = errors.New("backend down")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	r := newTestResilience(t, BreakerSettings{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		SuccessThreshold: 1,
	}, 1)

	var calls int32
	failing := func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errBackend
	}

	// Два подряд сбоя открывают предохранитель
	require.Error(t, r.Do(context.Background(), "ledgerbooks", failing))
	require.Error(t, r.Do(context.Background(), "ledgerbooks", failing))
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// Третий вызов отсекается ДО адаптера
	err := r.Do(context.Background(), "ledgerbooks", failing)
	require.Error(t, err)
	require.Equal(t, domain.KindCircuitOpen, domain.KindOf(err))
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBreakerIsolatesTargets(t *testing.T) {
	r := newTestResilience(t, BreakerSettings{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	}, 1)

	require.Error(t, r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error {
		return errBackend
	}))

	// Предохранитель ledgerbooks открыт, paystream живет своей жизнью
	require.NoError(t, r.Do(context.Background(), "paystream", func(ctx context.Context) error {
		return nil
	}))
	err := r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error { return nil })
	require.Equal(t, domain.KindCircuitOpen, domain.KindOf(err))
}

func TestBreakerHalfOpenProbeClosesOnSuccess(t *testing.T) {
	r := newTestResilience(t, BreakerSettings{
		FailureThreshold: 1,
		ResetTimeout:     50 * time.Millisecond,
		SuccessThreshold: 1,
	}, 1)

	require.Error(t, r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error {
		return errBackend
	}))

	// Пока не истек ResetTimeout — отсекаемся
	err := r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error { return nil })
	require.Equal(t, domain.KindCircuitOpen, domain.KindOf(err))

	time.Sleep(80 * time.Millisecond)

	// Пробный вызов в half-open проходит и закрывает предохранитель
	require.NoError(t, r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error {
		return nil
	}))
	require.NoError(t, r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error {
		return nil
	}))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	r := newTestResilience(t, BreakerSettings{
		FailureThreshold: 1,
		ResetTimeout:     50 * time.Millisecond,
		SuccessThreshold: 1,
	}, 1)

	require.Error(t, r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error {
		return errBackend
	}))

	time.Sleep(80 * time.Millisecond)

	// Проба в half-open проваливается — снова open
	require.Error(t, r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error {
		return errBackend
	}))

	err := r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error { return nil })
	require.Equal(t, domain.KindCircuitOpen, domain.KindOf(err))
}

func TestBreakerAdminReset(t *testing.T) {
	r := newTestResilience(t, BreakerSettings{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour, // Сам не закроется
	}, 1)

	require.Error(t, r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error {
		return errBackend
	}))
	err := r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error { return nil })
	require.Equal(t, domain.KindCircuitOpen, domain.KindOf(err))

	r.Breakers().Reset("ledgerbooks")

	require.NoError(t, r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error {
		return nil
	}))
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	r := newTestResilience(t, BreakerSettings{FailureThreshold: 100}, 3)

	var calls int32
	err := r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errBackend
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetrySkipsClientErrors(t *testing.T) {
	r := newTestResilience(t, BreakerSettings{FailureThreshold: 100}, 3)

	var calls int32
	err := r.Do(context.Background(), "ledgerbooks", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return &connectors.AdapterError{System: "ledgerbooks", StatusCode: 404, Message: "not found"}
	})

	// 4xx не ретраится: ответ не изменится
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryHonorsThrottleDelay(t *testing.T) {
	r := newTestResilience(t, BreakerSettings{FailureThreshold: 100}, 2)

	var calls int32
	start := time.Now()
	err := r.Do(context.Background(), "paystream", func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &connectors.ThrottleError{RetryAfter: 60 * time.Millisecond, Cause: errBackend}
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	// Повтор подождал хотя бы заявленный Retry-After
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}
