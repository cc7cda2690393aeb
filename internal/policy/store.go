package policy

import (
	"context"
	"sync"

	"github.com/xela07ax/bookflow/internal/domain"
	"github.com/xela07ax/bookflow/internal/risk"

	"go.uber.org/zap"
)

// Repository загружает актуальный документ политики риска.
// (nil, nil) означает "источник не сконфигурирован" — это не ошибка.
type Repository interface {
	LoadActive(ctx context.Context) (*domain.RiskPolicy, error)
}

// Store — кэш движка риска. В рантайме горячий путь обращается только
// к памяти; Refresh выполняет холодную загрузку из репозитория и собирает
// НОВЫЙ экземпляр движка (перезагрузка = новая сборка, без скрытого
// мутабельного глобального состояния).
type Store struct {
	mu     sync.RWMutex
	engine *risk.Engine

	repo   Repository // Используется только в Refresh()
	opts   risk.Options
	logger *zap.Logger
}

func NewStore(repo Repository, logger *zap.Logger, opts risk.Options) (*Store, error) {
	// Стартуем на встроенном дефолте: движок доступен сразу,
	// даже если первый Refresh еще не прошел
	eng, err := risk.NewEngine(nil, logger, opts)
	if err != nil {
		return nil, err
	}
	return &Store{
		engine: eng,
		repo:   repo,
		opts:   opts,
		logger: logger.Named("policy-store"),
	}, nil
}

// Engine возвращает актуальный движок (Hot Path, только RAM).
func (s *Store) Engine() *risk.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Refresh загружает политику и подменяет движок целиком.
// Поврежденная политика не подменяет рабочую: ошибка уходит наверх,
// движок продолжает работать на предыдущей версии.
func (s *Store) Refresh(ctx context.Context) error {
	var loaded *domain.RiskPolicy
	if s.repo != nil {
		var err error
		loaded, err = s.repo.LoadActive(ctx)
		if err != nil {
			return domain.NewOpError(domain.KindPolicyError, "", "failed to load risk policy", err)
		}
	}

	eng, err := risk.NewEngine(loaded, s.logger, s.opts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()

	s.logger.Info("risk policy refreshed", zap.String("version", eng.PolicyVersion()))
	return nil
}
