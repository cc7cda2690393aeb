package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/bookflow/internal/domain"
	"github.com/xela07ax/bookflow/internal/infra"
	"github.com/xela07ax/bookflow/internal/risk"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PolicyRepository описывает требования сервиса к хранилищу политик.
type PolicyRepository interface {
	LoadActive(ctx context.Context) (*domain.RiskPolicy, error)
	SavePolicy(ctx context.Context, p *domain.RiskPolicy) error
}

// PolicyService управляет версиями политики риска и рассылает сигнал
// перезагрузки всем инстансам воркера.
type PolicyService struct {
	repo   PolicyRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPolicyService(repo PolicyRepository, rdb *redis.Client, logger *zap.Logger) *PolicyService {
	return &PolicyService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("policies"),
	}
}

// GetActive возвращает активный документ политики.
// Несконфигурированный источник отдает встроенный дефолт.
func (s *PolicyService) GetActive(ctx context.Context) (*domain.RiskPolicy, error) {
	p, err := s.repo.LoadActive(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return domain.DefaultRiskPolicy(), nil
	}
	return p, nil
}

// Update валидирует новую версию политики, сохраняет ее активной и
// уведомляет воркеры. Битый документ отклоняется до записи в базу.
func (s *PolicyService) Update(ctx context.Context, p *domain.RiskPolicy) error {
	if p.Version == "" {
		return fmt.Errorf("policy version is required")
	}
	// Сборка движка — и есть валидация документа
	if _, err := risk.NewEngine(p, s.logger, risk.Options{}); err != nil {
		return err
	}

	if err := s.repo.SavePolicy(ctx, p); err != nil {
		return err
	}
	return s.NotifyReload(ctx)
}

// NotifyReload отправляет широковещательный сигнал в Redis.
// Все инстансы воркера, подписанные на канал, перечитают политику из базы.
func (s *PolicyService) NotifyReload(ctx context.Context) error {
	if err := s.rdb.Publish(ctx, infra.RedisChanPolicyReload, "refresh").Err(); err != nil {
		return fmt.Errorf("failed to publish reload signal: %w", err)
	}
	s.logger.Info("policy reload signal published")
	return nil
}
