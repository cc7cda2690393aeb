package policy

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/bookflow/internal/infra"
	"go.uber.org/zap"
)

// ReloadChannel — канал Redis, по которому консоль сигналит о смене политики.
const ReloadChannel = infra.RedisChanPolicyReload

// ListenReload — "живучая" подписка на сигналы перезагрузки политики.
// Обрабатывает переподключения: при каждом успешном коннекте выполняется
// полный Refresh (синхронизация на случай пропущенных сигналов).
func (s *Store) ListenReload(ctx context.Context, rdb *redis.Client) {
	for {
		pubsub := rdb.Subscribe(ctx, ReloadChannel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			s.logger.Error("failed to subscribe", zap.String("chan", ReloadChannel), zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте
		if err := s.Refresh(ctx); err != nil {
			s.logger.Error("policy sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				s.logger.Info("policy reload signal received", zap.String("payload", msg.Payload))
				if err := s.Refresh(ctx); err != nil {
					s.logger.Error("policy reload failed, keeping previous version", zap.Error(err))
				}
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
