package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/bookflow/internal/domain"
)

// LoadActive выполняет "холодную загрузку" актуального документа политики.
// Отсутствие активной политики — не ошибка: вызывающий подставит
// встроенный дефолт. Битый документ — ошибка всегда.
func (r *Repo) LoadActive(ctx context.Context) (*domain.RiskPolicy, error) {
	query := `
		SELECT doc FROM risk_policies
		WHERE active
		ORDER BY updated_at DESC
		LIMIT 1`

	var doc []byte
	err := r.pool.QueryRow(ctx, query).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Источник не сконфигурирован
		}
		return nil, fmt.Errorf("postgres: failed to load risk policy: %w", err)
	}

	var p domain.RiskPolicy
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("postgres: malformed risk policy document: %w", err)
	}
	return &p, nil
}

// SavePolicy сохраняет новую версию документа и делает ее активной.
// Предыдущие версии остаются в таблице для истории и отката.
func (r *Repo) SavePolicy(ctx context.Context, p *domain.RiskPolicy) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal risk policy: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE risk_policies SET active = FALSE WHERE active`); err != nil {
		return fmt.Errorf("postgres: failed to deactivate policies: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO risk_policies (version, active, doc, updated_at) VALUES ($1, TRUE, $2, NOW())
		 ON CONFLICT (version) DO UPDATE SET active = TRUE, doc = EXCLUDED.doc, updated_at = NOW()`,
		p.Version, doc); err != nil {
		return fmt.Errorf("postgres: failed to insert policy: %w", err)
	}

	return tx.Commit(ctx)
}
