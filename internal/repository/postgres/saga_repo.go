package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/bookflow/internal/domain"
)

/*
Сага персистится одним оператором: статус, current_step и ВЕСЬ
упорядоченный список шагов заменяются атомарно (replace whole list).
Частичного апдейта одного шага не существует по построению — это
закрывает гонки частичных обновлений между статусом и шагами.
*/

// SaveSaga — upsert саги целиком.
func (r *Repo) SaveSaga(ctx context.Context, s *domain.Saga) error {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal saga steps: %w", err)
	}

	query := `
		INSERT INTO sagas (id, email_id, status, current_step, total_steps, steps,
		                   started_at, completed_at, failed_at, compensated_at, error,
		                   created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    current_step = EXCLUDED.current_step,
		    steps = EXCLUDED.steps,
		    started_at = EXCLUDED.started_at,
		    completed_at = EXCLUDED.completed_at,
		    failed_at = EXCLUDED.failed_at,
		    compensated_at = EXCLUDED.compensated_at,
		    error = EXCLUDED.error,
		    updated_at = NOW()`

	_, err = r.pool.Exec(ctx, query,
		s.ID, s.EmailID, s.Status, s.CurrentStep, len(s.Steps), steps,
		s.StartedAt, s.CompletedAt, s.FailedAt, s.CompensatedAt, nullable(s.Error))
	if err != nil {
		return fmt.Errorf("postgres: failed to save saga: %w", err)
	}
	return nil
}

// GetSaga загружает сагу вместе со списком шагов.
func (r *Repo) GetSaga(ctx context.Context, id string) (*domain.Saga, error) {
	query := `
		SELECT id, email_id, status, current_step, total_steps, steps,
		       started_at, completed_at, failed_at, compensated_at, error,
		       created_at, updated_at
		FROM sagas WHERE id = $1`

	var s domain.Saga
	var steps []byte
	var errMsg *string

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.EmailID, &s.Status, &s.CurrentStep, &s.TotalSteps, &steps,
		&s.StartedAt, &s.CompletedAt, &s.FailedAt, &s.CompensatedAt, &errMsg,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("saga %s not found", id)
		}
		return nil, fmt.Errorf("postgres: failed to load saga: %w", err)
	}

	if err := json.Unmarshal(steps, &s.Steps); err != nil {
		return nil, fmt.Errorf("postgres: corrupt saga steps %s: %w", id, err)
	}
	if errMsg != nil {
		s.Error = *errMsg
	}
	return &s, nil
}

// ListAwaitingApproval — саги, остановленные на approval-гейте.
func (r *Repo) ListAwaitingApproval(ctx context.Context, limit int) ([]*domain.Saga, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	query := `SELECT id FROM sagas WHERE status = 'awaiting_approval' ORDER BY updated_at ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query awaiting sagas: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan saga id error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	results := make([]*domain.Saga, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSaga(ctx, id)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return results, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
