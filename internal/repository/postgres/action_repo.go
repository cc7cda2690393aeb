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
Записи действий храним как JSONB-документ плюс вынесенные колонки для
фильтрации. Документ — источник истины: Save заменяет его целиком,
частичных апдейтов полей нет.
*/

// SaveAction — upsert всей записи жизненного цикла.
func (r *Repo) SaveAction(ctx context.Context, a *domain.ActionRecord) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal action record: %w", err)
	}

	query := `
		INSERT INTO actions (id, email_id, action_type, target_system, status, requires_approval, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    doc = EXCLUDED.doc,
		    updated_at = NOW()`

	_, err = r.pool.Exec(ctx, query,
		a.ID, a.EmailID, a.ActionType, a.TargetSystem, a.Status, a.RequiresApproval, doc)
	if err != nil {
		return fmt.Errorf("postgres: failed to save action: %w", err)
	}
	return nil
}

// GetAction загружает запись по ID.
func (r *Repo) GetAction(ctx context.Context, id string) (*domain.ActionRecord, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM actions WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("action %s not found", id)
		}
		return nil, fmt.Errorf("postgres: failed to load action: %w", err)
	}

	var a domain.ActionRecord
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("postgres: corrupt action document %s: %w", id, err)
	}
	return &a, nil
}

// ListPendingApprovals — очередь решений для консоли (Decision Queue).
func (r *Repo) ListPendingApprovals(ctx context.Context, limit int) ([]*domain.ActionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	query := `
		SELECT doc FROM actions
		WHERE status = 'pending' AND requires_approval
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query pending approvals: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.ActionRecord, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan action: %w", err)
		}
		var a domain.ActionRecord
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, fmt.Errorf("postgres: corrupt action document: %w", err)
		}
		results = append(results, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// DecideAction атомарно фиксирует решение оператора.
// Условие status = 'pending' предотвращает Double Decision: повторное
// решение по той же записи вернет ошибку, а не перезапишет первое.
func (r *Repo) DecideAction(ctx context.Context, id string, approved bool, reviewerID, comment string) (*domain.ActionRecord, error) {
	newStatus := domain.ActionRejected
	patch := map[string]interface{}{"rejected_by": reviewerID}
	if approved {
		newStatus = domain.ActionApproved
		patch = map[string]interface{}{"approved_by": reviewerID}
	}
	if comment != "" {
		patch["comment"] = comment
	}
	patchDoc, _ := json.Marshal(patch)

	// RETURNING отдает обновленный документ за один проход,
	// без предварительного SELECT (исключаем Race Condition)
	query := `
		UPDATE actions
		SET status = $1,
		    doc = doc || $2::jsonb || jsonb_build_object('status', $1::text),
		    updated_at = NOW()
		WHERE id = $3 AND status = 'pending'
		RETURNING doc`

	var doc []byte
	err := r.pool.QueryRow(ctx, query, newStatus, patchDoc, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("action not found or already decided (id: %s)", id)
		}
		return nil, fmt.Errorf("postgres: failed to decide action: %w", err)
	}

	var a domain.ActionRecord
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("postgres: corrupt action document %s: %w", id, err)
	}
	return &a, nil
}
