package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/bookflow/internal/audit"
)

// WriteBatch сохраняет пачку событий аудита одной вставкой (Bulk Insert).
// Вызывается только воркером Trail, никогда из Hot Path.
func (r *Repo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_events
	numFields := 10
	placeholders := make([]string, 0, len(events))
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10))

		metadata, _ := json.Marshal(e.Metadata)
		vals = append(vals,
			e.ID, e.TraceID, e.EventType,
			nullable(e.ActionID), nullable(e.SagaID), nullable(e.EmailID),
			e.Description, metadata, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO audit_events (id, trace_id, event_type, action_id, saga_id, email_id, description, metadata, duration_ms, ts) VALUES %s",
		strings.Join(placeholders, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}

// ListBySaga — след саги для консоли (в хронологическом порядке).
func (r *Repo) ListBySaga(ctx context.Context, sagaID string, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	query := `
		SELECT id, trace_id, event_type, action_id, saga_id, email_id, description, metadata, duration_ms, ts
		FROM audit_events
		WHERE saga_id = $1
		ORDER BY ts ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, sagaID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit events: %w", err)
	}
	defer rows.Close()

	results := make([]audit.Event, 0)
	for rows.Next() {
		var e audit.Event
		var actionID, sagaRef, emailID *string
		var metadata []byte

		if err := rows.Scan(&e.ID, &e.TraceID, &e.EventType,
			&actionID, &sagaRef, &emailID,
			&e.Description, &metadata, &e.DurationMs, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit event: %w", err)
		}

		if actionID != nil {
			e.ActionID = *actionID
		}
		if sagaRef != nil {
			e.SagaID = *sagaRef
		}
		if emailID != nil {
			e.EmailID = *emailID
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &e.Metadata)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
