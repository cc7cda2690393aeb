package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xela07ax/bookflow/internal/worker"

	"github.com/google/uuid"
)

/*
Долговечная очередь джоб поверх той же базы.

- Единственность прогона саги обеспечивает частичный уникальный индекс
  по (job_type, singleton_key) для живых джоб: вторая постановка той же
  саги тихо схлопывается (ON CONFLICT DO NOTHING / 23505).
- Выборка пачки — UPDATE по подзапросу с FOR UPDATE SKIP LOCKED:
  конкурирующие воркеры не дерутся за одни и те же строки.
- Ретраи джоб ограничены max_attempts с экспоненциальным бэкоффом.
*/

const uniqueViolation = "23505"

// Enqueue ставит джобу в очередь.
func (r *Repo) Enqueue(ctx context.Context, job worker.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	backoffSeconds := int(job.Backoff / time.Second)
	if backoffSeconds <= 0 {
		backoffSeconds = 5
	}

	query := `
		INSERT INTO jobs (id, job_type, payload, singleton_key, status, attempts, max_attempts, backoff_seconds, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6, NOW(), NOW(), NOW())
		ON CONFLICT DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.Type, []byte(job.Payload), nullable(job.SingletonKey),
		job.MaxAttempts, backoffSeconds)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil // Живая джоба с этим singleton-ключом уже есть
		}
		return fmt.Errorf("postgres: failed to enqueue job: %w", err)
	}
	return nil
}

// DequeueBatch атомарно забирает пачку джоб в работу.
func (r *Repo) DequeueBatch(ctx context.Context, jobType worker.JobType, limit int) ([]worker.Job, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		UPDATE jobs SET status = 'active', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE job_type = $1 AND status = 'pending' AND run_at <= NOW()
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, payload, singleton_key, attempts, max_attempts, backoff_seconds`

	rows, err := r.pool.Query(ctx, query, jobType, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to dequeue jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]worker.Job, 0, limit)
	for rows.Next() {
		var j worker.Job
		var singletonKey *string
		var backoffSeconds int

		if err := rows.Scan(&j.ID, &j.Type, &j.Payload, &singletonKey,
			&j.Attempts, &j.MaxAttempts, &backoffSeconds); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan job: %w", err)
		}
		if singletonKey != nil {
			j.SingletonKey = *singletonKey
		}
		j.Backoff = time.Duration(backoffSeconds) * time.Second
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return jobs, nil
}

// Complete помечает джобу выполненной.
func (r *Repo) Complete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to complete job: %w", err)
	}
	return nil
}

// Fail возвращает джобу в pending с экспоненциальным бэкоффом либо
// хоронит ее, когда попытки исчерпаны.
func (r *Repo) Fail(ctx context.Context, id string, reason string) error {
	query := `
		UPDATE jobs SET
			status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
			run_at = NOW() + (backoff_seconds * POWER(2, GREATEST(attempts - 1, 0)) || ' seconds')::interval,
			last_error = $2,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: failed to fail job: %w", err)
	}
	return nil
}
