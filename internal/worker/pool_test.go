package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memQueue — очередь в памяти с семантикой контракта Queue:
// singleton-ключи и ограничение попыток.
type memQueue struct {
	mu   sync.Mutex
	jobs []*memJob
}

type memJob struct {
	job    Job
	status string
}

func (q *memQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.SingletonKey != "" {
		for _, j := range q.jobs {
			if j.job.Type == job.Type && j.job.SingletonKey == job.SingletonKey &&
				(j.status == "pending" || j.status == "active") {
				return nil // Живая джоба уже есть
			}
		}
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	q.jobs = append(q.jobs, &memJob{job: job, status: "pending"})
	return nil
}

func (q *memQueue) DequeueBatch(ctx context.Context, jobType JobType, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, 0, limit)
	for _, j := range q.jobs {
		if len(out) >= limit {
			break
		}
		if j.job.Type == jobType && j.status == "pending" {
			j.status = "active"
			j.job.Attempts++
			out = append(out, j.job)
		}
	}
	return out, nil
}

func (q *memQueue) Complete(ctx context.Context, id string) error {
	return q.setStatus(id, "completed")
}

func (q *memQueue) Fail(ctx context.Context, id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.job.ID == id {
			if j.job.Attempts >= j.job.MaxAttempts {
				j.status = "failed"
			} else {
				j.status = "pending"
			}
			return nil
		}
	}
	return errors.New("job not found")
}

func (q *memQueue) setStatus(id, status string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.job.ID == id {
			j.status = status
			return nil
		}
	}
	return errors.New("job not found")
}

func (q *memQueue) countByStatus(status string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.status == status {
			n++
		}
	}
	return n
}

func testPoolConfig() Config {
	return Config{Workers: 2, PollInterval: 10 * time.Millisecond, BatchSize: 10}
}

func TestPoolProcessesJobs(t *testing.T) {
	queue := &memQueue{}
	pool := NewPool(queue, testPoolConfig(), zap.NewNop())

	var mu sync.Mutex
	seen := make(map[string]bool)
	pool.Register(JobRunSaga, func(ctx context.Context, job Job) error {
		var payload SagaPayload
		require.NoError(t, json.Unmarshal(job.Payload, &payload))
		mu.Lock()
		seen[payload.SagaID] = true
		mu.Unlock()
		return nil
	})

	for _, id := range []string{"saga-1", "saga-2", "saga-3"} {
		payload, _ := json.Marshal(SagaPayload{SagaID: id})
		require.NoError(t, queue.Enqueue(context.Background(), Job{
			Type:         JobRunSaga,
			Payload:      payload,
			SingletonKey: SagaSingletonKey(id),
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		return queue.countByStatus("completed") == 3
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Len(t, seen, 3)
	mu.Unlock()

	cancel()
	pool.Wait()
}

func TestPoolRoutesJobTypes(t *testing.T) {
	queue := &memQueue{}
	pool := NewPool(queue, testPoolConfig(), zap.NewNop())

	var runs, resumes int32
	var mu sync.Mutex
	pool.Register(JobRunSaga, func(ctx context.Context, job Job) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	})
	pool.Register(JobResumeSaga, func(ctx context.Context, job Job) error {
		mu.Lock()
		resumes++
		mu.Unlock()
		return nil
	})

	payload, _ := json.Marshal(SagaPayload{SagaID: "saga-1"})
	require.NoError(t, queue.Enqueue(context.Background(), Job{Type: JobRunSaga, Payload: payload}))
	require.NoError(t, queue.Enqueue(context.Background(), Job{Type: JobResumeSaga, Payload: payload}))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		return queue.countByStatus("completed") == 2
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, int32(1), runs)
	require.Equal(t, int32(1), resumes)
	mu.Unlock()

	cancel()
	pool.Wait()
}

func TestQueueSingletonKeyDeduplicates(t *testing.T) {
	queue := &memQueue{}
	payload, _ := json.Marshal(SagaPayload{SagaID: "saga-1"})

	job := Job{Type: JobRunSaga, Payload: payload, SingletonKey: SagaSingletonKey("saga-1")}
	require.NoError(t, queue.Enqueue(context.Background(), job))
	require.NoError(t, queue.Enqueue(context.Background(), job)) // Тихо схлопывается

	require.Equal(t, 1, queue.countByStatus("pending"))
}

func TestPoolRetriesUntilAttemptsExhausted(t *testing.T) {
	queue := &memQueue{}
	pool := NewPool(queue, testPoolConfig(), zap.NewNop())

	var calls int32
	var mu sync.Mutex
	pool.Register(JobExecuteAction, func(ctx context.Context, job Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("persistent failure")
	})

	payload, _ := json.Marshal(ActionPayload{ActionID: "act-1"})
	require.NoError(t, queue.Enqueue(context.Background(), Job{
		Type:        JobExecuteAction,
		Payload:     payload,
		MaxAttempts: 2,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		return queue.countByStatus("failed") == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, int32(2), calls)
	mu.Unlock()

	cancel()
	pool.Wait()
}
