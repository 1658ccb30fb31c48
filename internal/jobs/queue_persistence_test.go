package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]*Job)}
}

func (m *memoryStore) LoadJobs(_ context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, cloneJob(j))
	}
	return ret, nil
}

func (m *memoryStore) UpsertJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memoryStore) get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return cloneJob(j), ok
}

func TestQueue_RecoversPendingAndActiveJobsFromStore(t *testing.T) {
	store := newMemoryStore()
	now := time.Now()
	store.jobs["a"] = &Job{
		ID:        "a",
		Source:    "cron",
		DedupeKey: "/scripts/a_script.json",
		Status:    StatusPending,
		Payload:   JobPayload{ScriptPath: "/scripts/a_script.json"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	store.jobs["b"] = &Job{
		ID:        "b",
		Source:    "cron",
		DedupeKey: "/scripts/b_script.json",
		Status:    StatusGeneratingAudio,
		Payload:   JobPayload{ScriptPath: "/scripts/b_script.json"},
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q := NewQueue(1, store)

	jobs := q.List()
	require.Len(t, jobs, 2)
	got, ok := q.Get("b")
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)

	persisted, ok := store.get("b")
	require.True(t, ok)
	assert.Equal(t, StatusPending, persisted.Status)

	// Still deduplicated while pending.
	dup, created := q.Enqueue(EnqueueRequest{Source: "manual", DedupeKey: "/scripts/b_script.json"})
	assert.False(t, created)
	assert.Equal(t, "b", dup.ID)

	q.Start(func(_ context.Context, _ *Job) (*JobSummary, error) { return &JobSummary{}, nil })
	defer q.Stop()

	for _, id := range []string{"a", "b"} {
		require.Eventually(t, func() bool {
			got, ok := q.Get(id)
			return ok && got.Status == StatusCompleted
		}, time.Second, 10*time.Millisecond)
	}
}

func TestQueue_PersistsResultAndStatusUpdates(t *testing.T) {
	store := newMemoryStore()
	q := NewQueue(1, store)

	q.Start(func(_ context.Context, job *Job) (*JobSummary, error) {
		assert.NoError(t, q.UpdateStatus(job.ID, StatusGeneratingImages))
		return &JobSummary{VideoPaths: map[string]string{"youtube": "/out/a.mp4"}}, nil
	})
	defer q.Stop()

	job, created := q.Enqueue(EnqueueRequest{Source: "manual", DedupeKey: "k"})
	require.True(t, created)

	require.Eventually(t, func() bool {
		got, ok := store.get(job.ID)
		return ok && got.Status == StatusCompleted
	}, time.Second, 10*time.Millisecond)

	got, _ := store.get(job.ID)
	require.NotNil(t, got.Result)
	assert.Equal(t, "/out/a.mp4", got.Result.VideoPaths["youtube"])
}

func TestQueue_PrunesOldestTerminalJobs(t *testing.T) {
	store := newMemoryStore()
	q := NewQueue(1, store, WithMaxJobs(2))
	q.Start(func(_ context.Context, _ *Job) (*JobSummary, error) { return nil, nil })
	defer q.Stop()

	var ids []string
	for _, key := range []string{"k1", "k2", "k3"} {
		job, _ := q.Enqueue(EnqueueRequest{Source: "manual", DedupeKey: key})
		ids = append(ids, job.ID)
		require.Eventually(t, func() bool {
			got, ok := q.Get(job.ID)
			return ok && got.Status == StatusCompleted
		}, time.Second, 10*time.Millisecond)
	}

	assert.Len(t, q.List(), 2)
	_, ok := q.Get(ids[0])
	assert.False(t, ok)
	_, ok = store.get(ids[0])
	assert.False(t, ok)
}
