package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"linkhoard/internal/config"
	"linkhoard/internal/models"
	"linkhoard/internal/statelock"
)

func testConfig() config.Config {
	return config.Config{
		FetchConcurrency:       2,
		QueueProcessingTimeout: 5 * time.Minute,
		QueueStateTimeout:      time.Minute,
		QueueMaxRetries:        2,
		QueueRetryBaseDelay:    time.Second,
		QueueRetryMaxDelay:     time.Minute,
	}
}

func testLocks(t *testing.T) *statelock.Manager {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return statelock.NewManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

// memStore is an in-memory ItemStore mirroring the Postgres semantics.
type memStore struct {
	mu        sync.Mutex
	items     map[string]*models.JobItem
	jobStatus map[string]string
}

func newMemStore() *memStore {
	return &memStore{items: map[string]*models.JobItem{}, jobStatus: map[string]string{}}
}

func (m *memStore) add(id, jobID string, status string, retryCount int, startedAt *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = &models.JobItem{
		ID: id, JobID: jobID, TargetURL: "https://example.com/" + id,
		Status: status, RetryCount: retryCount, StartedAt: startedAt,
		CreatedAt: time.Now(),
	}
	if _, ok := m.jobStatus[jobID]; !ok {
		m.jobStatus[jobID] = models.JobPending
	}
}

func (m *memStore) ClaimPendingItems(_ context.Context, limit int) ([]models.JobItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var ids []string
	for id, it := range m.items {
		if it.Status == models.ItemPending && (it.NotBefore == nil || !it.NotBefore.After(now)) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	var out []models.JobItem
	for _, id := range ids {
		it := m.items[id]
		it.Status = models.ItemInProgress
		started := now
		it.StartedAt = &started
		out = append(out, *it)
	}
	return out, nil
}

func (m *memStore) RecoverStuckItems(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Status == models.ItemInProgress && it.StartedAt != nil && !it.StartedAt.After(cutoff) {
			it.Status = models.ItemPending
			it.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *memStore) MarkItemComplete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].Status = models.ItemComplete
	m.items[id].ErrorMessage = nil
	return nil
}

func (m *memStore) ScheduleItemRetry(_ context.Context, id string, retryCount int, notBefore time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.items[id]
	it.Status = models.ItemPending
	it.RetryCount = retryCount
	it.NotBefore = &notBefore
	it.ErrorMessage = &errMsg
	return nil
}

func (m *memStore) MarkItemError(_ context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].Status = models.ItemError
	m.items[id].ErrorMessage = &errMsg
	return nil
}

func (m *memStore) RefreshJobStatus(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, complete, terminal := 0, 0, 0
	for _, it := range m.items {
		if it.JobID != jobID {
			continue
		}
		total++
		if it.Status == models.ItemComplete {
			complete++
		}
		if it.Status == models.ItemComplete || it.Status == models.ItemError {
			terminal++
		}
	}
	switch {
	case complete == total:
		m.jobStatus[jobID] = models.JobComplete
	case terminal == total:
		m.jobStatus[jobID] = models.JobFailed
	default:
		m.jobStatus[jobID] = models.JobProcessing
	}
	return nil
}

func (m *memStore) item(id string) models.JobItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

// failPipeline fails each item failures[url] times, then succeeds.
type failPipeline struct {
	mu       sync.Mutex
	failures map[string]int
	calls    int
}

func (p *failPipeline) Process(_ context.Context, item models.JobItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures[item.TargetURL] > 0 {
		p.failures[item.TargetURL]--
		return errors.New("fetch failed: connection reset")
	}
	return nil
}

func TestDrainCompletesItems(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.add("a", "job1", models.ItemPending, 0, nil)
	st.add("b", "job1", models.ItemPending, 0, nil)
	st.add("c", "job1", models.ItemPending, 0, nil)

	e := NewEngine(testConfig(), testLocks(t), st, &failPipeline{})
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if got := st.item(id).Status; got != models.ItemComplete {
			t.Fatalf("item %s status = %s, want complete", id, got)
		}
	}
	if st.jobStatus["job1"] != models.JobComplete {
		t.Fatalf("job status = %s, want complete", st.jobStatus["job1"])
	}
}

func TestFailureSchedulesRetryWithBackoff(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.add("a", "job1", models.ItemPending, 0, nil)

	p := &failPipeline{failures: map[string]int{"https://example.com/a": 1}}
	e := NewEngine(testConfig(), testLocks(t), st, p)
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	it := st.item("a")
	if it.Status != models.ItemPending {
		t.Fatalf("status = %s, want pending (parked for retry)", it.Status)
	}
	if it.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", it.RetryCount)
	}
	if it.NotBefore == nil || !it.NotBefore.After(time.Now()) {
		t.Fatalf("not_before not set in the future: %v", it.NotBefore)
	}
	if it.ErrorMessage == nil {
		t.Fatalf("error message not recorded")
	}
	if st.jobStatus["job1"] != models.JobProcessing {
		t.Fatalf("job status = %s, want processing", st.jobStatus["job1"])
	}
}

func TestRetriesExhaustToTerminalError(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.QueueRetryBaseDelay = time.Nanosecond // immediately claimable again
	st := newMemStore()
	st.add("a", "job1", models.ItemPending, 0, nil)

	// More failures than max retries allows: every attempt fails.
	p := &failPipeline{failures: map[string]int{"https://example.com/a": 100}}
	e := NewEngine(cfg, testLocks(t), st, p)

	// Each drain stops once nothing is claimable; retries with zero
	// delay stay claimable, so one Start exhausts them all.
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	it := st.item("a")
	if it.Status != models.ItemError {
		t.Fatalf("status = %s, want error", it.Status)
	}
	if it.RetryCount != cfg.QueueMaxRetries {
		t.Fatalf("retry count = %d, want %d (never exceeds the max)", it.RetryCount, cfg.QueueMaxRetries)
	}
	if p.calls != cfg.QueueMaxRetries+1 {
		t.Fatalf("pipeline ran %d times, want %d", p.calls, cfg.QueueMaxRetries+1)
	}
	if st.jobStatus["job1"] != models.JobFailed {
		t.Fatalf("job status = %s, want failed", st.jobStatus["job1"])
	}
}

func TestRecoveryResetsStuckItems(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	st := newMemStore()
	stale := time.Now().Add(-cfg.QueueProcessingTimeout - time.Minute)
	fresh := time.Now()
	st.add("stuck", "job1", models.ItemInProgress, 1, &stale)
	st.add("live", "job2", models.ItemInProgress, 0, &fresh)

	e := NewEngine(cfg, testLocks(t), st, &failPipeline{})
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The stale item was reset to pending, reclaimed, and processed;
	// its retry count must survive the reset untouched.
	it := st.item("stuck")
	if it.Status != models.ItemComplete {
		t.Fatalf("stuck item status = %s, want complete after recovery", it.Status)
	}
	if it.RetryCount != 1 {
		t.Fatalf("recovery changed retry count: %d", it.RetryCount)
	}
	if got := st.item("live").Status; got != models.ItemInProgress {
		t.Fatalf("fresh in-progress item was recovered early: %s", got)
	}
}

func TestStartIsNoOpWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.add("a", "job1", models.ItemPending, 0, nil)

	locks := testLocks(t)
	if _, ok := locks.TryAcquire(ctx, statelock.JobQueueLock, time.Minute); !ok {
		t.Fatalf("setup acquire failed")
	}

	p := &failPipeline{}
	e := NewEngine(testConfig(), locks, st, p)
	if err := e.Start(ctx); err != nil {
		t.Fatalf("busy start should return nil, got %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("pipeline ran %d times under a held lock", p.calls)
	}
	if got := st.item("a").Status; got != models.ItemPending {
		t.Fatalf("item claimed under a held lock: %s", got)
	}
}

func TestRetryBackoff(t *testing.T) {
	base := 30 * time.Second
	max := 30 * time.Minute

	cases := []struct {
		retry int
		want  time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{6, 30 * time.Minute}, // 32m capped
		{60, 30 * time.Minute},
	}
	for _, c := range cases {
		if got := retryBackoff(base, max, c.retry); got != c.want {
			t.Fatalf("retryBackoff(%d) = %s, want %s", c.retry, got, c.want)
		}
	}
}
