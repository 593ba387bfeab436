package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quangdm/finsync-be/internal/sync/domain"
	"github.com/quangdm/finsync-be/internal/sync/engine"
	"github.com/quangdm/finsync-be/internal/sync/resilience"
)

type fakeJobStore struct {
	mu            sync.Mutex
	jobs          map[string]*domain.Job
	order         []string
	progressCalls [][3]int // progress, total, processed
	claimErr      error
	purgeCalls    []time.Duration
	purgeRemoved  int64
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*domain.Job)}
}

func (s *fakeJobStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	s.jobs[job.JobID] = &clone
	s.order = append(s.order, job.JobID)
	return nil
}

func (s *fakeJobStore) ClaimOldestPending(_ context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status != domain.JobStatusPending {
			continue
		}
		job.Status = domain.JobStatusProcessing
		job.StartedAt.Time = time.Now().UTC()
		job.StartedAt.Valid = true
		clone := *job
		return &clone, nil
	}
	return nil, domain.ErrJobNotFound
}

func (s *fakeJobStore) UpdateProgress(_ context.Context, jobID string, progress, totalItems, processedItems int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Progress = progress
	job.TotalItems = totalItems
	job.ProcessedItems = processedItems
	s.progressCalls = append(s.progressCalls, [3]int{progress, totalItems, processedItems})
	return nil
}

func (s *fakeJobStore) CompleteJob(_ context.Context, jobID string, results *domain.JobResults) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	if job.ProcessedItems < job.TotalItems {
		job.ProcessedItems = job.TotalItems
	}
	if results != nil {
		raw, err := json.Marshal(results)
		if err != nil {
			return err
		}
		job.Results = raw
	}
	job.CompletedAt.Time = time.Now().UTC()
	job.CompletedAt.Valid = true
	return nil
}

func (s *fakeJobStore) FailJob(_ context.Context, jobID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = domain.JobStatusFailed
	job.Progress = 0
	job.ErrorMessage = errorMessage
	job.CompletedAt.Time = time.Now().UTC()
	job.CompletedAt.Valid = true
	return nil
}

func (s *fakeJobStore) PurgeTerminalJobs(_ context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeCalls = append(s.purgeCalls, retention)
	return s.purgeRemoved, nil
}

func (s *fakeJobStore) get(t *testing.T, jobID string) domain.Job {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	require.True(t, ok, "job %s not stored", jobID)
	return *job
}

type fakeEngine struct {
	uploadErr error
	// blockUntil, when set, makes Upload wait before returning so tests can
	// observe the in-flight state.
	blockUntil chan struct{}
	started    chan struct{}

	uploadedUsers []string
}

func (e *fakeEngine) Upload(_ context.Context, userID string, payload *domain.SyncPayload, onProgress engine.ProgressFunc) (*domain.UploadResult, error) {
	if e.started != nil {
		close(e.started)
		e.started = nil
	}
	if e.blockUntil != nil {
		<-e.blockUntil
	}
	if e.uploadErr != nil {
		return nil, e.uploadErr
	}

	e.uploadedUsers = append(e.uploadedUsers, userID)
	total := payload.ItemCount()
	if onProgress != nil {
		onProgress(len(payload.Categories), total)
		onProgress(total, total)
	}
	return &domain.UploadResult{
		Categories:   &domain.SyncResult{Created: len(payload.Categories), Errors: []domain.ItemError{}},
		Transactions: &domain.SyncResult{Created: len(payload.Transactions), Errors: []domain.ItemError{}},
	}, nil
}

func (e *fakeEngine) GetUserData(context.Context, string) (*domain.DownloadResult, error) {
	return &domain.DownloadResult{
		Categories:   make([]domain.Category, 2),
		Transactions: make([]domain.Transaction, 3),
	}, nil
}

func (e *fakeEngine) FullSync(ctx context.Context, userID string, payload *domain.SyncPayload, onProgress engine.ProgressFunc) (*domain.FullSyncResult, error) {
	upload, err := e.Upload(ctx, userID, payload, onProgress)
	if err != nil {
		return nil, err
	}
	download, err := e.GetUserData(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.FullSyncResult{Upload: upload, Download: download}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(jobs *fakeJobStore, eng SyncEngine, jobTimeout time.Duration) *Worker {
	return New(&Config{
		Logger:     testLogger(),
		Jobs:       jobs,
		Engine:     eng,
		JobTimeout: jobTimeout,
	})
}

func uploadPayload() *domain.SyncPayload {
	return &domain.SyncPayload{
		Categories: []domain.PayloadCategory{{Name: "Food"}},
		Transactions: []domain.PayloadTransaction{
			{Amount: "10", Type: "expense", Date: "2024-03-01"},
		},
	}
}

func TestEnqueue(t *testing.T) {
	jobs := newFakeJobStore()
	enqueuer := NewEnqueuer(testLogger(), jobs, nil)

	job, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeUpload, uploadPayload())
	require.NoError(t, err)

	_, err = uuid.Parse(job.JobID)
	assert.NoError(t, err, "job id must be a uuid")
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 2, job.TotalItems)
	assert.Equal(t, 0, job.Progress)
	assert.NotEmpty(t, job.Payload)

	stored := jobs.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
}

func TestEnqueue_UnknownType(t *testing.T) {
	enqueuer := NewEnqueuer(testLogger(), newFakeJobStore(), nil)
	_, err := enqueuer.Enqueue(context.Background(), "user-1", "reindex", nil)
	assert.Error(t, err)
}

type fakeNotifier struct {
	notified []string
	err      error
}

func (n *fakeNotifier) NotifyJob(_ context.Context, jobID string) error {
	n.notified = append(n.notified, jobID)
	return n.err
}

func TestEnqueue_Notifier(t *testing.T) {
	t.Run("publishes a wake-up", func(t *testing.T) {
		notifier := &fakeNotifier{}
		enqueuer := NewEnqueuer(testLogger(), newFakeJobStore(), notifier)

		job, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeDownload, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{job.JobID}, notifier.notified)
	})

	t.Run("publish failure does not fail the enqueue", func(t *testing.T) {
		notifier := &fakeNotifier{err: errors.New("broker down")}
		enqueuer := NewEnqueuer(testLogger(), newFakeJobStore(), notifier)

		_, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeDownload, nil)
		assert.NoError(t, err)
	})
}

func TestPollOnce_NothingPending(t *testing.T) {
	w := newTestWorker(newFakeJobStore(), &fakeEngine{}, 0)
	assert.False(t, w.PollOnce(context.Background()))
}

func TestPollOnce_ClaimFailure(t *testing.T) {
	jobs := newFakeJobStore()
	jobs.claimErr = errors.New("connection refused")
	w := newTestWorker(jobs, &fakeEngine{}, 0)

	assert.False(t, w.PollOnce(context.Background()))
	assert.False(t, w.IsBusy())
}

func TestPollOnce_CompletesUploadJob(t *testing.T) {
	jobs := newFakeJobStore()
	enqueuer := NewEnqueuer(testLogger(), jobs, nil)
	job, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeUpload, uploadPayload())
	require.NoError(t, err)

	w := newTestWorker(jobs, &fakeEngine{}, 0)
	assert.True(t, w.PollOnce(context.Background()))

	stored := jobs.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.GreaterOrEqual(t, stored.ProcessedItems, stored.TotalItems)
	assert.True(t, stored.CompletedAt.Valid)
	assert.Empty(t, stored.ErrorMessage)

	var results domain.JobResults
	require.NoError(t, json.Unmarshal(stored.Results, &results))
	require.NotNil(t, results.Upload)
	assert.Equal(t, 1, results.Upload.Categories.Created)
	assert.Equal(t, 1, results.Upload.Transactions.Created)
	assert.Nil(t, results.Download)

	// progress was reported along the way: half after categories, then all
	assert.Equal(t, [][3]int{{50, 2, 1}, {100, 2, 2}}, jobs.progressCalls)
}

func TestPollOnce_CompletesDownloadJob(t *testing.T) {
	jobs := newFakeJobStore()
	enqueuer := NewEnqueuer(testLogger(), jobs, nil)
	job, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeDownload, nil)
	require.NoError(t, err)

	w := newTestWorker(jobs, &fakeEngine{}, 0)
	assert.True(t, w.PollOnce(context.Background()))

	stored := jobs.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)

	var results domain.JobResults
	require.NoError(t, json.Unmarshal(stored.Results, &results))
	assert.Nil(t, results.Upload)
	assert.Equal(t, map[string]int{"categories": 2, "transactions": 3}, results.Download)
}

func TestPollOnce_CompletesFullSyncJob(t *testing.T) {
	jobs := newFakeJobStore()
	enqueuer := NewEnqueuer(testLogger(), jobs, nil)
	job, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeFullSync, uploadPayload())
	require.NoError(t, err)

	w := newTestWorker(jobs, &fakeEngine{}, 0)
	assert.True(t, w.PollOnce(context.Background()))

	stored := jobs.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)

	var results domain.JobResults
	require.NoError(t, json.Unmarshal(stored.Results, &results))
	require.NotNil(t, results.Upload)
	assert.Equal(t, map[string]int{"categories": 2, "transactions": 3}, results.Download)
}

func TestPollOnce_FailedJobResetsProgress(t *testing.T) {
	jobs := newFakeJobStore()
	enqueuer := NewEnqueuer(testLogger(), jobs, nil)
	job, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeUpload, uploadPayload())
	require.NoError(t, err)

	eng := &fakeEngine{uploadErr: &resilience.StatusError{StatusCode: 500}}
	w := newTestWorker(jobs, eng, 0)
	assert.True(t, w.PollOnce(context.Background()))

	stored := jobs.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, 0, stored.Progress)
	assert.Equal(t, "The server had a problem. Please try again later.", stored.ErrorMessage)
	assert.True(t, stored.CompletedAt.Valid)
}

func TestPollOnce_TimeoutFailsJob(t *testing.T) {
	jobs := newFakeJobStore()
	enqueuer := NewEnqueuer(testLogger(), jobs, nil)
	job, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeUpload, uploadPayload())
	require.NoError(t, err)

	blocked := make(chan struct{})
	defer close(blocked)
	eng := &fakeEngine{blockUntil: blocked}

	w := newTestWorker(jobs, eng, 10*time.Millisecond)
	assert.True(t, w.PollOnce(context.Background()))

	stored := jobs.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, "The operation took too long. Please try again.", stored.ErrorMessage)
}

func TestPollOnce_GlobalFIFO(t *testing.T) {
	jobs := newFakeJobStore()
	enqueuer := NewEnqueuer(testLogger(), jobs, nil)

	first, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeUpload, uploadPayload())
	require.NoError(t, err)
	second, err := enqueuer.Enqueue(context.Background(), "user-2", domain.JobTypeUpload, uploadPayload())
	require.NoError(t, err)

	eng := &fakeEngine{}
	w := newTestWorker(jobs, eng, 0)

	assert.True(t, w.PollOnce(context.Background()))
	assert.Equal(t, domain.JobStatusCompleted, jobs.get(t, first.JobID).Status)
	assert.Equal(t, domain.JobStatusPending, jobs.get(t, second.JobID).Status)

	assert.True(t, w.PollOnce(context.Background()))
	assert.Equal(t, domain.JobStatusCompleted, jobs.get(t, second.JobID).Status)
	assert.Equal(t, []string{"user-1", "user-2"}, eng.uploadedUsers)
}

func TestPollOnce_SingleFlight(t *testing.T) {
	jobs := newFakeJobStore()
	enqueuer := NewEnqueuer(testLogger(), jobs, nil)
	_, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeUpload, uploadPayload())
	require.NoError(t, err)

	started := make(chan struct{})
	blocked := make(chan struct{})
	eng := &fakeEngine{started: started, blockUntil: blocked}

	w := newTestWorker(jobs, eng, 0)

	done := make(chan bool, 1)
	go func() {
		done <- w.PollOnce(context.Background())
	}()

	<-started
	assert.True(t, w.IsBusy())
	assert.False(t, w.PollOnce(context.Background()), "a second poll must not run concurrently")

	close(blocked)
	assert.True(t, <-done)
	assert.False(t, w.IsBusy())
}

func TestPollOnce_UnknownJobTypeFails(t *testing.T) {
	jobs := newFakeJobStore()
	job := &domain.Job{
		JobID:   uuid.New().String(),
		UserID:  "user-1",
		JobType: "reindex",
		Status:  domain.JobStatusPending,
	}
	require.NoError(t, jobs.CreateJob(context.Background(), job))

	w := newTestWorker(jobs, &fakeEngine{}, 0)
	assert.True(t, w.PollOnce(context.Background()))
	assert.Equal(t, domain.JobStatusFailed, jobs.get(t, job.JobID).Status)
}

func TestPollOnce_MalformedPayloadFails(t *testing.T) {
	jobs := newFakeJobStore()
	job := &domain.Job{
		JobID:   uuid.New().String(),
		UserID:  "user-1",
		JobType: domain.JobTypeUpload,
		Status:  domain.JobStatusPending,
		Payload: json.RawMessage(`{broken`),
	}
	require.NoError(t, jobs.CreateJob(context.Background(), job))

	w := newTestWorker(jobs, &fakeEngine{}, 0)
	assert.True(t, w.PollOnce(context.Background()))

	stored := jobs.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, "Some of the submitted data is invalid.", stored.ErrorMessage)
}

func TestPurge(t *testing.T) {
	jobs := newFakeJobStore()
	jobs.purgeRemoved = 4
	w := newTestWorker(jobs, &fakeEngine{}, 0)

	w.purge(context.Background())
	assert.Equal(t, []time.Duration{DefaultRetention}, jobs.purgeCalls)
}

func TestProgress(t *testing.T) {
	tests := []struct {
		processed int
		total     int
		want      int
	}{
		{0, 0, 100}, // empty payload is immediately complete
		{0, -1, 100},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{5, 3, 100}, // clamped
		{-1, 3, 0},  // clamped
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Progress(tt.processed, tt.total), "%d/%d", tt.processed, tt.total)
	}
}

func TestWorker_StartStop(t *testing.T) {
	jobs := newFakeJobStore()
	enqueuer := NewEnqueuer(testLogger(), jobs, nil)
	job, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeDownload, nil)
	require.NoError(t, err)

	w := New(&Config{
		Logger:       testLogger(),
		Jobs:         jobs,
		Engine:       &fakeEngine{},
		PollInterval: time.Hour, // only the start-up poll should fire
	})

	done := make(chan error, 1)
	go func() {
		done <- w.Start(context.Background())
	}()

	// the immediate start-up poll drains the queue
	require.Eventually(t, func() bool {
		return jobs.get(t, job.JobID).Status == domain.JobStatusCompleted
	}, time.Second, 10*time.Millisecond)

	w.Stop()
	assert.NoError(t, <-done)
}

func TestWorker_WakeSignalTriggersPoll(t *testing.T) {
	jobs := newFakeJobStore()
	wake := make(chan struct{}, 1)

	w := New(&Config{
		Logger:       testLogger(),
		Jobs:         jobs,
		Engine:       &fakeEngine{},
		PollInterval: time.Hour,
		Wake:         wake,
	})

	done := make(chan error, 1)
	go func() {
		done <- w.Start(context.Background())
	}()
	defer func() {
		w.Stop()
		<-done
	}()

	// queue is empty at start-up; the job arrives after, and only the wake
	// signal can pick it up before the hour-long tick
	enqueuer := NewEnqueuer(testLogger(), jobs, nil)
	job, err := enqueuer.Enqueue(context.Background(), "user-1", domain.JobTypeDownload, nil)
	require.NoError(t, err)

	wake <- struct{}{}

	require.Eventually(t, func() bool {
		return jobs.get(t, job.JobID).Status == domain.JobStatusCompleted
	}, time.Second, 10*time.Millisecond)
}
