// Package worker runs the background sync pipeline: a single-flight polling
// loop that drains the oldest pending job through the reconciliation engine,
// plus the enqueue entry point and the terminal-job retention sweep.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quangdm/finsync-be/internal/sync/domain"
	"github.com/quangdm/finsync-be/internal/sync/engine"
)

// JobStore is the durable job queue surface the worker drives.
type JobStore interface {
	ClaimOldestPending(ctx context.Context) (*domain.Job, error)
	UpdateProgress(ctx context.Context, jobID string, progress, totalItems, processedItems int) error
	CompleteJob(ctx context.Context, jobID string, results *domain.JobResults) error
	FailJob(ctx context.Context, jobID, errorMessage string) error
	PurgeTerminalJobs(ctx context.Context, retention time.Duration) (int64, error)
}

// SyncEngine executes the actual reconciliation work.
type SyncEngine interface {
	Upload(ctx context.Context, userID string, payload *domain.SyncPayload, onProgress engine.ProgressFunc) (*domain.UploadResult, error)
	GetUserData(ctx context.Context, userID string) (*domain.DownloadResult, error)
	FullSync(ctx context.Context, userID string, payload *domain.SyncPayload, onProgress engine.ProgressFunc) (*domain.FullSyncResult, error)
}

// Config holds worker configuration.
type Config struct {
	Logger        *slog.Logger
	Jobs          JobStore
	Engine        SyncEngine
	PollInterval  time.Duration
	JobTimeout    time.Duration
	Retention     time.Duration
	PurgeInterval time.Duration

	// Wake receives a signal when a job was just enqueued so the loop can
	// poll before the next tick. Optional; polling alone is sufficient.
	Wake <-chan struct{}
}

// Default timings.
const (
	DefaultPollInterval  = 5 * time.Second
	DefaultJobTimeout    = 5 * time.Minute
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultPurgeInterval = 1 * time.Hour
)

// Worker is the single-flight job worker. At most one job executes at a
// time per process; the busy guard is instance state, not a module-level
// singleton.
type Worker struct {
	logger        *slog.Logger
	jobs          JobStore
	engine        SyncEngine
	pollInterval  time.Duration
	jobTimeout    time.Duration
	retention     time.Duration
	purgeInterval time.Duration
	wake          <-chan struct{}

	mu   sync.Mutex
	busy bool

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a worker instance.
func New(cfg *Config) *Worker {
	w := &Worker{
		logger:        cfg.Logger,
		jobs:          cfg.Jobs,
		engine:        cfg.Engine,
		pollInterval:  cfg.PollInterval,
		jobTimeout:    cfg.JobTimeout,
		retention:     cfg.Retention,
		purgeInterval: cfg.PurgeInterval,
		wake:          cfg.Wake,
		stopChan:      make(chan struct{}),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = DefaultJobTimeout
	}
	if w.retention <= 0 {
		w.retention = DefaultRetention
	}
	if w.purgeInterval <= 0 {
		w.purgeInterval = DefaultPurgeInterval
	}
	return w
}

// IsBusy reports whether a job is currently being processed by this worker.
func (w *Worker) IsBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// tryAcquire flips the single-flight guard; false means a job is in flight.
func (w *Worker) tryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return false
	}
	w.busy = true
	return true
}

func (w *Worker) release() {
	w.mu.Lock()
	w.busy = false
	w.mu.Unlock()
}

// Start runs the poll loop until the context is cancelled or Stop is
// called. One immediate poll fires at start-up so a restart does not wait a
// full interval.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting sync worker",
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("retention", w.retention),
	)

	w.wg.Add(1)
	defer w.wg.Done()

	w.PollOnce(ctx)

	pollTicker := time.NewTicker(w.pollInterval)
	defer pollTicker.Stop()
	purgeTicker := time.NewTicker(w.purgeInterval)
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker context canceled, stopping")
			return nil
		case <-w.stopChan:
			w.logger.Info("worker stop requested")
			return nil
		case <-pollTicker.C:
			w.PollOnce(ctx)
		case <-w.wake:
			w.PollOnce(ctx)
		case <-purgeTicker.C:
			w.purge(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for the current iteration.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// purge drops terminal jobs older than the retention window. Best-effort
// housekeeping: failures are only logged.
func (w *Worker) purge(ctx context.Context) {
	removed, err := w.jobs.PurgeTerminalJobs(ctx, w.retention)
	if err != nil {
		w.logger.Warn("job retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		w.logger.Info("purged terminal jobs",
			slog.Int64("removed", removed),
			slog.Duration("retention", w.retention),
		)
	}
}
