package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mindmuse/internal/domain"
)

// retentionRunTimeout bounds a single prune pass.
const retentionRunTimeout = 5 * time.Minute

// RetentionJob periodically deletes stored messages older than maxAge.
type RetentionJob struct {
	store    domain.TranscriptStore
	schedule cron.Schedule
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewRetentionJob creates a job pruning store on schedule, which is a cron
// expression (descriptors such as "@daily" included) or a Go duration.
func NewRetentionJob(store domain.TranscriptStore, schedule string, maxAge time.Duration, logger *slog.Logger) (*RetentionJob, error) {
	if maxAge <= 0 {
		return nil, domain.NewDomainError("NewRetentionJob", domain.ErrInvalidInput, "max age must be positive")
	}
	sched, err := parseSchedule(schedule)
	if err != nil {
		return nil, domain.NewDomainError("NewRetentionJob", domain.ErrInvalidInput, err.Error())
	}
	return &RetentionJob{
		store:    store,
		schedule: sched,
		maxAge:   maxAge,
		logger:   logger,
		now:      time.Now,
		cron:     cron.New(),
	}, nil
}

// RunOnce prunes once and returns the number of deleted messages.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.maxAge)
	n, err := j.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, domain.WrapOp("retention.prune", err)
	}
	return n, nil
}

// Start schedules the job. It is a no-op when already started.
func (j *RetentionJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return
	}
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.entry = j.cron.Schedule(j.schedule, cron.FuncJob(j.tick))
	j.cron.Start()
	j.started = true
}

// Stop cancels a running prune, waits for it to return and unschedules the
// job, so a later Start registers it once.
func (j *RetentionJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return
	}
	j.cancel()
	<-j.cron.Stop().Done()
	j.cron.Remove(j.entry)
	j.started = false
}

func (j *RetentionJob) tick() {
	j.mu.Lock()
	ctx := j.ctx
	j.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, retentionRunTimeout)
	defer cancel()

	start := time.Now()
	n, err := j.RunOnce(runCtx)
	if err != nil {
		j.logger.Warn("transcript retention failed", "error", err, "duration", time.Since(start))
		return
	}
	j.logger.Info("transcript retention completed",
		"deleted", n,
		"max_age", j.maxAge,
		"duration", time.Since(start),
	)
}

// parseSchedule accepts a cron expression first, then a positive duration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}
	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur < time.Second {
		return nil, fmt.Errorf("duration must be at least 1s: %q", schedule)
	}
	return cron.Every(dur), nil
}
