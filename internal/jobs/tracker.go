// Package jobs drives the audited lifecycle shared by crawl and refresh runs.
//
//	PENDING ──► RUNNING ──► SUCCESS
//	   │           │
//	   └───────────┴──► FAILED
//
// SUCCESS and FAILED are terminal. The job row is written at every step and
// always on finish, whatever the outcome of the run.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aucradar/ingest-service/internal/events"
	"aucradar/ingest-service/internal/metrics"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store"
)

// ErrInvalidTransition is returned when a job is moved along an edge the
// state machine does not allow.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Tracker persists job state changes and reports finished jobs.
type Tracker struct {
	store  store.Store
	events events.Publisher
	log    *slog.Logger
	now    func() time.Time
}

// NewTracker returns a Tracker. A nil publisher discards events.
func NewTracker(st store.Store, pub events.Publisher, logger *slog.Logger) *Tracker {
	if pub == nil {
		pub = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, events: pub, log: logger.With("component", "jobs"), now: time.Now}
}

// SetClock overrides the timestamp source.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Spec describes a run to be recorded.
type Spec struct {
	Kind        model.JobKind
	Source      model.Source
	Note        string
	TriggeredBy *int64
}

// Start creates the job row as PENDING and immediately moves it to RUNNING.
func (t *Tracker) Start(ctx context.Context, s Spec) (*model.CrawlJob, error) {
	j := &model.CrawlJob{
		Kind:        s.Kind,
		Source:      s.Source,
		Status:      model.JobPending,
		TriggeredBy: s.TriggeredBy,
		Note:        s.Note,
	}
	if err := t.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := transition(j, model.JobRunning); err != nil {
		return j, err
	}
	started := t.now()
	j.StartedAt = &started
	if err := t.store.SaveJob(ctx, j); err != nil {
		return j, fmt.Errorf("mark job %d running: %w", j.ID, err)
	}
	t.log.Info("job started", "job_id", j.ID, "kind", j.Kind, "source", j.Source)
	return j, nil
}

// Finish moves j to SUCCESS, or to FAILED with a truncated message when
// runErr is non-nil, and persists it. The write is detached from ctx
// cancellation so an interrupted run still leaves a terminal row.
func (t *Tracker) Finish(ctx context.Context, j *model.CrawlJob, runErr error) {
	to := model.JobSuccess
	if runErr != nil {
		to = model.JobFailed
		j.ErrorMessage = model.Truncate(runErr.Error(), model.MaxJobErrorLen)
	}
	if err := transition(j, to); err != nil {
		t.log.Error("finish job", "job_id", j.ID, "err", err)
		return
	}
	finished := t.now()
	j.FinishedAt = &finished

	wctx := context.WithoutCancel(ctx)
	if err := t.store.SaveJob(wctx, j); err != nil {
		t.log.Error("persist finished job", "job_id", j.ID, "err", err)
	}

	metrics.JobsFinished.WithLabelValues(string(j.Kind), string(j.Source), string(j.Status)).Inc()
	if j.StartedAt != nil {
		metrics.JobDuration.WithLabelValues(string(j.Kind), string(j.Source)).Observe(finished.Sub(*j.StartedAt).Seconds())
	}

	attrs := []any{
		"job_id", j.ID, "kind", j.Kind, "source", j.Source, "status", j.Status,
		"total", j.TotalFetched, "created", j.CreatedCount, "updated", j.UpdatedCount, "failed", j.FailedCount,
	}
	if runErr != nil {
		t.log.Error("job failed", append(attrs, "err", j.ErrorMessage)...)
	} else {
		t.log.Info("job finished", attrs...)
	}

	t.events.Publish(wctx, events.EventCrawlJobFinished, map[string]any{
		"job_id":        j.ID,
		"kind":          string(j.Kind),
		"source":        string(j.Source),
		"status":        string(j.Status),
		"total_fetched": j.TotalFetched,
		"created":       j.CreatedCount,
		"updated":       j.UpdatedCount,
		"failed":        j.FailedCount,
	})
}

// Run records one job around fn. A returned error or a panic inside fn marks
// the job FAILED; the job is returned in its terminal state either way.
func (t *Tracker) Run(ctx context.Context, s Spec, fn func(ctx context.Context, j *model.CrawlJob) error) (job *model.CrawlJob, err error) {
	job, err = t.Start(ctx, s)
	if err != nil {
		if job == nil {
			return nil, err
		}
		t.Finish(ctx, job, err)
		return job, nil
	}

	var runErr error
	defer func() {
		if p := recover(); p != nil {
			runErr = fmt.Errorf("panic: %v", p)
		}
		t.Finish(ctx, job, runErr)
	}()
	runErr = fn(ctx, job)
	return job, nil
}

func transition(j *model.CrawlJob, to model.JobStatus) error {
	if !model.CanTransition(j.Status, to) {
		return fmt.Errorf("job %d %s → %s: %w", j.ID, j.Status, to, ErrInvalidTransition)
	}
	j.Status = to
	return nil
}
