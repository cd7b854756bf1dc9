package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aucradar/ingest-service/internal/events"
	"aucradar/ingest-service/internal/jobs"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/source"
)

// DefaultCrawlDays is the look-ahead window of a crawl when none is given.
const DefaultCrawlDays = 30

// CrawlRequest parameterizes one crawl run.
type CrawlRequest struct {
	Source      model.Source
	Days        int
	Note        string
	DryRun      bool
	TriggeredBy *int64
}

// Runner executes crawl jobs: it fetches one source's window and feeds every
// candidate through the Upserter, sequentially.
type Runner struct {
	adapters source.Registry
	upserter *Upserter
	tracker  *jobs.Tracker
	locker   events.Locker
	lockTTL  time.Duration
	log      *slog.Logger
	loc      *time.Location
	now      func() time.Time
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Locker   events.Locker
	LockTTL  time.Duration
	Logger   *slog.Logger
	Location *time.Location
	Now      func() time.Time
}

// NewRunner wires a Runner.
func NewRunner(adapters source.Registry, up *Upserter, tracker *jobs.Tracker, opts RunnerOptions) *Runner {
	r := &Runner{
		adapters: adapters,
		upserter: up,
		tracker:  tracker,
		locker:   opts.Locker,
		lockTTL:  opts.LockTTL,
		log:      opts.Logger,
		loc:      opts.Location,
		now:      opts.Now,
	}
	if r.locker == nil {
		r.locker = events.NewLocalLocker()
	}
	if r.lockTTL <= 0 {
		r.lockTTL = 2 * time.Hour
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("component", "ingest.runner")
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// RunCrawl records a job and runs it to a terminal state. Fatal run errors,
// such as a missing API key or an interrupted fetch, end up on the returned
// job as FAILED; the error return is reserved for runs that could not start
// (unknown source, lock held, job row not creatable).
func (r *Runner) RunCrawl(ctx context.Context, req CrawlRequest) (*model.CrawlJob, error) {
	adapter, err := r.adapters.Get(req.Source)
	if err != nil {
		return nil, err
	}
	days := req.Days
	if days <= 0 {
		days = DefaultCrawlDays
	}

	release, err := r.locker.Acquire(ctx, "crawl:"+string(req.Source), r.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("crawl %s: %w", req.Source, err)
	}
	defer release()

	spec := jobs.Spec{Kind: model.KindCrawl, Source: req.Source, Note: req.Note, TriggeredBy: req.TriggeredBy}
	return r.tracker.Run(ctx, spec, func(ctx context.Context, job *model.CrawlJob) error {
		from := model.Today(r.now(), r.loc)
		w := source.Window{From: from, To: from.AddDate(0, 0, days)}
		r.log.Info("crawl window", "job_id", job.ID, "source", req.Source, "from", w.From.Format(time.DateOnly), "to", w.To.Format(time.DateOnly), "dry_run", req.DryRun)

		for c, err := range adapter.Fetch(ctx, w) {
			if err != nil {
				return err
			}
			if c.ExternalID == "" {
				continue
			}
			if req.DryRun {
				job.TotalFetched++
				continue
			}
			// Per-item failures are recorded by the upserter; the run continues.
			_, _ = r.upserter.Process(ctx, job, c)
		}
		return nil
	})
}

// IsLocked reports whether err means another run of the same kind holds the lock.
func IsLocked(err error) bool { return errors.Is(err, events.ErrLocked) }
