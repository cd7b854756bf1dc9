// Package scheduler wires up the cron jobs that periodically trigger crawls,
// status refreshes, notification dispatch and the digest alert batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"aucradar/ingest-service/internal/events"
	"aucradar/ingest-service/internal/ingest"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/ops"
	"aucradar/ingest-service/internal/refresh"
)

// Ops is the subset of ops.Service the scheduler drives.
type Ops interface {
	RunCrawl(ctx context.Context, req ingest.CrawlRequest) (*model.CrawlJob, error)
	RunRefresh(ctx context.Context, req refresh.Request) (*model.CrawlJob, error)
	DispatchPending(ctx context.Context, limit int) (ops.DispatchResult, error)
	RunAlertBatch(ctx context.Context, frequency string) (int, error)
}

// Specs holds one cron spec per job. An empty spec disables that job.
type Specs struct {
	Crawl       string
	Refresh     string
	Dispatch    string
	DailyAlert  string
	WeeklyAlert string
}

// Scheduler wraps robfig/cron and owns the periodic pipeline jobs.
type Scheduler struct {
	cron    *cron.Cron
	ops     Ops
	specs   Specs
	sources []model.Source
	log     *slog.Logger
}

// New creates a Scheduler. sources lists the upstreams crawled on each tick.
func New(o Ops, specs Specs, sources []model.Source, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		ops:     o,
		specs:   specs,
		sources: sources,
		log:     logger,
	}
}

// Start registers the jobs and starts the scheduler. One crawl runs
// immediately so the listing table is populated without waiting for the
// first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"crawl", s.specs.Crawl, func() { s.runCrawl(ctx) }},
		{"refresh", s.specs.Refresh, func() { s.runRefresh(ctx) }},
		{"dispatch", s.specs.Dispatch, func() { s.runDispatch(ctx) }},
		{"alerts-daily", s.specs.DailyAlert, func() { s.runAlerts(ctx, "daily") }},
		{"alerts-weekly", s.specs.WeeklyAlert, func() { s.runAlerts(ctx, "weekly") }},
	}
	for _, j := range jobs {
		if j.spec == "" {
			s.log.Info("job disabled", "job", j.name)
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("cron.AddFunc %s %q: %w", j.name, j.spec, err)
		}
		s.log.Info("job scheduled", "job", j.name, "spec", j.spec)
	}

	s.cron.Start()
	s.log.Info("cron started")

	if s.specs.Crawl != "" {
		go s.runCrawl(ctx)
	}
	return nil
}

// Stop shuts the scheduler down and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("cron stopped")
}

func (s *Scheduler) runCrawl(ctx context.Context) {
	for _, src := range s.sources {
		job, err := s.ops.RunCrawl(ctx, ingest.CrawlRequest{Source: src})
		if err != nil {
			s.logErr("crawl", err, "source", src)
			continue
		}
		s.log.Info("crawl finished", "source", src, "job_id", job.ID, "status", job.Status,
			"fetched", job.TotalFetched, "created", job.CreatedCount, "updated", job.UpdatedCount, "failed", job.FailedCount)
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	job, err := s.ops.RunRefresh(ctx, refresh.Request{})
	if err != nil {
		s.logErr("refresh", err)
		return
	}
	s.log.Info("refresh finished", "job_id", job.ID, "status", job.Status, "updated", job.UpdatedCount, "failed", job.FailedCount)
}

func (s *Scheduler) runDispatch(ctx context.Context) {
	res, err := s.ops.DispatchPending(ctx, 0)
	if err != nil {
		s.logErr("dispatch", err)
		return
	}
	if res.Processed > 0 || res.Requeued > 0 {
		s.log.Info("dispatch finished", "requeued", res.Requeued, "processed", res.Processed, "succeeded", res.Succeeded, "failed", res.Failed)
	}
}

func (s *Scheduler) runAlerts(ctx context.Context, frequency string) {
	n, err := s.ops.RunAlertBatch(ctx, frequency)
	if err != nil {
		s.logErr("alerts", err, "frequency", frequency)
		return
	}
	s.log.Info("alert batch finished", "frequency", frequency, "subscriptions", n)
}

// logErr demotes a held run lock to Info: an overlapping manual run is normal.
func (s *Scheduler) logErr(job string, err error, args ...any) {
	args = append([]any{"job", job, "err", err}, args...)
	if errors.Is(err, events.ErrLocked) {
		s.log.Info("job skipped, already running", args...)
		return
	}
	s.log.Error("job failed", args...)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "err", err)...)
}
