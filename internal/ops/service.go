// Package ops is the single entry point for triggering pipeline work. The
// scheduler, the gRPC ops server and the CLI all go through it, so each job
// kind takes the same run lock whatever triggered it.
package ops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aucradar/ingest-service/internal/events"
	"aucradar/ingest-service/internal/ingest"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/notify"
	"aucradar/ingest-service/internal/refresh"
	"aucradar/ingest-service/internal/store"
)

// Frequencies accepted by RunAlertBatch; "" selects every frequency.
var Frequencies = []string{"immediate", "daily", "weekly"}

// ErrInvalidArgument marks a request rejected before any work started.
var ErrInvalidArgument = errors.New("invalid argument")

// Service bundles the pipeline engines.
type Service struct {
	store      store.Store
	crawler    *ingest.Runner
	refresher  *refresh.Engine
	dispatcher *notify.Dispatcher
	locker     events.Locker
	opts       Options
}

// Options holds the defaults applied to manual and scheduled triggers.
type Options struct {
	CrawlDays     int
	DispatchLimit int
	MaxAttempts   int
	LockTTL       time.Duration
}

// NewService wires a Service. locker must be the same one the crawler and
// refresher were built with.
func NewService(st store.Store, crawler *ingest.Runner, refresher *refresh.Engine, dispatcher *notify.Dispatcher, locker events.Locker, opts Options) *Service {
	if opts.CrawlDays <= 0 {
		opts.CrawlDays = ingest.DefaultCrawlDays
	}
	if opts.DispatchLimit <= 0 {
		opts.DispatchLimit = notify.DefaultDispatchLimit
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Hour
	}
	if locker == nil {
		locker = events.NewLocalLocker()
	}
	return &Service{
		store:      st,
		crawler:    crawler,
		refresher:  refresher,
		dispatcher: dispatcher,
		locker:     locker,
		opts:       opts,
	}
}

// RunCrawl runs one crawl job.
func (s *Service) RunCrawl(ctx context.Context, req ingest.CrawlRequest) (*model.CrawlJob, error) {
	if _, ok := model.ParseSource(string(req.Source)); !ok {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidArgument, req.Source)
	}
	if req.Days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative", ErrInvalidArgument)
	}
	if req.Days == 0 {
		req.Days = s.opts.CrawlDays
	}
	if err := s.checkTrigger(ctx, req.TriggeredBy); err != nil {
		return nil, err
	}
	req.Note = model.Truncate(req.Note, model.MaxJobNoteLen)
	return s.crawler.RunCrawl(ctx, req)
}

// RunRefresh runs one status refresh job.
func (s *Service) RunRefresh(ctx context.Context, req refresh.Request) (*model.CrawlJob, error) {
	if req.Source != nil {
		if _, ok := model.ParseSource(string(*req.Source)); !ok {
			return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidArgument, *req.Source)
		}
	}
	if err := s.checkTrigger(ctx, req.TriggeredBy); err != nil {
		return nil, err
	}
	req.Note = model.Truncate(req.Note, model.MaxJobNoteLen)
	return s.refresher.Run(ctx, req)
}

// checkTrigger rejects a triggering user id with no user row, so the job
// insert cannot fail on it after the run was accepted.
func (s *Service) checkTrigger(ctx context.Context, userID *int64) error {
	if userID == nil {
		return nil
	}
	_, err := s.store.GetRecipient(ctx, *userID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: unknown user %d", ErrInvalidArgument, *userID)
	}
	if err != nil {
		return fmt.Errorf("look up triggering user: %w", err)
	}
	return nil
}

// DispatchResult reports a queued dispatch pass.
type DispatchResult struct {
	Requeued int
	notify.BatchResult
}

// DispatchPending requeues retryable failures, then delivers up to limit
// pending logs.
func (s *Service) DispatchPending(ctx context.Context, limit int) (DispatchResult, error) {
	if limit <= 0 {
		limit = s.opts.DispatchLimit
	}
	release, err := s.locker.Acquire(ctx, "dispatch", s.opts.LockTTL)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatch: %w", err)
	}
	defer release()

	var res DispatchResult
	if res.Requeued, err = s.dispatcher.RequeueFailed(ctx, s.opts.MaxAttempts); err != nil {
		return res, fmt.Errorf("requeue failed notifications: %w", err)
	}
	res.BatchResult, err = s.dispatcher.DispatchPending(ctx, limit)
	return res, err
}

// RunAlertBatch sends the current matches of every active subscription of
// frequency through the immediate path.
func (s *Service) RunAlertBatch(ctx context.Context, frequency string) (int, error) {
	if frequency != "" && !validFrequency(frequency) {
		return 0, fmt.Errorf("%w: unknown frequency %q", ErrInvalidArgument, frequency)
	}
	key := "alerts"
	if frequency != "" {
		key += ":" + frequency
	}
	release, err := s.locker.Acquire(ctx, key, s.opts.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("alert batch: %w", err)
	}
	defer release()
	return s.dispatcher.RunAlertBatch(ctx, frequency)
}

// GetJob returns a recorded crawl or refresh job.
func (s *Service) GetJob(ctx context.Context, id int64) (*model.CrawlJob, error) {
	return s.store.GetJob(ctx, id)
}

func validFrequency(f string) bool {
	for _, v := range Frequencies {
		if v == f {
			return true
		}
	}
	return false
}
