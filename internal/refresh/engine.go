// Package refresh re-checks the upstream status of unresolved listings in a
// bounded auction-date window and applies the transitions it finds.
package refresh

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
	"aucradar/ingest-service/internal/store"
)

const (
	DefaultDaysBack  = 90
	DefaultDaysAhead = 30
	DefaultNote      = "상태 리프레시 작업"

	updatedMessage = "상태 리프레시"
	failedPrefix   = "상태 리프레시 실패: "
)

// Request parameterizes one refresh run. A nil Source refreshes every source.
type Request struct {
	Source      *model.Source
	Note        string
	TriggeredBy *int64
}

// Options configures an Engine.
type Options struct {
	DaysBack  int
	DaysAhead int
	Locker    events.Locker
	LockTTL   time.Duration
	Logger    *slog.Logger
	Location  *time.Location
	Now       func() time.Time
}

// Engine runs status refresh jobs.
type Engine struct {
	store    store.Store
	adapters source.Registry
	tracker  *jobs.Tracker
	opts     Options
	log      *slog.Logger
}

// NewEngine wires an Engine.
func NewEngine(st store.Store, adapters source.Registry, tracker *jobs.Tracker, opts Options) *Engine {
	if opts.DaysBack <= 0 {
		opts.DaysBack = DefaultDaysBack
	}
	if opts.DaysAhead <= 0 {
		opts.DaysAhead = DefaultDaysAhead
	}
	if opts.Locker == nil {
		opts.Locker = events.NewLocalLocker()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		adapters: adapters,
		tracker:  tracker,
		opts:     opts,
		log:      logger.With("component", "refresh"),
	}
}

// Run records a refresh job and scans the window. Per-listing failures are
// logged on the job and never stop the scan.
func (e *Engine) Run(ctx context.Context, req Request) (*model.CrawlJob, error) {
	release, err := e.opts.Locker.Acquire(ctx, "refresh", e.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	defer release()

	// The job row needs a source; an unfiltered run is recorded under court.
	jobSource := model.SourceCourt
	if req.Source != nil {
		jobSource = *req.Source
	}
	note := req.Note
	if note == "" {
		note = DefaultNote
	}

	spec := jobs.Spec{Kind: model.KindRefresh, Source: jobSource, Note: note, TriggeredBy: req.TriggeredBy}
	return e.tracker.Run(ctx, spec, func(ctx context.Context, job *model.CrawlJob) error {
		today := model.Today(e.opts.Now(), e.opts.Location)
		listings, err := e.store.ListRefreshCandidates(ctx, store.RefreshFilter{
			Source:   req.Source,
			Statuses: model.UnresolvedStatuses,
			From:     today.AddDate(0, 0, -e.opts.DaysBack),
			To:       today.AddDate(0, 0, e.opts.DaysAhead),
		})
		if err != nil {
			return fmt.Errorf("list refresh candidates: %w", err)
		}
		e.log.Info("refresh candidates", "job_id", job.ID, "count", len(listings))

		for i := range listings {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.refreshOne(ctx, job, &listings[i])
		}
		return nil
	})
}

func (e *Engine) refreshOne(ctx context.Context, job *model.CrawlJob, l *model.Listing) {
	adapter, err := e.adapters.Get(l.Source)
	if err != nil {
		return
	}
	job.TotalFetched++

	upd, err := adapter.LookupStatus(ctx, l)
	switch {
	case errors.Is(err, source.ErrStatusUnavailable), errors.Is(err, source.ErrMissingAPIKey):
		e.log.Debug("status lookup unavailable", "listing_id", l.ID, "err", err)
		return
	case err != nil:
		e.recordFailure(ctx, job, l, err)
		return
	}

	if !apply(l, upd) {
		return
	}

	next := *job
	next.UpdatedCount++
	err = e.store.WithTx(ctx, func(r store.Repo) error {
		if err := r.UpdateListing(ctx, l); err != nil {
			return err
		}
		id := l.ID
		if err := r.InsertItemLog(ctx, &model.CrawlItemLog{
			JobID:      job.ID,
			ListingID:  &id,
			ExternalID: l.ExternalID,
			Result:     model.ResultUpdated,
			Message:    updatedMessage,
		}); err != nil {
			return err
		}
		return r.SaveJob(ctx, &next)
	})
	if err != nil {
		e.recordFailure(ctx, job, l, err)
		return
	}
	*job = next
	e.log.Info("listing status refreshed", "listing_id", l.ID, "status", l.Status, "raw_status", l.RawStatus)
}

// apply copies the observed fields that differ onto l and reports whether
// anything changed.
func apply(l *model.Listing, upd source.StatusUpdate) bool {
	changed := false
	if upd.Status != "" && upd.Status != l.Status {
		l.Status = upd.Status
		changed = true
	}
	if upd.RawStatus != nil && *upd.RawStatus != l.RawStatus {
		l.RawStatus = *upd.RawStatus
		changed = true
	}
	if upd.NumFailures != nil && (l.NumFailures == nil || *l.NumFailures != *upd.NumFailures) {
		n := *upd.NumFailures
		l.NumFailures = &n
		changed = true
	}
	return changed
}

func (e *Engine) recordFailure(ctx context.Context, job *model.CrawlJob, l *model.Listing, cause error) {
	job.FailedCount++
	e.log.Warn("status refresh failed", "listing_id", l.ID, "external_id", l.ExternalID, "err", cause)

	id := l.ID
	err := e.store.WithTx(ctx, func(r store.Repo) error {
		if err := r.InsertItemLog(ctx, &model.CrawlItemLog{
			JobID:      job.ID,
			ListingID:  &id,
			ExternalID: l.ExternalID,
			Result:     model.ResultFailed,
			Message:    failedPrefix + model.Truncate(cause.Error(), 200),
		}); err != nil {
			return err
		}
		return r.SaveJob(ctx, job)
	})
	if err != nil {
		e.log.Error("record refresh failure", "listing_id", l.ID, "err", err)
	}
}
