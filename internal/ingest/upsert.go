// Package ingest turns normalized candidates into canonical listings and
// runs full crawl cycles as audited jobs.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"aucradar/ingest-service/internal/alert"
	"aucradar/ingest-service/internal/category"
	"aucradar/ingest-service/internal/enrich"
	"aucradar/ingest-service/internal/events"
	"aucradar/ingest-service/internal/metrics"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store"
)

// Upserter writes one candidate per transaction: category resolution, the
// listing upsert, its item log, the job counters and, for new listings, the
// alert fan-out.
type Upserter struct {
	store    store.Store
	enricher *enrich.Enricher
	events   events.Publisher
	log      *slog.Logger
	loc      *time.Location
	now      func() time.Time
}

// UpserterOptions holds the optional collaborators of an Upserter.
type UpserterOptions struct {
	Enricher *enrich.Enricher
	Events   events.Publisher
	Logger   *slog.Logger
	Location *time.Location
	Now      func() time.Time
}

// NewUpserter returns an Upserter writing to st.
func NewUpserter(st store.Store, opts UpserterOptions) *Upserter {
	u := &Upserter{
		store:    st,
		enricher: opts.Enricher,
		events:   opts.Events,
		log:      opts.Logger,
		loc:      opts.Location,
		now:      opts.Now,
	}
	if u.events == nil {
		u.events = events.Noop{}
	}
	if u.log == nil {
		u.log = slog.Default()
	}
	u.log = u.log.With("component", "ingest.upsert")
	if u.now == nil {
		u.now = time.Now
	}
	return u
}

// Outcome reports what Process did with a candidate.
type Outcome struct {
	Listing  *model.Listing
	Created  bool
	Enqueued int
}

// Process upserts c on behalf of job and updates the job's counters. A
// persistence error rolls back the candidate's writes, is recorded as a
// FAILED item log in its own transaction and returned; the caller moves on
// to the next candidate.
func (u *Upserter) Process(ctx context.Context, job *model.CrawlJob, c model.Candidate) (Outcome, error) {
	var (
		out  Outcome
		next = *job
	)
	next.TotalFetched++

	err := u.store.WithTx(ctx, func(r store.Repo) error {
		cats, err := category.Resolve(ctx, r, c.PropertyType)
		if err != nil {
			return err
		}

		l := &model.Listing{}
		c.Apply(l, cats)
		created, err := r.UpsertListing(ctx, l)
		if err != nil {
			return fmt.Errorf("upsert listing: %w", err)
		}

		res := model.ResultUpdated
		if created {
			res = model.ResultCreated
			next.CreatedCount++
		} else {
			next.UpdatedCount++
		}
		id := l.ID
		if err := r.InsertItemLog(ctx, &model.CrawlItemLog{
			JobID:      job.ID,
			ListingID:  &id,
			ExternalID: l.ExternalID,
			Result:     res,
		}); err != nil {
			return fmt.Errorf("insert item log: %w", err)
		}

		if created {
			out.Enqueued = u.fanOut(ctx, r, l)
		}

		if err := r.SaveJob(ctx, &next); err != nil {
			return fmt.Errorf("save job counters: %w", err)
		}
		out.Listing, out.Created = l, created
		return nil
	})
	if err != nil {
		u.recordFailure(ctx, job, c, err)
		return Outcome{}, err
	}

	*job = next
	result := model.ResultUpdated
	if out.Created {
		result = model.ResultCreated
	}
	metrics.ListingsUpserted.WithLabelValues(string(c.Source), string(result)).Inc()

	if out.Created {
		u.enricher.Apply(ctx, u.store, out.Listing)
		u.events.Publish(ctx, events.EventListingCreated, map[string]any{
			"listing_id":  out.Listing.ID,
			"external_id": out.Listing.ExternalID,
			"source":      string(out.Listing.Source),
			"title":       out.Listing.Title,
			"enqueued":    out.Enqueued,
		})
	}
	return out, nil
}

// fanOut runs the alert fan-out inside a savepoint. Its failure rolls back
// only the notification rows it wrote; the listing upsert stands.
func (u *Upserter) fanOut(ctx context.Context, r store.Repo, l *model.Listing) int {
	today := model.Today(u.now(), u.loc)
	var n int
	err := r.Savepoint(ctx, func(sp store.Repo) error {
		var err error
		n, err = alert.FanOut(ctx, sp, l, today)
		return err
	})
	if err != nil {
		metrics.FanOutFailures.Inc()
		u.log.Warn("alert fan-out failed, listing kept", "listing_id", l.ID, "external_id", l.ExternalID, "err", err)
		return 0
	}
	return n
}

func (u *Upserter) recordFailure(ctx context.Context, job *model.CrawlJob, c model.Candidate, cause error) {
	job.TotalFetched++
	job.FailedCount++
	metrics.ListingsUpserted.WithLabelValues(string(c.Source), string(model.ResultFailed)).Inc()
	u.log.Warn("upsert failed", "job_id", job.ID, "external_id", c.ExternalID, "err", cause)

	err := u.store.WithTx(ctx, func(r store.Repo) error {
		if err := r.InsertItemLog(ctx, &model.CrawlItemLog{
			JobID:      job.ID,
			ExternalID: c.ExternalID,
			Result:     model.ResultFailed,
			Message:    model.Truncate(cause.Error(), model.MaxItemMessageLen),
		}); err != nil {
			return err
		}
		return r.SaveJob(ctx, job)
	})
	if err != nil {
		u.log.Error("record upsert failure", "job_id", job.ID, "external_id", c.ExternalID, "err", err)
	}
}
