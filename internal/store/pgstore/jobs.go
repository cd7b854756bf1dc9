package pgstore

import (
	"context"
	"fmt"

	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store"
)

const jobColumns = `id, kind, source, status, triggered_by, started_at, finished_at,
	total_fetched, created_count, updated_count, failed_count, error_message, note, created_at`

func (r *repo) CreateJob(ctx context.Context, j *model.CrawlJob) error {
	err := r.q.QueryRow(ctx,
		`INSERT INTO crawl_jobs (kind, source, status, triggered_by, started_at, note)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		j.Kind, j.Source, j.Status, j.TriggeredBy, j.StartedAt, j.Note,
	).Scan(&j.ID, &j.CreatedAt)
	if err != nil {
		return fmt.Errorf("createJob: %w", err)
	}
	return nil
}

func (r *repo) SaveJob(ctx context.Context, j *model.CrawlJob) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE crawl_jobs SET
		   status = $2, started_at = $3, finished_at = $4,
		   total_fetched = $5, created_count = $6, updated_count = $7, failed_count = $8,
		   error_message = $9, note = $10
		 WHERE id = $1`,
		j.ID, j.Status, j.StartedAt, j.FinishedAt,
		j.TotalFetched, j.CreatedCount, j.UpdatedCount, j.FailedCount,
		j.ErrorMessage, j.Note,
	)
	if err != nil {
		return fmt.Errorf("saveJob %d: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("saveJob %d: %w", j.ID, store.ErrNotFound)
	}
	return nil
}

func (r *repo) GetJob(ctx context.Context, id int64) (*model.CrawlJob, error) {
	var j model.CrawlJob
	err := r.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, id).Scan(
		&j.ID, &j.Kind, &j.Source, &j.Status, &j.TriggeredBy, &j.StartedAt, &j.FinishedAt,
		&j.TotalFetched, &j.CreatedCount, &j.UpdatedCount, &j.FailedCount, &j.ErrorMessage, &j.Note, &j.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func (r *repo) InsertItemLog(ctx context.Context, l *model.CrawlItemLog) error {
	err := r.q.QueryRow(ctx,
		`INSERT INTO crawl_item_logs (job_id, listing_id, external_id, result, message)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		l.JobID, l.ListingID, l.ExternalID, l.Result, l.Message,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insertItemLog: %w", err)
	}
	return nil
}

func (r *repo) ListItemLogs(ctx context.Context, jobID int64) ([]model.CrawlItemLog, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, job_id, listing_id, external_id, result, message, created_at
		 FROM crawl_item_logs WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listItemLogs query: %w", err)
	}
	defer rows.Close()

	logs := make([]model.CrawlItemLog, 0)
	for rows.Next() {
		var l model.CrawlItemLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.ListingID, &l.ExternalID, &l.Result, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("listItemLogs scan: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
