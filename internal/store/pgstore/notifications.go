package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store"
)

const notificationColumns = `id, user_id, subscription_id, listing_id, channel, status,
	message_title, message_body, error_message, attempts, sent_at, created_at, updated_at`

func scanNotification(row pgx.Row, n *model.NotificationLog) error {
	return row.Scan(
		&n.ID, &n.UserID, &n.SubscriptionID, &n.ListingID, &n.Channel, &n.Status,
		&n.MessageTitle, &n.MessageBody, &n.ErrorMessage, &n.Attempts, &n.SentAt, &n.CreatedAt, &n.UpdatedAt,
	)
}

func (r *repo) NotificationExists(ctx context.Context, subscriptionID, listingID int64, channel model.Channel) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notification_logs
		   WHERE subscription_id = $1 AND listing_id = $2 AND channel = $3)`,
		subscriptionID, listingID, channel,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("notificationExists: %w", err)
	}
	return exists, nil
}

func (r *repo) HasSuccessfulNotification(ctx context.Context, userID, subscriptionID, listingID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notification_logs
		   WHERE user_id = $1 AND subscription_id = $2 AND listing_id = $3 AND status = $4)`,
		userID, subscriptionID, listingID, model.NotifySuccess,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("hasSuccessfulNotification: %w", err)
	}
	return exists, nil
}

func (r *repo) CreateNotification(ctx context.Context, n *model.NotificationLog) (bool, error) {
	err := r.q.QueryRow(ctx,
		`INSERT INTO notification_logs (
		   user_id, subscription_id, listing_id, channel, status,
		   message_title, message_body, error_message, attempts, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (subscription_id, listing_id, channel) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		n.UserID, n.SubscriptionID, n.ListingID, n.Channel, n.Status,
		n.MessageTitle, n.MessageBody, n.ErrorMessage, n.Attempts, n.SentAt,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("createNotification: %w", err)
	}
	return true, nil
}

func (r *repo) GetNotification(ctx context.Context, subscriptionID, listingID int64, channel model.Channel) (*model.NotificationLog, error) {
	var n model.NotificationLog
	err := scanNotification(r.q.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notification_logs
		 WHERE subscription_id = $1 AND listing_id = $2 AND channel = $3`,
		subscriptionID, listingID, channel), &n)
	if err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (r *repo) UpdateNotification(ctx context.Context, n *model.NotificationLog) error {
	err := r.q.QueryRow(ctx,
		`UPDATE notification_logs SET
		   status = $2, message_title = $3, message_body = $4, error_message = $5,
		   attempts = $6, sent_at = $7, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		n.ID, n.Status, n.MessageTitle, n.MessageBody, n.ErrorMessage, n.Attempts, n.SentAt,
	).Scan(&n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updateNotification %d: %w", n.ID, notFound(err))
	}
	return nil
}

func (r *repo) ListPendingNotifications(ctx context.Context, limit int) ([]model.NotificationLog, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+notificationColumns+` FROM notification_logs
		 WHERE status = $1
		 ORDER BY created_at, id
		 LIMIT $2`, model.NotifyPending, limit)
	if err != nil {
		return nil, fmt.Errorf("listPendingNotifications query: %w", err)
	}
	defer rows.Close()

	out := make([]model.NotificationLog, 0)
	for rows.Next() {
		var n model.NotificationLog
		if err := scanNotification(rows, &n); err != nil {
			return nil, fmt.Errorf("listPendingNotifications scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *repo) RequeueFailedNotifications(ctx context.Context, maxAttempts int) (int, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE notification_logs SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND attempts < $3`,
		model.NotifyPending, model.NotifyFailed, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("requeueFailedNotifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ store.Store = (*Store)(nil)
