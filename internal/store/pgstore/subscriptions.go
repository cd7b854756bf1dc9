package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"aucradar/ingest-service/internal/model"
)

const subscriptionSelect = `SELECT s.id, s.user_id, s.region, s.large_category, s.mid_category,
	COALESCE(array_agg(sc.small_id ORDER BY sc.small_id) FILTER (WHERE sc.small_id IS NOT NULL), '{}'),
	s.min_price, s.max_price, s.min_failures, s.notify_email, s.notify_telegram, s.frequency, s.is_active
	FROM alert_subscriptions s
	LEFT JOIN alert_subscription_small_categories sc ON sc.subscription_id = s.id`

func scanSubscription(row pgx.Row, s *model.Subscription) error {
	return row.Scan(
		&s.ID, &s.UserID, &s.Region, &s.LargeCategoryID, &s.MidCategoryID,
		&s.SmallCategoryIDs,
		&s.MinPrice, &s.MaxPrice, &s.MinFailures, &s.NotifyEmail, &s.NotifyTelegram, &s.Frequency, &s.IsActive,
	)
}

// ListActiveSubscriptions returns active subscriptions; an empty frequency
// matches every frequency.
func (r *repo) ListActiveSubscriptions(ctx context.Context, frequency string) ([]model.Subscription, error) {
	rows, err := r.q.Query(ctx,
		subscriptionSelect+`
		 WHERE s.is_active AND ($1 = '' OR s.frequency = $1)
		 GROUP BY s.id
		 ORDER BY s.id`, frequency)
	if err != nil {
		return nil, fmt.Errorf("listActiveSubscriptions query: %w", err)
	}
	defer rows.Close()

	subs := make([]model.Subscription, 0)
	for rows.Next() {
		var s model.Subscription
		if err := scanSubscription(rows, &s); err != nil {
			return nil, fmt.Errorf("listActiveSubscriptions scan: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *repo) GetSubscription(ctx context.Context, id int64) (*model.Subscription, error) {
	var s model.Subscription
	err := scanSubscription(r.q.QueryRow(ctx, subscriptionSelect+` WHERE s.id = $1 GROUP BY s.id`, id), &s)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *repo) GetRecipient(ctx context.Context, userID int64) (*model.Recipient, error) {
	var rc model.Recipient
	err := r.q.QueryRow(ctx,
		`SELECT u.id, u.email, u.name, u.username,
		        COALESCE(t.chat_id, ''), COALESCE(t.is_active, FALSE)
		 FROM users u
		 LEFT JOIN telegram_profile t ON t.user_id = u.id
		 WHERE u.id = $1`, userID,
	).Scan(&rc.UserID, &rc.Email, &rc.Name, &rc.Username, &rc.TelegramChatID, &rc.TelegramActive)
	if err != nil {
		return nil, notFound(err)
	}
	return &rc, nil
}
