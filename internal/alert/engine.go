package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"aucradar/ingest-service/internal/metrics"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store"
)

// Pending-log bodies written by the ingestion fan-out.
var pendingBody = map[model.Channel]string{
	model.ChannelEmail:    "이메일 알림 대기",
	model.ChannelTelegram: "텔레그램 알림 대기",
}

// FanOut enqueues one PENDING notification log per channel for every active
// subscription that l matches. Pairs already notified successfully, and
// triples that already have a row, are skipped, so repeated calls for the
// same listing never add rows. It returns the number of logs created.
func FanOut(ctx context.Context, repo store.Repo, l *model.Listing, today time.Time) (int, error) {
	subs, err := repo.ListActiveSubscriptions(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("fanOut list subscriptions: %w", err)
	}

	created := 0
	for i := range subs {
		sub := &subs[i]
		if !Matches(sub, l, today) {
			continue
		}

		done, err := repo.HasSuccessfulNotification(ctx, sub.UserID, sub.ID, l.ID)
		if err != nil {
			return created, fmt.Errorf("fanOut subscription %d: %w", sub.ID, err)
		}
		if done {
			continue
		}

		for _, ch := range sub.Channels() {
			exists, err := repo.NotificationExists(ctx, sub.ID, l.ID, ch)
			if err != nil {
				return created, fmt.Errorf("fanOut subscription %d: %w", sub.ID, err)
			}
			if exists {
				continue
			}

			subID := sub.ID
			ok, err := repo.CreateNotification(ctx, &model.NotificationLog{
				UserID:         sub.UserID,
				SubscriptionID: &subID,
				ListingID:      l.ID,
				Channel:        ch,
				Status:         model.NotifyPending,
				MessageTitle:   model.Truncate(l.Title, 200),
				MessageBody:    pendingBody[ch],
			})
			if err != nil {
				return created, fmt.Errorf("fanOut subscription %d %s: %w", sub.ID, ch, err)
			}
			if ok {
				created++
				metrics.NotificationsEnqueued.WithLabelValues(string(ch)).Inc()
			}
		}
	}

	if created > 0 {
		slog.Debug("alert fan-out enqueued notifications", "component", "alert", "listing_id", l.ID, "created", created)
	}
	return created, nil
}

// MatchingListings returns the listings sub currently matches, leaving out
// those already delivered successfully to the same subscription.
func MatchingListings(ctx context.Context, repo store.Repo, sub *model.Subscription, today time.Time) ([]model.Listing, error) {
	if !sub.IsActive {
		return nil, nil
	}
	candidates, err := repo.ListMatchCandidates(ctx, store.MatchFilterFor(sub, today))
	if err != nil {
		return nil, fmt.Errorf("matchingListings subscription %d: %w", sub.ID, err)
	}

	out := make([]model.Listing, 0, len(candidates))
	for i := range candidates {
		l := &candidates[i]
		if !Matches(sub, l, today) {
			continue
		}
		done, err := repo.HasSuccessfulNotification(ctx, sub.UserID, sub.ID, l.ID)
		if err != nil {
			return nil, fmt.Errorf("matchingListings subscription %d: %w", sub.ID, err)
		}
		if !done {
			out = append(out, *l)
		}
	}
	return out, nil
}
