package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aucradar/ingest-service/internal/alert"
	"aucradar/ingest-service/internal/metrics"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store"
)

// DefaultDispatchLimit bounds one queued dispatch batch.
const DefaultDispatchLimit = 200

// Log bodies written on each outcome.
const (
	bodySent      = "발송 성공"
	bodyFailed    = "발송 실패"
	bodyException = "예외로 발송 실패"
)

var batchBody = map[model.Channel]string{
	model.ChannelEmail:    "이메일 알림 발송(배치형)",
	model.ChannelTelegram: "텔레그램 알림 발송(배치형)",
}

var batchError = map[model.Channel]string{
	model.ChannelEmail:    "이메일 발송 실패",
	model.ChannelTelegram: "텔레그램 발송 실패",
}

// Dispatcher delivers notifications and records every attempt.
type Dispatcher struct {
	store   store.Store
	senders map[model.Channel]Sender
	log     *slog.Logger
	loc     *time.Location
	now     func() time.Time
}

// Options configures a Dispatcher.
type Options struct {
	Logger   *slog.Logger
	Location *time.Location
	Now      func() time.Time
}

// NewDispatcher wires a Dispatcher. Channels without a sender always fail.
func NewDispatcher(st store.Store, senders []Sender, opts Options) *Dispatcher {
	d := &Dispatcher{
		store:   st,
		senders: make(map[model.Channel]Sender, len(senders)),
		log:     opts.Logger,
		loc:     opts.Location,
		now:     opts.Now,
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("component", "notify")
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// BatchResult summarizes a dispatch pass.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// ─── Queued path ─────────────────────────────────────────────────────────────

// DispatchPending delivers up to limit PENDING logs, oldest first, and moves
// each to SUCCESS or FAILED. A log whose processing errors or panics is
// recorded as FAILED; the batch always continues.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = DefaultDispatchLimit
	}
	logs, err := d.store.ListPendingNotifications(ctx, limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("dispatchPending: %w", err)
	}

	var res BatchResult
	for i := range logs {
		n := &logs[i]
		n.Attempts++

		if err := d.processPending(ctx, n); err != nil {
			n.Status = model.NotifyFailed
			n.ErrorMessage = model.Truncate(err.Error(), model.MaxNotificationErrorLen)
			n.MessageBody = bodyException
			n.SentAt = nil
			d.log.Warn("notification processing failed", "notification_id", n.ID, "err", err)
			if uerr := d.store.UpdateNotification(context.WithoutCancel(ctx), n); uerr != nil {
				d.log.Error("record notification failure", "notification_id", n.ID, "err", uerr)
			}
		}

		res.Processed++
		if n.Status == model.NotifySuccess {
			res.Succeeded++
		} else {
			res.Failed++
		}
		metrics.NotificationsSent.WithLabelValues(string(n.Channel), string(n.Status)).Inc()
	}

	if res.Processed > 0 {
		d.log.Info("pending notifications dispatched", "processed", res.Processed, "succeeded", res.Succeeded, "failed", res.Failed)
	}
	return res, nil
}

// processPending loads what n refers to, delivers it and stores the result.
// Panics are turned into errors.
func (d *Dispatcher) processPending(ctx context.Context, n *model.NotificationLog) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if n.SubscriptionID == nil {
		return errors.New("subscription no longer exists")
	}
	sub, err := d.store.GetSubscription(ctx, *n.SubscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription %d: %w", *n.SubscriptionID, err)
	}
	listing, err := d.store.GetListing(ctx, n.ListingID)
	if err != nil {
		return fmt.Errorf("load listing %d: %w", n.ListingID, err)
	}
	recipient, err := d.recipient(ctx, n.UserID)
	if err != nil {
		return err
	}

	if d.deliver(ctx, n.Channel, recipient, sub, []model.Listing{*listing}) {
		sent := d.now()
		n.Status = model.NotifySuccess
		n.SentAt = &sent
		n.ErrorMessage = ""
		n.MessageBody = bodySent
	} else {
		n.Status = model.NotifyFailed
		n.ErrorMessage = bodyFailed
		n.MessageBody = bodyFailed
	}
	return d.store.UpdateNotification(ctx, n)
}

// RequeueFailed returns FAILED logs with fewer than maxAttempts attempts to
// PENDING so the next queued pass retries them in place.
func (d *Dispatcher) RequeueFailed(ctx context.Context, maxAttempts int) (int, error) {
	n, err := d.store.RequeueFailedNotifications(ctx, maxAttempts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.log.Info("failed notifications requeued", "count", n, "max_attempts", maxAttempts)
	}
	return n, nil
}

// ─── Immediate path ──────────────────────────────────────────────────────────

// SendForSubscription delivers every listing sub currently matches, one
// message per listing and channel, and writes a terminal log for each. An
// existing row for the same triple is updated in place. It returns the
// number of listings attempted.
func (d *Dispatcher) SendForSubscription(ctx context.Context, sub *model.Subscription) (int, error) {
	if !sub.IsActive {
		return 0, nil
	}
	today := model.Today(d.now(), d.loc)
	listings, err := alert.MatchingListings(ctx, d.store, sub, today)
	if err != nil {
		return 0, err
	}
	if len(listings) == 0 {
		return 0, nil
	}
	recipient, err := d.recipient(ctx, sub.UserID)
	if err != nil {
		return 0, err
	}

	for i := range listings {
		l := &listings[i]
		for _, ch := range sub.Channels() {
			ok := d.deliver(ctx, ch, recipient, sub, []model.Listing{*l})
			if err := d.recordImmediate(ctx, sub, l, ch, ok); err != nil {
				d.log.Warn("record immediate notification", "subscription_id", sub.ID, "listing_id", l.ID, "channel", ch, "err", err)
			}
		}
	}
	return len(listings), nil
}

func (d *Dispatcher) recordImmediate(ctx context.Context, sub *model.Subscription, l *model.Listing, ch model.Channel, ok bool) error {
	subID := sub.ID
	n := &model.NotificationLog{
		UserID:         sub.UserID,
		SubscriptionID: &subID,
		ListingID:      l.ID,
		Channel:        ch,
		MessageTitle:   model.Truncate(l.Title, 200),
		MessageBody:    batchBody[ch],
		Attempts:       1,
	}
	if ok {
		sent := d.now()
		n.Status = model.NotifySuccess
		n.SentAt = &sent
	} else {
		n.Status = model.NotifyFailed
		n.ErrorMessage = batchError[ch]
	}
	metrics.NotificationsSent.WithLabelValues(string(ch), string(n.Status)).Inc()

	prev, err := d.store.GetNotification(ctx, sub.ID, l.ID, ch)
	switch {
	case errors.Is(err, store.ErrNotFound):
		created, err := d.store.CreateNotification(ctx, n)
		if err != nil || created {
			return err
		}
		// Lost a race with the fan-out; update the row it wrote.
		if prev, err = d.store.GetNotification(ctx, sub.ID, l.ID, ch); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	n.ID = prev.ID
	n.Attempts = prev.Attempts + 1
	return d.store.UpdateNotification(ctx, n)
}

// RunAlertBatch runs the immediate path for every active subscription of
// frequency, or of all frequencies when it is empty. A failing subscription
// is logged and skipped. It returns the number of subscriptions processed.
func (d *Dispatcher) RunAlertBatch(ctx context.Context, frequency string) (int, error) {
	subs, err := d.store.ListActiveSubscriptions(ctx, frequency)
	if err != nil {
		return 0, fmt.Errorf("runAlertBatch: %w", err)
	}
	processed := 0
	for i := range subs {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, err := d.SendForSubscription(ctx, &subs[i]); err != nil {
			d.log.Warn("alert batch subscription failed", "subscription_id", subs[i].ID, "err", err)
		}
		processed++
	}
	d.log.Info("alert batch finished", "frequency", frequency, "subscriptions", processed)
	return processed, nil
}

// ─── Delivery ────────────────────────────────────────────────────────────────

// deliver renders and sends one message. Every failure, including a panic
// in the sender, is reduced to false.
func (d *Dispatcher) deliver(ctx context.Context, ch model.Channel, to *model.Recipient, sub *model.Subscription, listings []model.Listing) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Warn("sender panicked", "channel", ch, "panic", p)
			ok = false
		}
	}()

	s, found := d.senders[ch]
	if !found {
		d.log.Warn("no sender for channel", "channel", ch)
		return false
	}
	if err := s.Send(ctx, to, BuildMessage(to, sub, listings)); err != nil {
		d.log.Warn("delivery failed", "channel", ch, "subscription_id", sub.ID, "err", err)
		return false
	}
	return true
}

// recipient loads the identity-store view of a user. A missing user yields
// nil, which every sender rejects.
func (d *Dispatcher) recipient(ctx context.Context, userID int64) (*model.Recipient, error) {
	r, err := d.store.GetRecipient(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load recipient %d: %w", userID, err)
	}
	return r, nil
}
