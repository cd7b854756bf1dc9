// Package memstore is an in-memory store.Store used by dry-run crawls and
// engine tests. Transactions are snapshot based: a failing WithTx or Savepoint
// restores the state captured when it began. Concurrent transactions are not
// isolated from one another.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store"
)

type catKey struct {
	level    model.CategoryLevel
	parentID int64
	code     string
}

type triple struct {
	subscriptionID int64
	listingID      int64
	channel        model.Channel
}

type state struct {
	seq           int64
	listings      map[int64]model.Listing
	byExternalID  map[string]int64
	categories    map[catKey]model.Category
	jobs          map[int64]model.CrawlJob
	itemLogs      map[int64]model.CrawlItemLog
	subscriptions map[int64]model.Subscription
	recipients    map[int64]model.Recipient
	notifications map[int64]model.NotificationLog
}

func newState() *state {
	return &state{
		listings:      make(map[int64]model.Listing),
		byExternalID:  make(map[string]int64),
		categories:    make(map[catKey]model.Category),
		jobs:          make(map[int64]model.CrawlJob),
		itemLogs:      make(map[int64]model.CrawlItemLog),
		subscriptions: make(map[int64]model.Subscription),
		recipients:    make(map[int64]model.Recipient),
		notifications: make(map[int64]model.NotificationLog),
	}
}

func (s *state) clone() *state {
	return &state{
		seq:           s.seq,
		listings:      maps.Clone(s.listings),
		byExternalID:  maps.Clone(s.byExternalID),
		categories:    maps.Clone(s.categories),
		jobs:          maps.Clone(s.jobs),
		itemLogs:      maps.Clone(s.itemLogs),
		subscriptions: maps.Clone(s.subscriptions),
		recipients:    maps.Clone(s.recipients),
		notifications: maps.Clone(s.notifications),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store keeps every table in memory.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time

	// Fail, when set, is consulted before each write with the operation name
	// and its key (external id, listing id…). A non-nil result fails the write.
	Fail func(op, key string) error
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) WithTx(ctx context.Context, fn func(r store.Repo) error) error {
	return s.Savepoint(ctx, fn)
}

func (s *Store) Savepoint(_ context.Context, fn func(r store.Repo) error) (err error) {
	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
	}
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
		if err != nil {
			rollback()
		}
	}()

	return fn(s)
}

func (s *Store) fail(op, key string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op, key)
}

// ─── Seeding and inspection ─────────────────────────────────────────────────

// AddRecipient registers an identity-store user.
func (s *Store) AddRecipient(r model.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.recipients[r.UserID] = r
}

// AddSubscription stores sub and returns its id.
func (s *Store) AddSubscription(sub model.Subscription) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = s.st.nextID()
	}
	if sub.Frequency == "" {
		sub.Frequency = "immediate"
	}
	s.st.subscriptions[sub.ID] = sub
	return sub.ID
}

// Listings returns every listing ordered by id.
func (s *Store) Listings() []model.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.listings, func(l model.Listing) int64 { return l.ID })
}

// Notifications returns every notification log ordered by id.
func (s *Store) Notifications() []model.NotificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.notifications, func(n model.NotificationLog) int64 { return n.ID })
}

// Categories returns every taxonomy node ordered by id.
func (s *Store) Categories() []model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.st.categories))
	slices.SortFunc(out, func(a, b model.Category) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func sortedValues[T any](m map[int64]T, id func(T) int64) []T {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(id(a), id(b)) })
	return out
}

// ─── Listings ───────────────────────────────────────────────────────────────

func (s *Store) GetListingByExternalID(_ context.Context, externalID string) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.st.byExternalID[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	l := s.st.listings[id]
	return &l, nil
}

func (s *Store) GetListing(_ context.Context, id int64) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.listings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (s *Store) UpsertListing(_ context.Context, l *model.Listing) (bool, error) {
	if err := s.fail("UpsertListing", l.ExternalID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id, exists := s.st.byExternalID[l.ExternalID]
	if exists {
		prev := s.st.listings[id]
		l.ID = id
		l.CreatedAt = prev.CreatedAt
		l.PredictedPrice = prev.PredictedPrice
	} else {
		l.ID = s.st.nextID()
		l.CreatedAt = now
		s.st.byExternalID[l.ExternalID] = l.ID
	}
	l.UpdatedAt = now
	s.st.listings[l.ID] = *l
	return !exists, nil
}

func (s *Store) UpdateListing(_ context.Context, l *model.Listing) error {
	if err := s.fail("UpdateListing", l.ExternalID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.st.listings[l.ID]
	if !ok {
		return fmt.Errorf("update listing %d: %w", l.ID, store.ErrNotFound)
	}
	l.ExternalID = prev.ExternalID
	l.CreatedAt = prev.CreatedAt
	l.UpdatedAt = s.now()
	s.st.listings[l.ID] = *l
	return nil
}

func (s *Store) SetPredictedPrice(_ context.Context, listingID int64, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.listings[listingID]
	if !ok {
		return store.ErrNotFound
	}
	l.PredictedPrice = &price
	l.UpdatedAt = s.now()
	s.st.listings[listingID] = l
	return nil
}

func (s *Store) ListRefreshCandidates(_ context.Context, f store.RefreshFilter) ([]model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Listing, 0)
	for _, l := range s.st.listings {
		if !slices.Contains(f.Statuses, l.Status) || l.AuctionDate == nil {
			continue
		}
		if l.AuctionDate.Before(f.From) || l.AuctionDate.After(f.To) {
			continue
		}
		if f.Source != nil && l.Source != *f.Source {
			continue
		}
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b model.Listing) int {
		if c := a.AuctionDate.Compare(*b.AuctionDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) ListMatchCandidates(_ context.Context, f store.MatchFilter) ([]model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	region := strings.ToLower(f.Region)
	out := make([]model.Listing, 0)
	for _, l := range s.st.listings {
		switch {
		case l.AuctionDate != nil && l.AuctionDate.Before(f.Today):
		case region != "" && !strings.Contains(strings.ToLower(l.Location), region):
		case f.LargeCategoryID != nil && !eqPtr(l.LargeID, f.LargeCategoryID):
		case f.MidCategoryID != nil && !eqPtr(l.MiddleID, f.MidCategoryID):
		case len(f.SmallCategoryIDs) > 0 && (l.SmallID == nil || !slices.Contains(f.SmallCategoryIDs, *l.SmallID)):
		case f.MinPrice != nil && (l.MinBidPrice == nil || *l.MinBidPrice < *f.MinPrice):
		case f.MaxPrice != nil && (l.MinBidPrice == nil || *l.MinBidPrice > *f.MaxPrice):
		case f.MinFailures != nil && *f.MinFailures > 0 && (l.NumFailures == nil || *l.NumFailures < *f.MinFailures):
		default:
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b model.Listing) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func eqPtr[T comparable](a, b *T) bool {
	return a != nil && b != nil && *a == *b
}

// ─── Categories ─────────────────────────────────────────────────────────────

func (s *Store) GetOrCreateCategory(_ context.Context, level model.CategoryLevel, parentID int64, code, name string) (*model.Category, error) {
	if err := s.fail("GetOrCreateCategory", code); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := catKey{level: level, parentID: parentID, code: code}
	if c, ok := s.st.categories[k]; ok {
		return &c, nil
	}
	c := model.Category{ID: s.st.nextID(), ParentID: parentID, Code: code, Name: name}
	s.st.categories[k] = c
	return &c, nil
}

// ─── Jobs ───────────────────────────────────────────────────────────────────

func (s *Store) CreateJob(_ context.Context, j *model.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.ID = s.st.nextID()
	j.CreatedAt = s.now()
	s.st.jobs[j.ID] = *j
	return nil
}

func (s *Store) SaveJob(_ context.Context, j *model.CrawlJob) error {
	if err := s.fail("SaveJob", fmt.Sprint(j.ID)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.jobs[j.ID]; !ok {
		return fmt.Errorf("saveJob %d: %w", j.ID, store.ErrNotFound)
	}
	s.st.jobs[j.ID] = *j
	return nil
}

func (s *Store) GetJob(_ context.Context, id int64) (*model.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.st.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &j, nil
}

func (s *Store) InsertItemLog(_ context.Context, l *model.CrawlItemLog) error {
	if err := s.fail("InsertItemLog", l.ExternalID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.st.nextID()
	l.CreatedAt = s.now()
	s.st.itemLogs[l.ID] = *l
	return nil
}

func (s *Store) ListItemLogs(_ context.Context, jobID int64) ([]model.CrawlItemLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CrawlItemLog, 0)
	for _, l := range sortedValues(s.st.itemLogs, func(l model.CrawlItemLog) int64 { return l.ID }) {
		if l.JobID == jobID {
			out = append(out, l)
		}
	}
	return out, nil
}

// ─── Subscriptions and recipients ───────────────────────────────────────────

func (s *Store) ListActiveSubscriptions(_ context.Context, frequency string) ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Subscription, 0)
	for _, sub := range sortedValues(s.st.subscriptions, func(s model.Subscription) int64 { return s.ID }) {
		if sub.IsActive && (frequency == "" || sub.Frequency == frequency) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *Store) GetSubscription(_ context.Context, id int64) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.st.subscriptions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sub, nil
}

func (s *Store) GetRecipient(_ context.Context, userID int64) (*model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.recipients[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

// ─── Notifications ──────────────────────────────────────────────────────────

func (s *Store) findNotification(t triple) (model.NotificationLog, bool) {
	for _, n := range s.st.notifications {
		if n.SubscriptionID != nil && *n.SubscriptionID == t.subscriptionID &&
			n.ListingID == t.listingID && n.Channel == t.channel {
			return n, true
		}
	}
	return model.NotificationLog{}, false
}

func (s *Store) NotificationExists(_ context.Context, subscriptionID, listingID int64, channel model.Channel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.findNotification(triple{subscriptionID, listingID, channel})
	return ok, nil
}

func (s *Store) HasSuccessfulNotification(_ context.Context, userID, subscriptionID, listingID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.st.notifications {
		if n.UserID == userID && n.SubscriptionID != nil && *n.SubscriptionID == subscriptionID &&
			n.ListingID == listingID && n.Status == model.NotifySuccess {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateNotification(_ context.Context, n *model.NotificationLog) (bool, error) {
	if err := s.fail("CreateNotification", fmt.Sprint(n.ListingID)); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.SubscriptionID != nil {
		if _, ok := s.findNotification(triple{*n.SubscriptionID, n.ListingID, n.Channel}); ok {
			return false, nil
		}
	}
	now := s.now()
	n.ID = s.st.nextID()
	n.CreatedAt = now
	n.UpdatedAt = now
	s.st.notifications[n.ID] = *n
	return true, nil
}

func (s *Store) GetNotification(_ context.Context, subscriptionID, listingID int64, channel model.Channel) (*model.NotificationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.findNotification(triple{subscriptionID, listingID, channel})
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (s *Store) UpdateNotification(_ context.Context, n *model.NotificationLog) error {
	if err := s.fail("UpdateNotification", fmt.Sprint(n.ID)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.st.notifications[n.ID]
	if !ok {
		return fmt.Errorf("updateNotification %d: %w", n.ID, store.ErrNotFound)
	}
	n.CreatedAt = prev.CreatedAt
	n.UpdatedAt = s.now()
	s.st.notifications[n.ID] = *n
	return nil
}

func (s *Store) ListPendingNotifications(_ context.Context, limit int) ([]model.NotificationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.NotificationLog, 0)
	for _, n := range s.st.notifications {
		if n.Status == model.NotifyPending {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b model.NotificationLog) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RequeueFailedNotifications(_ context.Context, maxAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, log := range s.st.notifications {
		if log.Status == model.NotifyFailed && log.Attempts < maxAttempts {
			log.Status = model.NotifyPending
			log.UpdatedAt = s.now()
			s.st.notifications[id] = log
			n++
		}
	}
	return n, nil
}

var _ store.Store = (*Store)(nil)
