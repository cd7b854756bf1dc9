// Package store defines the persistence contract shared by the pipeline
// engines. pgstore implements it on PostgreSQL; memstore keeps everything in
// memory for dry runs and tests.
package store

import (
	"context"
	"errors"
	"time"

	"aucradar/ingest-service/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store is a Repo that can open transactions.
type Store interface {
	Repo
	// WithTx runs fn inside one transaction. A non-nil error or a panic rolls
	// everything back; otherwise the transaction commits.
	WithTx(ctx context.Context, fn func(r Repo) error) error
}

// Repo is every query the pipeline needs. Inside WithTx it is bound to the
// transaction.
type Repo interface {
	// Savepoint runs fn in a nested unit of work: its failure rolls back only
	// the writes fn made, leaving the enclosing transaction usable.
	Savepoint(ctx context.Context, fn func(r Repo) error) error

	GetListingByExternalID(ctx context.Context, externalID string) (*model.Listing, error)
	// UpsertListing inserts l, or overwrites every writable column of the row
	// holding the same external id. It fills ID and timestamps on l.
	UpsertListing(ctx context.Context, l *model.Listing) (created bool, err error)
	UpdateListing(ctx context.Context, l *model.Listing) error
	SetPredictedPrice(ctx context.Context, listingID int64, price int64) error
	GetListing(ctx context.Context, id int64) (*model.Listing, error)
	ListRefreshCandidates(ctx context.Context, f RefreshFilter) ([]model.Listing, error)
	ListMatchCandidates(ctx context.Context, f MatchFilter) ([]model.Listing, error)

	GetOrCreateCategory(ctx context.Context, level model.CategoryLevel, parentID int64, code, name string) (*model.Category, error)

	CreateJob(ctx context.Context, j *model.CrawlJob) error
	SaveJob(ctx context.Context, j *model.CrawlJob) error
	GetJob(ctx context.Context, id int64) (*model.CrawlJob, error)
	InsertItemLog(ctx context.Context, l *model.CrawlItemLog) error
	ListItemLogs(ctx context.Context, jobID int64) ([]model.CrawlItemLog, error)

	ListActiveSubscriptions(ctx context.Context, frequency string) ([]model.Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*model.Subscription, error)
	GetRecipient(ctx context.Context, userID int64) (*model.Recipient, error)

	// NotificationExists reports whether any row exists for the triple.
	NotificationExists(ctx context.Context, subscriptionID, listingID int64, channel model.Channel) (bool, error)
	// HasSuccessfulNotification is the batch re-send suppression check.
	HasSuccessfulNotification(ctx context.Context, userID, subscriptionID, listingID int64) (bool, error)
	// CreateNotification inserts n unless a row for its triple already exists.
	// created is false when the row was suppressed.
	CreateNotification(ctx context.Context, n *model.NotificationLog) (created bool, err error)
	GetNotification(ctx context.Context, subscriptionID, listingID int64, channel model.Channel) (*model.NotificationLog, error)
	UpdateNotification(ctx context.Context, n *model.NotificationLog) error
	ListPendingNotifications(ctx context.Context, limit int) ([]model.NotificationLog, error)
	RequeueFailedNotifications(ctx context.Context, maxAttempts int) (int, error)
}

// RefreshFilter selects unresolved listings inside a date window.
type RefreshFilter struct {
	Source   *model.Source
	Statuses []model.ListingStatus
	From, To time.Time
}

// MatchFilter is the storage-side prefilter for subscription → listings
// matching. The alert engine re-applies the full predicate on the result.
type MatchFilter struct {
	Today            time.Time
	Region           string
	LargeCategoryID  *int64
	MidCategoryID    *int64
	SmallCategoryIDs []int64
	MinPrice         *int64
	MaxPrice         *int64
	MinFailures      *int
}

// MatchFilterFor builds the prefilter for a subscription.
func MatchFilterFor(s *model.Subscription, today time.Time) MatchFilter {
	return MatchFilter{
		Today:            today,
		Region:           s.Region,
		LargeCategoryID:  s.LargeCategoryID,
		MidCategoryID:    s.MidCategoryID,
		SmallCategoryIDs: s.SmallCategoryIDs,
		MinPrice:         s.MinPrice,
		MaxPrice:         s.MaxPrice,
		MinFailures:      s.MinFailures,
	}
}
