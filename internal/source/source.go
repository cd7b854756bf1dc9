// Package source implements the upstream auction adapters. Each adapter turns
// one paginated API into a lazy sequence of normalized candidates and can
// re-query the current status of a single listing.
package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"aucradar/ingest-service/internal/model"
)

var (
	// ErrMissingAPIKey aborts a fetch whose adapter cannot authenticate.
	ErrMissingAPIKey = errors.New("source API key is not configured")
	// ErrStatusUnavailable means the adapter has no way to look the listing up;
	// the refresh engine skips it without a write.
	ErrStatusUnavailable = errors.New("status lookup not available for listing")
	// ErrUnknownSource is returned for a source with no configured adapter.
	ErrUnknownSource = errors.New("no adapter configured")
)

// Window is the inclusive auction-date range of a fetch.
type Window struct {
	From, To time.Time
}

// StatusUpdate is the freshly observed upstream state of one listing. Nil
// fields were not observed and must not overwrite stored values.
type StatusUpdate struct {
	Status      model.ListingStatus
	RawStatus   *string
	NumFailures *int
}

// Adapter is one upstream auction system.
//
// Fetch isolates partition failures itself (logging and skipping them); an
// error yielded by the sequence is fatal for the whole run, and the
// sequence ends after it.
type Adapter interface {
	Source() model.Source
	Fetch(ctx context.Context, w Window) iter.Seq2[model.Candidate, error]
	LookupStatus(ctx context.Context, l *model.Listing) (StatusUpdate, error)
}

// Registry maps each source to its adapter.
type Registry map[model.Source]Adapter

// Get returns the adapter for src.
func (r Registry) Get(src model.Source) (Adapter, error) {
	a, ok := r[src]
	if !ok || a == nil {
		return nil, fmt.Errorf("source %q: %w", src, ErrUnknownSource)
	}
	return a, nil
}

// statusFromText classifies free-text progress labels shared by the court
// detail page and the onbid API ("유찰", "매각허가결정", "인터넷입찰진행중"…).
func statusFromText(text string, auctionDate *time.Time, today time.Time) model.ListingStatus {
	t := strings.ReplaceAll(text, " ", "")
	switch {
	case t == "":
		return model.StatusUnknown
	case strings.Contains(t, "유찰"):
		return model.StatusFailed
	case strings.Contains(t, "낙찰"), strings.Contains(t, "매각"), strings.Contains(t, "배당"), strings.Contains(t, "종국"):
		return model.StatusSold
	case strings.Contains(t, "진행"), strings.Contains(t, "신건"), strings.Contains(t, "예정"), strings.Contains(t, "준비"):
		return upcoming(auctionDate, today)
	}
	return model.StatusUnknown
}

// upcoming is PLANNED while the auction date is today or later, ACTIVE otherwise.
func upcoming(auctionDate *time.Time, today time.Time) model.ListingStatus {
	if auctionDate != nil && !auctionDate.Before(today) {
		return model.StatusPlanned
	}
	return model.StatusActive
}
