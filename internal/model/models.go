// Package model defines the shared data structures of the ingest service.
package model

import "time"

// Source identifies the upstream auction system a listing came from.
type Source string

const (
	SourceCourt Source = "court"
	SourceOnbid Source = "onbid"
)

// ParseSource converts a raw flag/request value into a Source.
func ParseSource(s string) (Source, bool) {
	switch Source(s) {
	case SourceCourt, SourceOnbid:
		return Source(s), true
	}
	return "", false
}

// Label is the human-readable source name used in notification bodies.
func (s Source) Label() string {
	switch s {
	case SourceCourt:
		return "법원경매"
	case SourceOnbid:
		return "온비드공매"
	}
	return "기타"
}

// BidMethod mirrors the bid_method column.
type BidMethod string

const (
	BidMethodDate    BidMethod = "date"
	BidMethodPeriod  BidMethod = "period"
	BidMethodEtc     BidMethod = "etc"
	BidMethodUnknown BidMethod = "unknown"
)

// Listing is the canonical auction item (auction_items table).
type Listing struct {
	ID             int64
	Source         Source
	RawSource      string
	ExternalID     string
	Title          string
	Location       string
	Area           *float64
	MinBidPrice    *int64
	AppraisalPrice *int64
	DepositPrice   *int64
	AuctionDate    *time.Time
	BidMethod      BidMethod
	RawBidMethod   string
	Status         ListingStatus
	RawStatus      string
	NumFailures    *int
	LargeID        *int64
	MiddleID       *int64
	SmallID        *int64
	DetailURL      *string
	PredictedPrice *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Candidate is a normalized upstream record: every writable Listing field,
// plus the free-text property type the category resolver consumes.
type Candidate struct {
	Source         Source
	RawSource      string
	ExternalID     string
	Title          string
	Location       string
	Area           *float64
	MinBidPrice    *int64
	AppraisalPrice *int64
	DepositPrice   *int64
	AuctionDate    *time.Time
	BidMethod      BidMethod
	RawBidMethod   string
	Status         ListingStatus
	RawStatus      string
	NumFailures    *int
	DetailURL      *string
	PropertyType   string
}

// Apply overwrites every writable field of l with the candidate's values.
// There is no field-level merge: the last sighting wins.
func (c *Candidate) Apply(l *Listing, cats Categories) {
	l.Source = c.Source
	l.RawSource = c.RawSource
	l.ExternalID = c.ExternalID
	l.Title = c.Title
	l.Location = c.Location
	l.Area = c.Area
	l.MinBidPrice = c.MinBidPrice
	l.AppraisalPrice = c.AppraisalPrice
	l.DepositPrice = c.DepositPrice
	l.AuctionDate = c.AuctionDate
	l.BidMethod = c.BidMethod
	l.RawBidMethod = c.RawBidMethod
	l.Status = c.Status
	l.RawStatus = c.RawStatus
	l.NumFailures = c.NumFailures
	l.DetailURL = c.DetailURL
	l.LargeID = cats.LargeID()
	l.MiddleID = cats.MiddleID()
	l.SmallID = cats.SmallID()
}

// Recipient is the read-only identity-store view of a subscription owner.
type Recipient struct {
	UserID         int64
	Email          string
	Name           string
	Username       string
	TelegramChatID string
	TelegramActive bool
}

// DisplayName walks the fallback chain name → username → email → generic label.
func (r *Recipient) DisplayName() string {
	switch {
	case r == nil:
		return "사용자"
	case r.Name != "":
		return r.Name
	case r.Username != "":
		return r.Username
	case r.Email != "":
		return r.Email
	}
	return "사용자"
}

// Today returns the calendar date of now in loc, as midnight UTC so it
// compares cleanly with DATE columns.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc != nil {
		now = now.In(loc)
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
