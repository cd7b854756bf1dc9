package model

import (
	"time"
	"unicode/utf8"
)

// Category is one node of the Large → Middle → Small taxonomy.
type Category struct {
	ID       int64
	ParentID int64 // 0 for large
	Code     string
	Name     string
}

// CategoryLevel selects the taxonomy table.
type CategoryLevel int

const (
	LevelLarge CategoryLevel = iota
	LevelMiddle
	LevelSmall
)

// Categories is the resolved (large, middle, small) triple.
type Categories struct {
	Large, Middle, Small *Category
}

func (c Categories) LargeID() *int64  { return idOf(c.Large) }
func (c Categories) MiddleID() *int64 { return idOf(c.Middle) }
func (c Categories) SmallID() *int64  { return idOf(c.Small) }

func idOf(c *Category) *int64 {
	if c == nil {
		return nil
	}
	id := c.ID
	return &id
}

// Subscription is a user's standing alert filter (alert_subscriptions).
type Subscription struct {
	ID               int64
	UserID           int64
	Region           string
	LargeCategoryID  *int64
	MidCategoryID    *int64
	SmallCategoryIDs []int64
	MinPrice         *int64
	MaxPrice         *int64
	MinFailures      *int
	NotifyEmail      bool
	NotifyTelegram   bool
	Frequency        string
	IsActive         bool
}

// Channels returns the channels enabled on the subscription, email first.
func (s *Subscription) Channels() []Channel {
	var out []Channel
	if s.NotifyEmail {
		out = append(out, ChannelEmail)
	}
	if s.NotifyTelegram {
		out = append(out, ChannelTelegram)
	}
	return out
}

// NotificationLog is one (subscription, listing, channel) delivery record.
type NotificationLog struct {
	ID             int64
	UserID         int64
	SubscriptionID *int64
	ListingID      int64
	Channel        Channel
	Status         NotificationStatus
	MessageTitle   string
	MessageBody    string
	ErrorMessage   string
	Attempts       int
	SentAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CrawlJob is one audited ingestion or refresh run.
type CrawlJob struct {
	ID           int64
	Kind         JobKind
	Source       Source
	Status       JobStatus
	TriggeredBy  *int64
	StartedAt    *time.Time
	FinishedAt   *time.Time
	TotalFetched int
	CreatedCount int
	UpdatedCount int
	FailedCount  int
	ErrorMessage string
	Note         string
	CreatedAt    time.Time
}

// JobKind separates ingestion runs from status refresh runs.
type JobKind string

const (
	KindCrawl   JobKind = "crawl"
	KindRefresh JobKind = "refresh"
)

// CrawlItemLog is one processed listing within a CrawlJob.
type CrawlItemLog struct {
	ID         int64
	JobID      int64
	ListingID  *int64
	ExternalID string
	Result     ItemResult
	Message    string
	CreatedAt  time.Time
}

// Bounded lengths for persisted free text.
const (
	MaxJobErrorLen          = 1000
	MaxItemMessageLen       = 1000
	MaxNotificationErrorLen = 500
	MaxJobNoteLen           = 200
)

// Column widths of the listing text fields.
const (
	MaxTitleLen     = 255
	MaxLocationLen  = 255
	MaxRawStatusLen = 100
	MaxRawBidLen    = 100
	MaxDetailURLLen = 500
)

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
