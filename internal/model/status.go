package model

import "fmt"

// ListingStatus values mirror the auction_items.status column.
//
//	PLANNED ──► ACTIVE ──► SOLD
//	   │           │
//	   └───────────┴──► FAILED ──► ACTIVE (re-listed after a failed round)
//
// SOLD is terminal: the status refresh engine never re-checks it.
type ListingStatus string

const (
	StatusPlanned ListingStatus = "planned"
	StatusActive  ListingStatus = "active"
	StatusSold    ListingStatus = "sold"
	StatusFailed  ListingStatus = "failed"
	StatusUnknown ListingStatus = "unknown"
)

// ParseListingStatus converts a raw string to a ListingStatus.
func ParseListingStatus(s string) (ListingStatus, error) {
	st := ListingStatus(s)
	switch st {
	case StatusPlanned, StatusActive, StatusSold, StatusFailed, StatusUnknown:
		return st, nil
	}
	return "", fmt.Errorf("unknown listing status %q", s)
}

// UnresolvedStatuses are the statuses the refresh engine re-queries.
var UnresolvedStatuses = []ListingStatus{StatusPlanned, StatusActive, StatusFailed}

// IsTerminal reports whether the status can no longer change upstream.
func (s ListingStatus) IsTerminal() bool { return s == StatusSold }

// JobStatus mirrors crawl_jobs.status.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// jobTransitions lists every allowed (from → to) pair of a crawl job.
var jobTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobRunning, JobFailed},
	JobRunning: {JobSuccess, JobFailed},
}

// CanTransition reports whether a job may move from → to.
func CanTransition(from, to JobStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsFinished is true for SUCCESS and FAILED.
func (s JobStatus) IsFinished() bool { return s == JobSuccess || s == JobFailed }

// ItemResult mirrors crawl_item_logs.result.
type ItemResult string

const (
	ResultCreated ItemResult = "created"
	ResultUpdated ItemResult = "updated"
	ResultSkipped ItemResult = "skipped"
	ResultFailed  ItemResult = "failed"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

// NotificationStatus mirrors notification_logs.status.
type NotificationStatus string

const (
	NotifyPending NotificationStatus = "pending"
	NotifySuccess NotificationStatus = "success"
	NotifyFailed  NotificationStatus = "failed"
)
