// Package alert evaluates subscription predicates against listings in both
// directions: one new listing against every active subscription (ingestion
// fan-out), and one subscription against the listing collection (batches).
package alert

import (
	"slices"
	"strings"
	"time"

	"aucradar/ingest-service/internal/model"
)

// Matches reports whether l satisfies every criterion set on sub. Unset
// criteria always pass. Listings whose auction date is before today never
// match; listings without a date do.
func Matches(sub *model.Subscription, l *model.Listing, today time.Time) bool {
	if !sub.IsActive {
		return false
	}
	if l.AuctionDate != nil && l.AuctionDate.Before(today) {
		return false
	}

	if sub.Region != "" {
		if l.Location == "" || !strings.Contains(strings.ToLower(l.Location), strings.ToLower(sub.Region)) {
			return false
		}
	}

	if sub.LargeCategoryID != nil && !sameID(sub.LargeCategoryID, l.LargeID) {
		return false
	}
	if sub.MidCategoryID != nil && !sameID(sub.MidCategoryID, l.MiddleID) {
		return false
	}
	if len(sub.SmallCategoryIDs) > 0 {
		if l.SmallID == nil || !slices.Contains(sub.SmallCategoryIDs, *l.SmallID) {
			return false
		}
	}

	if sub.MinPrice != nil && (l.MinBidPrice == nil || *l.MinBidPrice < *sub.MinPrice) {
		return false
	}
	if sub.MaxPrice != nil && (l.MinBidPrice == nil || *l.MinBidPrice > *sub.MaxPrice) {
		return false
	}

	// A zero threshold is treated as unset.
	if sub.MinFailures != nil && *sub.MinFailures > 0 {
		if l.NumFailures == nil || *l.NumFailures < *sub.MinFailures {
			return false
		}
	}
	return true
}

func sameID(want, got *int64) bool {
	return got != nil && *want == *got
}
