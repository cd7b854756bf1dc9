package pgstore

import (
	"reflect"
	"testing"
	"time"

	"aucradar/ingest-service/internal/store"
)

func int64p(v int64) *int64 { return &v }
func intp(v int) *int { return &v }

// ── Match prefilter ────────────────────────────────────────────────────────

func TestMatchWhere(t *testing.T) {
	today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		f         store.MatchFilter
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "date only",
			f:         store.MatchFilter{Today: today},
			wantWhere: "(auction_date IS NULL OR auction_date >= $1)",
			wantArgs:  []any{today},
		},
		{
			name: "every criterion",
			f: store.MatchFilter{
				Today:            today,
				Region:           "서울",
				LargeCategoryID:  int64p(1),
				MidCategoryID:    int64p(2),
				SmallCategoryIDs: []int64{3, 4},
				MinPrice:         int64p(100),
				MaxPrice:         int64p(900),
				MinFailures:      intp(2),
			},
			wantWhere: "(auction_date IS NULL OR auction_date >= $1)" +
				" AND location ILIKE '%' || $2 || '%'" +
				" AND large_id = $3" +
				" AND middle_id = $4" +
				" AND small_id = ANY($5)" +
				" AND min_bid_price >= $6" +
				" AND min_bid_price <= $7" +
				" AND num_failures >= $8",
			wantArgs: []any{today, "서울", int64(1), int64(2), []int64{3, 4}, int64(100), int64(900), 2},
		},
		{
			name:      "placeholders stay dense when criteria are skipped",
			f:         store.MatchFilter{Today: today, MaxPrice: int64p(500), MinFailures: intp(1)},
			wantWhere: "(auction_date IS NULL OR auction_date >= $1) AND min_bid_price <= $2 AND num_failures >= $3",
			wantArgs:  []any{today, int64(500), 1},
		},
		{
			name:      "zero minimum failures adds nothing",
			f:         store.MatchFilter{Today: today, MinFailures: intp(0), SmallCategoryIDs: []int64{}},
			wantWhere: "(auction_date IS NULL OR auction_date >= $1)",
			wantArgs:  []any{today},
		},
		{
			name:      "region wildcards are escaped",
			f:         store.MatchFilter{Today: today, Region: `100%_강남\역`},
			wantWhere: "(auction_date IS NULL OR auction_date >= $1) AND location ILIKE '%' || $2 || '%'",
			wantArgs:  []any{today, `100\%\_강남\\역`},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			where, args := matchWhere(c.f)
			if where != c.wantWhere {
				t.Errorf("where =\n  %s\nwant\n  %s", where, c.wantWhere)
			}
			if !reflect.DeepEqual(args, c.wantArgs) {
				t.Errorf("args = %#v, want %#v", args, c.wantArgs)
			}
		})
	}
}
