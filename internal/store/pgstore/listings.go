package pgstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store"
)

const listingColumns = `id, source, raw_source, external_id, title, location, area,
	min_bid_price, appraisal_price, deposit_price, auction_date, bid_method, raw_bid_method,
	status, raw_status, num_failures, large_id, middle_id, small_id, detail_url,
	ai_predicted_price, created_at, updated_at`

func scanListing(row pgx.Row, l *model.Listing) error {
	return row.Scan(
		&l.ID, &l.Source, &l.RawSource, &l.ExternalID, &l.Title, &l.Location, &l.Area,
		&l.MinBidPrice, &l.AppraisalPrice, &l.DepositPrice, &l.AuctionDate, &l.BidMethod, &l.RawBidMethod,
		&l.Status, &l.RawStatus, &l.NumFailures, &l.LargeID, &l.MiddleID, &l.SmallID, &l.DetailURL,
		&l.PredictedPrice, &l.CreatedAt, &l.UpdatedAt,
	)
}

func collectListings(rows pgx.Rows) ([]model.Listing, error) {
	defer rows.Close()

	listings := make([]model.Listing, 0)
	for rows.Next() {
		var l model.Listing
		if err := scanListing(rows, &l); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (r *repo) GetListingByExternalID(ctx context.Context, externalID string) (*model.Listing, error) {
	var l model.Listing
	err := scanListing(r.q.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM auction_items WHERE external_id = $1`, externalID), &l)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (r *repo) GetListing(ctx context.Context, id int64) (*model.Listing, error) {
	var l model.Listing
	err := scanListing(r.q.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM auction_items WHERE id = $1`, id), &l)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// UpsertListing relies on the external_id unique constraint: concurrent jobs
// sighting the same record resolve to last-write-wins. xmax = 0 identifies a
// freshly inserted tuple.
func (r *repo) UpsertListing(ctx context.Context, l *model.Listing) (bool, error) {
	var created bool
	err := r.q.QueryRow(ctx,
		`INSERT INTO auction_items (
		   source, raw_source, external_id, title, location, area,
		   min_bid_price, appraisal_price, deposit_price, auction_date, bid_method, raw_bid_method,
		   status, raw_status, num_failures, large_id, middle_id, small_id, detail_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (external_id) DO UPDATE SET
		   source = EXCLUDED.source, raw_source = EXCLUDED.raw_source, title = EXCLUDED.title,
		   location = EXCLUDED.location, area = EXCLUDED.area, min_bid_price = EXCLUDED.min_bid_price,
		   appraisal_price = EXCLUDED.appraisal_price, deposit_price = EXCLUDED.deposit_price,
		   auction_date = EXCLUDED.auction_date, bid_method = EXCLUDED.bid_method,
		   raw_bid_method = EXCLUDED.raw_bid_method, status = EXCLUDED.status,
		   raw_status = EXCLUDED.raw_status, num_failures = EXCLUDED.num_failures,
		   large_id = EXCLUDED.large_id, middle_id = EXCLUDED.middle_id, small_id = EXCLUDED.small_id,
		   detail_url = EXCLUDED.detail_url, updated_at = NOW()
		 RETURNING id, ai_predicted_price, created_at, updated_at, (xmax = 0)`,
		l.Source, l.RawSource, l.ExternalID, l.Title, l.Location, l.Area,
		l.MinBidPrice, l.AppraisalPrice, l.DepositPrice, l.AuctionDate, l.BidMethod, l.RawBidMethod,
		l.Status, l.RawStatus, l.NumFailures, l.LargeID, l.MiddleID, l.SmallID, l.DetailURL,
	).Scan(&l.ID, &l.PredictedPrice, &l.CreatedAt, &l.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("upsert listing %s: %w", l.ExternalID, err)
	}
	return created, nil
}

func (r *repo) UpdateListing(ctx context.Context, l *model.Listing) error {
	err := r.q.QueryRow(ctx,
		`UPDATE auction_items SET
		   title = $2, location = $3, area = $4, min_bid_price = $5, appraisal_price = $6,
		   deposit_price = $7, auction_date = $8, bid_method = $9, raw_bid_method = $10,
		   status = $11, raw_status = $12, num_failures = $13, large_id = $14, middle_id = $15,
		   small_id = $16, detail_url = $17, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		l.ID, l.Title, l.Location, l.Area, l.MinBidPrice, l.AppraisalPrice,
		l.DepositPrice, l.AuctionDate, l.BidMethod, l.RawBidMethod,
		l.Status, l.RawStatus, l.NumFailures, l.LargeID, l.MiddleID,
		l.SmallID, l.DetailURL,
	).Scan(&l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update listing %d: %w", l.ID, notFound(err))
	}
	return nil
}

func (r *repo) SetPredictedPrice(ctx context.Context, listingID int64, price int64) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE auction_items SET ai_predicted_price = $1, updated_at = NOW() WHERE id = $2`,
		price, listingID)
	if err != nil {
		return fmt.Errorf("set predicted price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *repo) ListRefreshCandidates(ctx context.Context, f store.RefreshFilter) ([]model.Listing, error) {
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}

	query := `SELECT ` + listingColumns + ` FROM auction_items
		WHERE status = ANY($1) AND auction_date >= $2 AND auction_date <= $3`
	args := []any{statuses, f.From, f.To}
	if f.Source != nil {
		query += ` AND source = $4`
		args = append(args, *f.Source)
	}
	query += ` ORDER BY auction_date, id`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listRefreshCandidates query: %w", err)
	}
	return collectListings(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListMatchCandidates narrows the listing table with every criterion the
// subscription sets; unset criteria add no condition.
func (r *repo) ListMatchCandidates(ctx context.Context, f store.MatchFilter) ([]model.Listing, error) {
	where, args := matchWhere(f)
	rows, err := r.q.Query(ctx,
		`SELECT `+listingColumns+` FROM auction_items WHERE `+where+
			` ORDER BY auction_date NULLS LAST, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listMatchCandidates query: %w", err)
	}
	return collectListings(rows)
}

// matchWhere renders the filter as a WHERE clause over positional args.
// Listings without an auction date always pass the date condition.
func matchWhere(f store.MatchFilter) (string, []any) {
	conds := []string{"(auction_date IS NULL OR auction_date >= $1)"}
	args := []any{f.Today}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Region != "" {
		conds = append(conds, "location ILIKE '%' || "+arg(likeEscaper.Replace(f.Region))+" || '%'")
	}
	if f.LargeCategoryID != nil {
		conds = append(conds, "large_id = "+arg(*f.LargeCategoryID))
	}
	if f.MidCategoryID != nil {
		conds = append(conds, "middle_id = "+arg(*f.MidCategoryID))
	}
	if len(f.SmallCategoryIDs) > 0 {
		conds = append(conds, "small_id = ANY("+arg(f.SmallCategoryIDs)+")")
	}
	if f.MinPrice != nil {
		conds = append(conds, "min_bid_price >= "+arg(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		conds = append(conds, "min_bid_price <= "+arg(*f.MaxPrice))
	}
	if f.MinFailures != nil && *f.MinFailures > 0 {
		conds = append(conds, "num_failures >= "+arg(*f.MinFailures))
	}
	return strings.Join(conds, " AND "), args
}

func (r *repo) GetOrCreateCategory(ctx context.Context, level model.CategoryLevel, parentID int64, code, name string) (*model.Category, error) {
	var (
		query string
		args  []any
	)
	// DO UPDATE (rather than DO NOTHING) makes RETURNING yield the existing
	// row too, so the call is atomic under concurrent resolvers.
	switch level {
	case model.LevelLarge:
		query = `INSERT INTO categories_large (code, name) VALUES ($1, $2)
			ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
			RETURNING id, 0::bigint, code, name`
		args = []any{code, name}
	case model.LevelMiddle:
		query = `INSERT INTO categories_middle (large_id, code, name) VALUES ($1, $2, $3)
			ON CONFLICT (large_id, code) DO UPDATE SET code = EXCLUDED.code
			RETURNING id, large_id, code, name`
		args = []any{parentID, code, name}
	case model.LevelSmall:
		query = `INSERT INTO categories_small (middle_id, code, name) VALUES ($1, $2, $3)
			ON CONFLICT (middle_id, code) DO UPDATE SET code = EXCLUDED.code
			RETURNING id, middle_id, code, name`
		args = []any{parentID, code, name}
	default:
		return nil, fmt.Errorf("unknown category level %d", level)
	}

	var c model.Category
	if err := r.q.QueryRow(ctx, query, args...).Scan(&c.ID, &c.ParentID, &c.Code, &c.Name); err != nil {
		return nil, fmt.Errorf("getOrCreateCategory %s: %w", code, err)
	}
	return &c, nil
}
