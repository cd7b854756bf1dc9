// Package enrich adds optional derived data to freshly created listings.
// Failures here never affect the upsert that triggered them.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"aucradar/ingest-service/internal/metrics"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store"
)

// Predictor estimates the expected winning bid of a listing.
type Predictor interface {
	Predict(ctx context.Context, l *model.Listing) (int64, error)
}

// PriceClient calls the price prediction API: POST <base>/predict.
type PriceClient struct {
	baseURL string
	client  *http.Client
}

// NewPriceClient returns a client, or nil when baseURL is empty so callers
// can skip enrichment entirely.
func NewPriceClient(baseURL string, timeout time.Duration) *PriceClient {
	if baseURL == "" {
		return nil
	}
	return &PriceClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type predictRequest struct {
	ExternalID     string   `json:"external_id"`
	Source         string   `json:"source"`
	Location       string   `json:"location"`
	Area           *float64 `json:"area"`
	AppraisalPrice *int64   `json:"appraisal_price"`
	MinBidPrice    *int64   `json:"min_bid_price"`
	AuctionDate    *string  `json:"auction_date"`
	NumFailures    *int     `json:"num_failures"`
}

type predictResponse struct {
	PredictedPrice int64 `json:"predicted_price"`
}

func (c *PriceClient) Predict(ctx context.Context, l *model.Listing) (int64, error) {
	req := predictRequest{
		ExternalID:     l.ExternalID,
		Source:         string(l.Source),
		Location:       l.Location,
		Area:           l.Area,
		AppraisalPrice: l.AppraisalPrice,
		MinBidPrice:    l.MinBidPrice,
		NumFailures:    l.NumFailures,
	}
	if l.AuctionDate != nil {
		d := l.AuctionDate.Format(time.DateOnly)
		req.AuctionDate = &d
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("json marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("http POST: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price API returned %d: %s", resp.StatusCode, model.Truncate(string(raw), 200))
	}

	var out predictResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("json unmarshal: %w", err)
	}
	return out.PredictedPrice, nil
}

// Enricher stores predicted prices on listings.
type Enricher struct {
	predictor Predictor
	log       *slog.Logger
}

// NewEnricher wraps p. A nil predictor yields an Enricher whose Apply is a no-op.
func NewEnricher(p Predictor, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{predictor: p, log: logger.With("component", "enrich")}
}

// Apply predicts and stores the price for l. Errors and non-positive
// predictions are logged and counted, never returned.
func (e *Enricher) Apply(ctx context.Context, repo store.Repo, l *model.Listing) {
	if e == nil || e.predictor == nil {
		return
	}
	price, err := e.predictor.Predict(ctx, l)
	if err != nil {
		metrics.EnrichmentFailures.Inc()
		e.log.Warn("price prediction failed", "listing_id", l.ID, "err", err)
		return
	}
	if price <= 0 {
		metrics.EnrichmentFailures.Inc()
		e.log.Debug("price prediction returned no price", "listing_id", l.ID)
		return
	}
	if l.PredictedPrice != nil && *l.PredictedPrice == price {
		return
	}
	if err := repo.SetPredictedPrice(ctx, l.ID, price); err != nil {
		metrics.EnrichmentFailures.Inc()
		e.log.Warn("store predicted price failed", "listing_id", l.ID, "err", err)
		return
	}
	l.PredictedPrice = &price
}
