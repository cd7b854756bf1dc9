package enrich_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aucradar/ingest-service/internal/enrich"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store/memstore"
)

func seed(t *testing.T, st *memstore.Store) *model.Listing {
	t.Helper()
	price := int64(120_000_000)
	l := &model.Listing{Source: model.SourceCourt, ExternalID: "B000210-1", Location: "서울 강남구", MinBidPrice: &price}
	if _, err := st.UpsertListing(context.Background(), l); err != nil {
		t.Fatalf("UpsertListing: %v", err)
	}
	return l
}

func TestPriceClient_StoresPositivePrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			http.Error(w, "bad route", http.StatusNotFound)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["external_id"] != "B000210-1" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"predicted_price": 98000000}`))
	}))
	defer srv.Close()

	st := memstore.New()
	l := seed(t, st)
	e := enrich.NewEnricher(enrich.NewPriceClient(srv.URL, time.Second), nil)
	e.Apply(context.Background(), st, l)

	got, _ := st.GetListing(context.Background(), l.ID)
	if got.PredictedPrice == nil || *got.PredictedPrice != 98_000_000 {
		t.Errorf("PredictedPrice = %v, want 98000000", got.PredictedPrice)
	}
}

func TestPriceClient_ServerErrorLeavesListingUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	st := memstore.New()
	l := seed(t, st)
	enrich.NewEnricher(enrich.NewPriceClient(srv.URL, time.Second), nil).Apply(context.Background(), st, l)

	got, _ := st.GetListing(context.Background(), l.ID)
	if got.PredictedPrice != nil {
		t.Errorf("PredictedPrice = %d, want nil", *got.PredictedPrice)
	}
}

type fixedPredictor struct {
	price int64
	err   error
}

func (p fixedPredictor) Predict(context.Context, *model.Listing) (int64, error) { return p.price, p.err }

func TestEnricher_IgnoresNonPositiveAndErrors(t *testing.T) {
	for _, p := range []fixedPredictor{{price: 0}, {price: -5}, {err: errors.New("boom")}} {
		st := memstore.New()
		l := seed(t, st)
		enrich.NewEnricher(p, nil).Apply(context.Background(), st, l)
		if got, _ := st.GetListing(context.Background(), l.ID); got.PredictedPrice != nil {
			t.Errorf("predictor %+v stored %d", p, *got.PredictedPrice)
		}
	}
}

func TestNewPriceClient_EmptyURL(t *testing.T) {
	if enrich.NewPriceClient("", time.Second) != nil {
		t.Error("NewPriceClient(\"\") should return nil")
	}
	// A nil Enricher is safe to call.
	var e *enrich.Enricher
	e.Apply(context.Background(), memstore.New(), &model.Listing{})
}
