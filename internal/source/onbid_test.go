package source_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/source"
)

const onbidItemXML = `<item>
  <CLTR_NO>%d</CLTR_NO><PBCT_NO>77</PBCT_NO>
  <CLTR_NM>서울 마포구 아파트</CLTR_NM>
  <LDNM_ADRS>서울특별시 마포구 공덕동 1</LDNM_ADRS>
  <CTGR_FULL_NM>주거용건물 / 아파트</CTGR_FULL_NM>
  <GOODS_NM>건물 59.8㎡</GOODS_NM>
  <MIN_BID_PRC>350000000</MIN_BID_PRC>
  <APZ_AMT>500000000</APZ_AMT>
  <PBCT_BEGN_DTM>202503101000</PBCT_BEGN_DTM>
  <BID_MTD_NM>일반경쟁(최고가방식)</BID_MTD_NM>
  <PBCT_CLTR_STAT_NM>인터넷입찰진행중</PBCT_CLTR_STAT_NM>
  <USCBD_CNT>3</USCBD_CNT>
</item>`

func onbidPage(total int, ids ...int) string {
	var items strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&items, onbidItemXML, id)
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<response><header><resultCode>00</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header>
<body><items>%s</items><totalCount>%d</totalCount></body></response>`, items.String(), total)
}

func TestOnbidFetch_PaginatesAndNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ServiceKey") != "secret" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("pageNo") {
		case "1":
			fmt.Fprint(w, onbidPage(3, 1, 2))
		case "2":
			fmt.Fprint(w, onbidPage(3, 3))
		default:
			t.Errorf("unexpected page %s", r.URL.Query().Get("pageNo"))
		}
	}))
	defer srv.Close()

	a := source.NewOnbidAdapter(source.OnbidOptions{BaseURL: srv.URL, APIKey: "secret", PageSize: 2})
	var got []model.Candidate
	for c, err := range a.Fetch(context.Background(), source.Window{From: fixedNow, To: fixedNow}) {
		if err != nil {
			t.Fatalf("Fetch yielded error: %v", err)
		}
		got = append(got, c)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	c := got[0]
	if c.ExternalID != "onbid-1-77" {
		t.Errorf("ExternalID = %q", c.ExternalID)
	}
	if c.AuctionDate == nil || c.AuctionDate.Format("20060102") != "20250310" {
		t.Errorf("AuctionDate = %v, want 2025-03-10", c.AuctionDate)
	}
	if c.BidMethod != model.BidMethodPeriod {
		t.Errorf("BidMethod = %s, want period", c.BidMethod)
	}
	if c.NumFailures == nil || *c.NumFailures != 3 {
		t.Errorf("NumFailures = %v, want 3", c.NumFailures)
	}
	if c.Area == nil || *c.Area != 59.8 {
		t.Errorf("Area = %v, want 59.8", c.Area)
	}
	if c.PropertyType != "주거용건물 / 아파트" {
		t.Errorf("PropertyType = %q", c.PropertyType)
	}
}

func TestOnbidFetch_ClampsOversizedText(t *testing.T) {
	item := fmt.Sprintf(`<item><CLTR_NO>5</CLTR_NO><PBCT_NO>1</PBCT_NO>
  <CLTR_NM>%s</CLTR_NM><LDNM_ADRS>%s</LDNM_ADRS>
  <BID_MTD_NM>%s</BID_MTD_NM><PBCT_CLTR_STAT_NM>%s</PBCT_CLTR_STAT_NM>
  <PBCT_BEGN_DTM>202503101000</PBCT_BEGN_DTM></item>`,
		strings.Repeat("가", 400), strings.Repeat("나", 400), strings.Repeat("다", 120), strings.Repeat("라", 120))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<response><header><resultCode>00</resultCode><resultMsg>OK</resultMsg></header>
<body><items>%s</items><totalCount>1</totalCount></body></response>`, item)
	}))
	defer srv.Close()

	a := source.NewOnbidAdapter(source.OnbidOptions{BaseURL: srv.URL, APIKey: "k"})
	var got []model.Candidate
	for c, err := range a.Fetch(context.Background(), source.Window{From: fixedNow, To: fixedNow}) {
		if err != nil {
			t.Fatalf("Fetch yielded error: %v", err)
		}
		got = append(got, c)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	c := got[0]
	limits := []struct {
		field string
		value string
		max   int
	}{
		{"Title", c.Title, model.MaxTitleLen},
		{"Location", c.Location, model.MaxLocationLen},
		{"RawBidMethod", c.RawBidMethod, model.MaxRawBidLen},
		{"RawStatus", c.RawStatus, model.MaxRawStatusLen},
	}
	for _, l := range limits {
		if n := utf8.RuneCountInString(l.value); n != l.max {
			t.Errorf("%s has %d runes, want %d", l.field, n, l.max)
		}
	}
}

func TestOnbidFetch_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, onbidPage(1, 9))
	}))
	defer srv.Close()

	a := source.NewOnbidAdapter(source.OnbidOptions{BaseURL: srv.URL, APIKey: "k", Retries: 3})
	n := 0
	for _, err := range a.Fetch(context.Background(), source.Window{From: fixedNow, To: fixedNow}) {
		if err != nil {
			t.Fatalf("Fetch yielded error: %v", err)
		}
		n++
	}
	if n != 1 || calls.Load() != 3 {
		t.Errorf("candidates = %d, calls = %d; want 1 and 3", n, calls.Load())
	}
}

func TestOnbidFetch_ExhaustedRetriesEndFetchWithoutError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("pageNo") == "1" {
			fmt.Fprint(w, onbidPage(4, 1, 2))
			return
		}
		fmt.Fprint(w, `<response><header><resultCode>99</resultCode><resultMsg>LIMITED</resultMsg></header></response>`)
	}))
	defer srv.Close()

	a := source.NewOnbidAdapter(source.OnbidOptions{BaseURL: srv.URL, APIKey: "k", Retries: 2, PageSize: 2})
	n := 0
	for _, err := range a.Fetch(context.Background(), source.Window{From: fixedNow, To: fixedNow}) {
		if err != nil {
			t.Fatalf("exhausted retries must not be fatal, got %v", err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("candidates = %d, want the 2 from page 1", n)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 1 + 2 attempts", calls.Load())
	}
}

func TestOnbidFetch_MissingAPIKeyIsFatal(t *testing.T) {
	a := source.NewOnbidAdapter(source.OnbidOptions{BaseURL: "http://127.0.0.1:1"})
	for _, err := range a.Fetch(context.Background(), source.Window{}) {
		if !errors.Is(err, source.ErrMissingAPIKey) {
			t.Fatalf("err = %v, want ErrMissingAPIKey", err)
		}
		return
	}
	t.Fatal("Fetch without API key yielded nothing")
}

func TestOnbidLookupStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("CLTR_NO") != "5" {
			t.Errorf("CLTR_NO = %q", r.URL.Query().Get("CLTR_NO"))
		}
		body := onbidPage(1, 5)
		body = strings.Replace(body, "인터넷입찰진행중", "유찰", 1)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	a := source.NewOnbidAdapter(source.OnbidOptions{BaseURL: srv.URL, APIKey: "k"})
	upd, err := a.LookupStatus(context.Background(), &model.Listing{ExternalID: source.OnbidExternalID("5", "77")})
	if err != nil {
		t.Fatalf("LookupStatus: %v", err)
	}
	if upd.Status != model.StatusFailed || upd.RawStatus == nil || *upd.RawStatus != "유찰" {
		t.Errorf("update = %+v", upd)
	}

	if _, err := a.LookupStatus(context.Background(), &model.Listing{ExternalID: "B000210-1"}); !errors.Is(err, source.ErrStatusUnavailable) {
		t.Errorf("foreign external id err = %v, want ErrStatusUnavailable", err)
	}
}
