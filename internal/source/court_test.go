package source_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"

	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/source"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newCourtServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pgj/index.on", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "WMONID", Value: "abc"})
	})
	mux.HandleFunc("/pgj/pgjsearch/searchControllerMain.on", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PageInfo struct {
				PageNo int `json:"pageNo"`
			} `json:"dma_pageInfo"`
			Search struct {
				Code string `json:"cortOfcCd"`
			} `json:"dma_srchGdsDtlSrchInfo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Search.Code {
		case "DOWN":
			http.Error(w, "maintenance", http.StatusInternalServerError)
		case "GOOD":
			rows := []map[string]any{{
				"boCd": "GOOD", "docid": fmt.Sprintf("doc%d", req.PageInfo.PageNo),
				"srnSaNo": "2024타경1234", "jiwonNm": "서울중앙지방법원",
				"dspslUsgNm": "아파트", "buldNm": "래미안", "maeGiil": "20250310",
				"mulStatcd": "01", "jinstatCd": "0002100001", "yuchalCnt": 1,
				"gamevalAmt": "500,000,000", "minmaePrice": 400000000,
				"hjguSido": "서울특별시", "hjguSigu": "강남구", "hjguDong": "역삼동", "daepyoLotno": "123-4",
				"minArea": "84.97",
			}}
			if req.PageInfo.PageNo == 1 {
				rows = append(rows, map[string]any{"boCd": "GOOD", "docid": nil})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"dlt_srchResult": rows,
					"dma_pageInfo":   map[string]any{"totalCnt": "41"},
				},
			})
		case "LONG":
			rows := []map[string]any{{
				"boCd": "LONG", "docid": "doc1",
				"srnSaNo": "2024타경77", "jiwonNm": strings.Repeat("가", 100),
				"dspslUsgNm": "토지", "buldNm": strings.Repeat("나", 300),
				"hjguSido": strings.Repeat("다", 300), "jinstatCd": strings.Repeat("9", 150),
				"maeGiil": "20250310", "mulStatcd": "01",
			}}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"dlt_srchResult": rows,
					"dma_pageInfo":   map[string]any{"totalCnt": "1"},
				},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCourtFetch_SkipsFailingCourt(t *testing.T) {
	srv := newCourtServer(t)
	a := source.NewCourtAdapter(source.CourtOptions{
		BaseURL: srv.URL,
		Codes:   []string{"DOWN", "GOOD", "EMPTY"},
		Now:     func() time.Time { return fixedNow },
	})

	var got []model.Candidate
	for c, err := range a.Fetch(context.Background(), source.Window{From: fixedNow, To: fixedNow.AddDate(0, 0, 30)}) {
		if err != nil {
			t.Fatalf("Fetch yielded error: %v", err)
		}
		got = append(got, c)
	}

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2 (one per page of GOOD)", len(got))
	}
	c := got[0]
	if c.ExternalID != "GOOD-doc1" || got[1].ExternalID != "GOOD-doc2" {
		t.Errorf("external ids = %s, %s", c.ExternalID, got[1].ExternalID)
	}
	if c.Title != "아파트 래미안" {
		t.Errorf("Title = %q", c.Title)
	}
	if c.Location != "서울특별시 강남구 역삼동 123-4" {
		t.Errorf("Location = %q", c.Location)
	}
	if c.MinBidPrice == nil || *c.MinBidPrice != 400000000 {
		t.Errorf("MinBidPrice = %v", c.MinBidPrice)
	}
	if c.AppraisalPrice == nil || *c.AppraisalPrice != 500000000 {
		t.Errorf("AppraisalPrice = %v", c.AppraisalPrice)
	}
	if c.Status != model.StatusPlanned {
		t.Errorf("Status = %s, want planned", c.Status)
	}
	if c.NumFailures == nil || *c.NumFailures != 1 {
		t.Errorf("NumFailures = %v, want 1", c.NumFailures)
	}
	if c.BidMethod != model.BidMethodDate || c.RawStatus != "0002100001" {
		t.Errorf("BidMethod/RawStatus = %s/%s", c.BidMethod, c.RawStatus)
	}
	if c.DetailURL == nil || !strings.HasPrefix(*c.DetailURL, srv.URL) {
		t.Errorf("DetailURL = %v", c.DetailURL)
	}
	if c.PropertyType != "아파트" {
		t.Errorf("PropertyType = %q", c.PropertyType)
	}
}

func TestCourtFetch_ClampsOversizedText(t *testing.T) {
	srv := newCourtServer(t)
	a := source.NewCourtAdapter(source.CourtOptions{
		BaseURL: srv.URL,
		Codes:   []string{"LONG"},
		Now:     func() time.Time { return fixedNow },
	})

	var got []model.Candidate
	for c, err := range a.Fetch(context.Background(), source.Window{From: fixedNow, To: fixedNow.AddDate(0, 0, 30)}) {
		if err != nil {
			t.Fatalf("Fetch yielded error: %v", err)
		}
		got = append(got, c)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	c := got[0]
	if n := utf8.RuneCountInString(c.Title); n != model.MaxTitleLen {
		t.Errorf("Title has %d runes, want %d", n, model.MaxTitleLen)
	}
	if !strings.HasPrefix(c.Title, "토지 나나") {
		t.Errorf("Title = %q, want the head kept", c.Title)
	}
	if n := utf8.RuneCountInString(c.Location); n != model.MaxLocationLen {
		t.Errorf("Location has %d runes, want %d", n, model.MaxLocationLen)
	}
	if n := len(c.RawStatus); n != model.MaxRawStatusLen {
		t.Errorf("RawStatus has %d bytes, want %d", n, model.MaxRawStatusLen)
	}
	// 100 hangul court-name runes escape to 600 bytes of EUC-KR percent codes.
	if c.DetailURL != nil {
		t.Errorf("DetailURL of %d bytes kept, want it dropped", len(*c.DetailURL))
	}
}

func TestCourtFetch_CancelledContextIsFatal(t *testing.T) {
	srv := newCourtServer(t)
	a := source.NewCourtAdapter(source.CourtOptions{BaseURL: srv.URL, Codes: []string{"GOOD"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range a.Fetch(ctx, source.Window{From: fixedNow, To: fixedNow}) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil {
		t.Fatal("Fetch with cancelled context should yield an error")
	}
}

func TestMapCourtStatus(t *testing.T) {
	today := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)
	yesterday := today.AddDate(0, 0, -1)

	cases := []struct {
		code string
		date *time.Time
		want model.ListingStatus
	}{
		{"01", &tomorrow, model.StatusPlanned},
		{"01", &today, model.StatusPlanned},
		{"01", &yesterday, model.StatusActive},
		{"01", nil, model.StatusActive},
		{"02", nil, model.StatusSold},
		{"03", nil, model.StatusSold},
		{"04", nil, model.StatusFailed},
		{"05", nil, model.StatusFailed},
		{"", nil, model.StatusUnknown},
		{"99", nil, model.StatusUnknown},
	}
	for _, c := range cases {
		if got := source.MapCourtStatus(c.code, c.date, today); got != c.want {
			t.Errorf("MapCourtStatus(%q, %v) = %s, want %s", c.code, c.date, got, c.want)
		}
	}
}

func TestCourtDetailURL(t *testing.T) {
	u := source.CourtDetailURL("https://www.courtauction.go.kr", "서울중앙지방법원", "2024타경1234")
	if u == nil {
		t.Fatal("CourtDetailURL returned nil for a valid case number")
	}
	parsed, err := url.Parse(*u)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	q := parsed.Query()
	if q.Get("saYear") != "2024" || q.Get("saSer") != "1234" {
		t.Errorf("saYear/saSer = %s/%s", q.Get("saYear"), q.Get("saSer"))
	}
	name, err := korean.EUCKR.NewDecoder().String(q.Get("jiwonNm"))
	if err != nil || name != "서울중앙지방법원" {
		t.Errorf("jiwonNm decodes to %q (err %v), want EUC-KR court name", name, err)
	}
	if strings.Contains(*u, "서울") {
		t.Errorf("URL carries raw UTF-8 text: %s", *u)
	}
}

func TestCourtDetailURL_EscapesQueryDelimiters(t *testing.T) {
	u := source.CourtDetailURL("https://x", "수원 지방법원&지원", "2024타경12=3")
	if u == nil {
		t.Fatal("CourtDetailURL returned nil")
	}
	parsed, err := url.Parse(*u)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	q := parsed.Query()
	name, err := korean.EUCKR.NewDecoder().String(q.Get("jiwonNm"))
	if err != nil || name != "수원 지방법원&지원" {
		t.Errorf("jiwonNm decodes to %q (err %v)", name, err)
	}
	if q.Get("saSer") != "12=3" {
		t.Errorf("saSer = %q, want 12=3", q.Get("saSer"))
	}
	if q.Get("_CUR_CMD") != "InitMulSrch.laf" {
		t.Errorf("fixed parameters lost: %v", q)
	}
}

func TestCourtDetailURL_NoCaseNumber(t *testing.T) {
	if u := source.CourtDetailURL("https://x", "서울중앙지방법원", "2024가단1234"); u != nil {
		t.Errorf("CourtDetailURL without 타경 = %s, want nil", *u)
	}
	if u := source.CourtDetailURL("https://x", "", "2024타경1234"); u != nil {
		t.Errorf("CourtDetailURL without court = %s, want nil", *u)
	}
}

func TestCourtDetailURL_FallsBackToUTF8(t *testing.T) {
	u := source.CourtDetailURL("https://x", "법원😀", "2024타경1")
	if u == nil {
		t.Fatal("CourtDetailURL returned nil")
	}
	parsed, _ := url.Parse(*u)
	if got := parsed.Query().Get("jiwonNm"); got != "법원😀" {
		t.Errorf("jiwonNm = %q, want UTF-8 fallback", got)
	}
}

func TestCourtLookupStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><table>
			<tr><th>사건번호</th><td>2024타경1234</td></tr>
			<tr><th>진행 상태</th><td> 유찰 </td></tr>
			<tr><th>유찰횟수</th><td>2회</td></tr>
		</table></body></html>`)
	}))
	defer srv.Close()

	a := source.NewCourtAdapter(source.CourtOptions{BaseURL: srv.URL, Now: func() time.Time { return fixedNow }})
	detail := srv.URL + "/RetrieveRealEstDetailInqSaList.laf?saYear=2024"
	upd, err := a.LookupStatus(context.Background(), &model.Listing{ExternalID: "B1-1", DetailURL: &detail})
	if err != nil {
		t.Fatalf("LookupStatus: %v", err)
	}
	if upd.Status != model.StatusFailed {
		t.Errorf("Status = %s, want failed", upd.Status)
	}
	if upd.RawStatus == nil || *upd.RawStatus != "유찰" {
		t.Errorf("RawStatus = %v", upd.RawStatus)
	}
	if upd.NumFailures == nil || *upd.NumFailures != 2 {
		t.Errorf("NumFailures = %v, want 2", upd.NumFailures)
	}
}

func TestCourtLookupStatus_WithoutDetailURL(t *testing.T) {
	a := source.NewCourtAdapter(source.CourtOptions{BaseURL: "http://127.0.0.1:1"})
	_, err := a.LookupStatus(context.Background(), &model.Listing{ExternalID: "B1-1"})
	if err != source.ErrStatusUnavailable {
		t.Errorf("err = %v, want ErrStatusUnavailable", err)
	}
}
