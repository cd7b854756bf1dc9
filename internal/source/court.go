package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"aucradar/ingest-service/internal/metrics"
	"aucradar/ingest-service/internal/model"
)

const (
	courtPageSize   = 40
	courtWarmupPath = "/pgj/index.on?w2xPath=/pgj/ui/pgj100/PGJ151F00.xml"
	courtSearchPath = "/pgj/pgjsearch/searchControllerMain.on"
	courtUserAgent  = "Mozilla/5.0 (compatible; AucRadarBot/1.0)"
)

// DefaultCourtCodes lists every district court office searched by default.
var DefaultCourtCodes = []string{
	"B000210", "B000211", "B000215", "B000212", "B000213", "B000214", "B214807", "B214804",
	"B000240", "B000241", "B000250", "B000251", "B000252", "B000253", "B250826", "B000254",
	"B000260", "B000261", "B000262", "B000263", "B000264", "B000270", "B000271", "B000272",
	"B000273", "B000280", "B000281", "B000282", "B000283", "B000284", "B000285", "B000310",
	"B000311", "B000312", "B000313", "B000314", "B000315", "B000316", "B000317", "B000320",
	"B000410", "B000412", "B000414", "B000411", "B000420", "B000431", "B000421", "B000422",
	"B000423", "B000424", "B000510", "B000511", "B000512", "B000513", "B000514", "B000520",
	"B000521", "B000522", "B000523", "B000530",
}

// CourtOptions configures a CourtAdapter.
type CourtOptions struct {
	BaseURL       string
	Codes         []string
	RatePerSecond float64
	WarmupTimeout time.Duration
	PageTimeout   time.Duration
	Location      *time.Location
	Now           func() time.Time
	Logger        *slog.Logger
}

// CourtAdapter fetches court foreclosure auctions from the court auction
// JSON search endpoint, one court office at a time.
type CourtAdapter struct {
	opts    CourtOptions
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewCourtAdapter fills defaults and returns the adapter.
func NewCourtAdapter(opts CourtOptions) *CourtAdapter {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if len(opts.Codes) == 0 {
		opts.Codes = DefaultCourtCodes
	}
	if opts.WarmupTimeout <= 0 {
		opts.WarmupTimeout = 10 * time.Second
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CourtAdapter{
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.With("component", "source.court"),
	}
}

func (a *CourtAdapter) Source() model.Source { return model.SourceCourt }

// flexString accepts JSON strings, numbers and null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) String() string { return strings.TrimSpace(string(f)) }

type courtResponse struct {
	Data struct {
		Rows     []courtRow `json:"dlt_srchResult"`
		PageInfo struct {
			TotalCnt flexString `json:"totalCnt"`
		} `json:"dma_pageInfo"`
	} `json:"data"`
}

type courtRow struct {
	BoCd        flexString `json:"boCd"`
	DocID       flexString `json:"docid"`
	SrnSaNo     flexString `json:"srnSaNo"`
	JiwonNm     flexString `json:"jiwonNm"`
	UsageName   flexString `json:"dspslUsgNm"`
	BuildingNm  flexString `json:"buldNm"`
	SaleDate    flexString `json:"maeGiil"`
	MulStatcd   flexString `json:"mulStatcd"`
	JinstatCd   flexString `json:"jinstatCd"`
	YuchalCnt   flexString `json:"yuchalCnt"`
	Appraisal   flexString `json:"gamevalAmt"`
	MinBidPrice flexString `json:"minmaePrice"`
	Sido        flexString `json:"hjguSido"`
	Sigu        flexString `json:"hjguSigu"`
	Dong        flexString `json:"hjguDong"`
	LotNo       flexString `json:"daepyoLotno"`
	MinArea     flexString `json:"minArea"`
}

// courtSession is the per-fetch HTTP client carrying the warm-up cookies.
type courtSession struct {
	client *http.Client
}

// newSession opens a cookie session and primes it with the search page.
// A failed warm-up is ignored: the search endpoint often works without it.
func (a *CourtAdapter) newSession(ctx context.Context) *courtSession {
	jar, _ := cookiejar.New(nil)
	s := &courtSession{client: &http.Client{Jar: jar}}

	wctx, cancel := context.WithTimeout(ctx, a.opts.WarmupTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(wctx, http.MethodGet, a.opts.BaseURL+courtWarmupPath, nil)
	if err != nil {
		return s
	}
	req.Header.Set("User-Agent", courtUserAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		a.log.Debug("court warm-up failed", "err", err)
		return s
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return s
}

// Fetch walks every configured court office and page. A failing office is
// logged and skipped; only context cancellation is yielded as an error.
func (a *CourtAdapter) Fetch(ctx context.Context, w Window) iter.Seq2[model.Candidate, error] {
	return func(yield func(model.Candidate, error) bool) {
		sess := a.newSession(ctx)
		today := model.Today(a.opts.Now(), a.opts.Location)

		for _, code := range a.opts.Codes {
			for page := 1; ; page++ {
				if err := a.limiter.Wait(ctx); err != nil {
					yield(model.Candidate{}, fmt.Errorf("court fetch interrupted: %w", err))
					return
				}
				resp, err := a.fetchPage(ctx, sess, code, w, page)
				if err != nil {
					if ctx.Err() != nil {
						yield(model.Candidate{}, fmt.Errorf("court fetch interrupted: %w", ctx.Err()))
						return
					}
					metrics.PartitionFailures.WithLabelValues(string(model.SourceCourt)).Inc()
					a.log.Warn("court page failed, skipping court", "court", code, "page", page, "err", err)
					break
				}

				rows := resp.Data.Rows
				if len(rows) == 0 {
					break
				}
				for _, row := range rows {
					c, ok := a.normalize(row, today)
					if !ok {
						continue
					}
					if !yield(c, nil) {
						return
					}
				}

				total := 0
				if v := ParseInt(resp.Data.PageInfo.TotalCnt.String()); v != nil {
					total = int(*v)
				}
				if page*courtPageSize >= total {
					break
				}
			}
		}
	}
}

func (a *CourtAdapter) fetchPage(ctx context.Context, sess *courtSession, code string, w Window, page int) (*courtResponse, error) {
	payload := map[string]any{
		"dma_pageInfo": map[string]any{
			"pageNo":          page,
			"pageSize":        courtPageSize,
			"bfPageNo":        "",
			"startRowNo":      "",
			"totalCnt":        "",
			"totalYn":         "Y",
			"groupTotalCount": "",
		},
		"dma_srchGdsDtlSrchInfo": map[string]any{
			"bidDvsCd":            "000331",
			"mvprpRletDvsCd":      "00031R",
			"cortAuctnSrchCondCd": "0004601",
			"cortOfcCd":           code,
			"pgmId":               "PGJ151F01",
			"cortStDvs":           "1",
			"statNum":             1,
			"bidBgngYmd":          w.From.Format("20060102"),
			"bidEndYmd":           w.To.Format("20060102"),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, a.opts.PageTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodPost, a.opts.BaseURL+courtSearchPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", courtUserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := sess.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http POST: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("court search returned %d", resp.StatusCode)
	}

	var out courtResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	return &out, nil
}

// normalize maps one search row to a Candidate. Rows without a court code or
// document id are dropped.
func (a *CourtAdapter) normalize(row courtRow, today time.Time) (model.Candidate, bool) {
	boCd, docID := row.BoCd.String(), row.DocID.String()
	if boCd == "" || docID == "" {
		return model.Candidate{}, false
	}

	caseNo := row.SrnSaNo.String()
	usage := row.UsageName.String()
	title := firstNonEmpty(row.BuildingNm.String(), caseNo, "법원경매")
	if usage != "" {
		title = usage + " " + title
	}
	auctionDate := ParseDate(row.SaleDate.String())

	return clampText(model.Candidate{
		Source:         model.SourceCourt,
		RawSource:      "court_json",
		ExternalID:     boCd + "-" + docID,
		Title:          title,
		Location:       joinNonEmpty(row.Sido.String(), row.Sigu.String(), row.Dong.String(), row.LotNo.String()),
		Area:           ParseArea(row.MinArea.String()),
		MinBidPrice:    ParseInt(row.MinBidPrice.String()),
		AppraisalPrice: ParseInt(row.Appraisal.String()),
		AuctionDate:    auctionDate,
		BidMethod:      model.BidMethodDate,
		Status:         MapCourtStatus(row.MulStatcd.String(), auctionDate, today),
		RawStatus:      row.JinstatCd.String(),
		NumFailures:    ParseCount(row.YuchalCnt.String()),
		DetailURL:      CourtDetailURL(a.opts.BaseURL, row.JiwonNm.String(), caseNo),
		PropertyType:   usage,
	}), true
}

// MapCourtStatus maps the mulStatcd progress code to a listing status.
func MapCourtStatus(code string, auctionDate *time.Time, today time.Time) model.ListingStatus {
	switch strings.TrimSpace(code) {
	case "01":
		return upcoming(auctionDate, today)
	case "02", "03":
		return model.StatusSold
	case "04", "05":
		return model.StatusFailed
	}
	return model.StatusUnknown
}
