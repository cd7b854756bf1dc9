package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aucradar/ingest-service/internal/metrics"
	"aucradar/ingest-service/internal/model"
)

// OnbidOptions configures an OnbidAdapter.
type OnbidOptions struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Retries  int
	PageSize int
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// OnbidAdapter reads public-asset auctions from the onbid XML list API.
type OnbidAdapter struct {
	opts   OnbidOptions
	client *http.Client
	retry  RetryConfig
	log    *slog.Logger
}

// NewOnbidAdapter fills defaults and returns the adapter. A missing API key
// is reported by Fetch, not here, so the job records it.
func NewOnbidAdapter(opts OnbidOptions) *OnbidAdapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "source.onbid")
	return &OnbidAdapter{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		retry:  RetryConfig{MaxAttempts: opts.Retries, Logger: logger},
		log:    logger,
	}
}

func (a *OnbidAdapter) Source() model.Source { return model.SourceOnbid }

type onbidResponse struct {
	Header struct {
		ResultCode string `xml:"resultCode"`
		ResultMsg  string `xml:"resultMsg"`
	} `xml:"header"`
	Body struct {
		Items      []onbidItem `xml:"items>item"`
		TotalCount string      `xml:"totalCount"`
	} `xml:"body"`
}

type onbidItem struct {
	CltrNo       string `xml:"CLTR_NO"`
	PbctNo       string `xml:"PBCT_NO"`
	Name         string `xml:"CLTR_NM"`
	LotAddress   string `xml:"LDNM_ADRS"`
	RoadAddress  string `xml:"NMRD_ADRS"`
	Category     string `xml:"CTGR_FULL_NM"`
	GoodsName    string `xml:"GOODS_NM"`
	MinBidPrice  string `xml:"MIN_BID_PRC"`
	Appraisal    string `xml:"APZ_AMT"`
	BeginAt      string `xml:"PBCT_BEGN_DTM"`
	BidMethod    string `xml:"BID_MTD_NM"`
	StatusName   string `xml:"PBCT_CLTR_STAT_NM"`
	FailureCount string `xml:"USCBD_CNT"`
}

// Fetch pages through the list API. Each page is retried a fixed number of
// times; when retries are exhausted the rest of the onbid fetch is dropped
// and the job continues with what was already yielded.
func (a *OnbidAdapter) Fetch(ctx context.Context, w Window) iter.Seq2[model.Candidate, error] {
	return func(yield func(model.Candidate, error) bool) {
		if a.opts.APIKey == "" {
			yield(model.Candidate{}, ErrMissingAPIKey)
			return
		}
		today := model.Today(a.opts.Now(), a.opts.Location)

		params := url.Values{}
		params.Set("PBCT_BEGN_DTM", w.From.Format("20060102"))
		params.Set("PBCT_CLS_DTM", w.To.Format("20060102"))

		for page := 1; ; page++ {
			var resp *onbidResponse
			err := a.retry.Do(ctx, fmt.Sprintf("onbid page %d", page), func(ctx context.Context) error {
				var err error
				resp, err = a.query(ctx, params, page, a.opts.PageSize)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					yield(model.Candidate{}, fmt.Errorf("onbid fetch interrupted: %w", ctx.Err()))
					return
				}
				metrics.PartitionFailures.WithLabelValues(string(model.SourceOnbid)).Inc()
				a.log.Warn("onbid page failed after retries, abandoning onbid fetch", "page", page, "err", err)
				return
			}

			items := resp.Body.Items
			if len(items) == 0 {
				return
			}
			for _, it := range items {
				c, ok := normalizeOnbid(it, today)
				if !ok {
					continue
				}
				if !yield(c, nil) {
					return
				}
			}

			total, _ := strconv.Atoi(strings.TrimSpace(resp.Body.TotalCount))
			if page*a.opts.PageSize >= total {
				return
			}
		}
	}
}

func (a *OnbidAdapter) query(ctx context.Context, extra url.Values, page, rows int) (*onbidResponse, error) {
	params := url.Values{}
	for k, v := range extra {
		params[k] = v
	}
	params.Set("ServiceKey", a.opts.APIKey)
	params.Set("pageNo", strconv.Itoa(page))
	params.Set("numOfRows", strconv.Itoa(rows))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("onbid returned %d", resp.StatusCode)
	}

	var out onbidResponse
	if err := xml.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("xml unmarshal: %w", err)
	}
	if code := strings.TrimSpace(out.Header.ResultCode); code != "" && code != "00" {
		return nil, fmt.Errorf("onbid result %s: %s", code, out.Header.ResultMsg)
	}
	return &out, nil
}

func normalizeOnbid(it onbidItem, today time.Time) (model.Candidate, bool) {
	cltrNo, pbctNo := strings.TrimSpace(it.CltrNo), strings.TrimSpace(it.PbctNo)
	if cltrNo == "" || pbctNo == "" {
		return model.Candidate{}, false
	}

	begin := strings.TrimSpace(it.BeginAt)
	if len(begin) > 8 {
		begin = begin[:8]
	}
	auctionDate := ParseDate(begin)
	status := strings.TrimSpace(it.StatusName)

	return clampText(model.Candidate{
		Source:         model.SourceOnbid,
		RawSource:      "onbid_xml",
		ExternalID:     OnbidExternalID(cltrNo, pbctNo),
		Title:          firstNonEmpty(it.Name, "온비드공매"),
		Location:       firstNonEmpty(it.LotAddress, it.RoadAddress),
		Area:           ParseArea(it.GoodsName),
		MinBidPrice:    ParseInt(it.MinBidPrice),
		AppraisalPrice: ParseInt(it.Appraisal),
		AuctionDate:    auctionDate,
		BidMethod:      model.BidMethodPeriod,
		RawBidMethod:   strings.TrimSpace(it.BidMethod),
		Status:         statusFromText(status, auctionDate, today),
		RawStatus:      status,
		NumFailures:    ParseCount(it.FailureCount),
		PropertyType:   strings.TrimSpace(it.Category),
	}), true
}

// OnbidExternalID is the idempotence key of an onbid round.
func OnbidExternalID(cltrNo, pbctNo string) string {
	return "onbid-" + cltrNo + "-" + pbctNo
}

// LookupStatus re-queries the list API for the listing's item number and
// picks the row of the same round.
func (a *OnbidAdapter) LookupStatus(ctx context.Context, l *model.Listing) (StatusUpdate, error) {
	if a.opts.APIKey == "" {
		return StatusUpdate{}, ErrMissingAPIKey
	}
	rest, ok := strings.CutPrefix(l.ExternalID, "onbid-")
	if !ok {
		return StatusUpdate{}, ErrStatusUnavailable
	}
	cltrNo, pbctNo, ok := strings.Cut(rest, "-")
	if !ok {
		return StatusUpdate{}, ErrStatusUnavailable
	}

	params := url.Values{}
	params.Set("CLTR_NO", cltrNo)

	var resp *onbidResponse
	err := a.retry.Do(ctx, "onbid status "+l.ExternalID, func(ctx context.Context) error {
		var err error
		resp, err = a.query(ctx, params, 1, a.opts.PageSize)
		return err
	})
	if err != nil {
		return StatusUpdate{}, err
	}

	today := model.Today(a.opts.Now(), a.opts.Location)
	for _, it := range resp.Body.Items {
		if strings.TrimSpace(it.CltrNo) != cltrNo || strings.TrimSpace(it.PbctNo) != pbctNo {
			continue
		}
		c, _ := normalizeOnbid(it, today)
		raw := c.RawStatus
		return StatusUpdate{Status: c.Status, RawStatus: &raw, NumFailures: c.NumFailures}, nil
	}
	return StatusUpdate{}, fmt.Errorf("onbid round %s not found upstream", l.ExternalID)
}
