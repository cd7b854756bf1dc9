package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/korean"

	"aucradar/ingest-service/internal/model"
)

const courtDetailPath = "/RetrieveRealEstDetailInqSaList.laf"

// CourtDetailURL builds the legacy case detail link. The court name is
// percent-encoded as EUC-KR, falling back to UTF-8 when it has characters
// EUC-KR cannot represent. Case numbers without "타경" have no detail page.
func CourtDetailURL(baseURL, courtName, caseNo string) *string {
	if courtName == "" || !strings.Contains(caseNo, "타경") {
		return nil
	}

	encoded, err := korean.EUCKR.NewEncoder().String(courtName)
	if err != nil {
		encoded = courtName
	}
	year, serial, _ := strings.Cut(caseNo, "타경")

	u := strings.TrimRight(baseURL, "/") + courtDetailPath +
		"?jiwonNm=" + url.QueryEscape(encoded) +
		"&saYear=" + url.QueryEscape(year) +
		"&saSer=" + url.QueryEscape(serial) +
		"&_CUR_CMD=InitMulSrch.laf" +
		"&_SRCH_SRNID=PNO102014" +
		"&_NEXT_CMD=RetrieveRealEstDetailInqSaList.laf"
	return &u
}

// LookupStatus re-reads the case detail page and extracts the progress
// label and failure count from its summary table.
func (a *CourtAdapter) LookupStatus(ctx context.Context, l *model.Listing) (StatusUpdate, error) {
	if l.DetailURL == nil || *l.DetailURL == "" {
		return StatusUpdate{}, ErrStatusUnavailable
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return StatusUpdate{}, err
	}

	sess := a.newSession(ctx)
	pctx, cancel := context.WithTimeout(ctx, a.opts.PageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, *l.DetailURL, nil)
	if err != nil {
		return StatusUpdate{}, err
	}
	req.Header.Set("User-Agent", courtUserAgent)

	resp, err := sess.client.Do(req)
	if err != nil {
		return StatusUpdate{}, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StatusUpdate{}, fmt.Errorf("court detail returned %d", resp.StatusCode)
	}

	// Legacy pages are served as EUC-KR.
	body := korean.EUCKR.NewDecoder().Reader(resp.Body)
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); strings.Contains(ct, "utf-8") {
		body = resp.Body
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return StatusUpdate{}, fmt.Errorf("parse detail page: %w", err)
	}

	fields := detailFields(doc)
	progress, ok := fields["진행상태"]
	if !ok {
		progress, ok = fields["물건상태"]
	}
	if !ok {
		return StatusUpdate{}, fmt.Errorf("detail page for %s has no progress field", l.ExternalID)
	}

	progress = model.Truncate(progress, model.MaxRawStatusLen)

	today := model.Today(a.opts.Now(), a.opts.Location)
	upd := StatusUpdate{
		Status:    statusFromText(progress, l.AuctionDate, today),
		RawStatus: &progress,
	}
	if v, ok := fields["유찰횟수"]; ok {
		upd.NumFailures = ParseCount(v)
	}
	return upd, nil
}

// detailFields collects th → td pairs of the detail tables, keyed by the
// header text with whitespace removed.
func detailFields(doc *goquery.Document) map[string]string {
	out := make(map[string]string)
	doc.Find("th").Each(func(_ int, th *goquery.Selection) {
		key := strings.Join(strings.Fields(th.Text()), "")
		if key == "" {
			return
		}
		td := th.NextFiltered("td")
		if td.Length() == 0 {
			return
		}
		if _, seen := out[key]; !seen {
			out[key] = strings.Join(strings.Fields(td.Text()), " ")
		}
	})
	return out
}
