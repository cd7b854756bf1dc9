// Package notify builds alert messages, delivers them per channel and keeps
// the notification log in step with every attempt.
package notify

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"aucradar/ingest-service/internal/model"
)

// Message is one rendered alert.
type Message struct {
	Subject string
	Body    string
}

const (
	subjectBase = "[AucRadar] 신규 매물 알림"
	footer      = "\nAucRadar 알림 설정에서 조건을 변경하거나 해제할 수 있습니다."
	noLink      = "상세 링크 없음"
	unknown     = "미정"
)

// BuildMessage renders the alert for listings on behalf of sub.
func BuildMessage(r *model.Recipient, sub *model.Subscription, listings []model.Listing) Message {
	return Message{
		Subject: Subject(sub.Region, len(listings)),
		Body:    Body(r, listings),
	}
}

// Subject is the mail subject: region suffix when set, count when plural.
func Subject(region string, count int) string {
	s := subjectBase
	if region != "" {
		s += " - " + region
	}
	if count > 1 {
		s += " (" + strconv.Itoa(count) + "건)"
	}
	return s
}

// Body renders the greeting, one block per listing and the footer.
func Body(r *model.Recipient, listings []model.Listing) string {
	lines := make([]string, 0, len(listings)+2)
	lines = append(lines, r.DisplayName()+"님, 설정하신 조건에 맞는 신규 매물이 발견되었습니다.\n")
	for i := range listings {
		l := &listings[i]
		link := noLink
		if l.DetailURL != nil && *l.DetailURL != "" {
			link = *l.DetailURL
		}
		lines = append(lines, "- ["+l.Source.Label()+"] "+l.Title+"\n"+
			"  위치: "+l.Location+"\n"+
			"  최저 입찰가: "+FormatPrice(l.MinBidPrice)+"\n"+
			"  입찰일: "+formatDate(l.AuctionDate)+"\n"+
			"  링크: "+link+"\n")
	}
	lines = append(lines, footer)
	return strings.Join(lines, "\n")
}

// FormatPrice renders a won amount with thousands separators, e.g. "1,234원".
func FormatPrice(p *int64) string {
	if p == nil {
		return unknown
	}
	return message.NewPrinter(language.Korean).Sprintf("%d원", *p)
}

func formatDate(d *time.Time) string {
	if d == nil {
		return unknown
	}
	return d.Format(time.DateOnly)
}
