package source

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"aucradar/ingest-service/internal/model"
)

// dateLayouts are tried in order; the first successful parse wins.
var dateLayouts = []string{"20060102", "2006-01-02", "2006.01.02"}

// ParseInt strips every non-digit character and parses the rest. Text with
// no digits yields nil, never zero.
func ParseInt(s string) *int64 {
	digits := strings.Map(func(r rune) rune {
		if isDigit(r) {
			return r
		}
		return -1
	}, s)
	if digits == "" {
		return nil
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseCount is ParseInt for small counters; missing text counts as zero.
func ParseCount(s string) *int {
	n := 0
	if v := ParseInt(s); v != nil {
		n = int(*v)
	}
	return &n
}

// ParseDate returns the calendar date at midnight UTC, or nil when no layout
// matches.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// ParseArea reads the first decimal number in s ("84.97㎡" → 84.97).
func ParseArea(s string) *float64 {
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return nil
	}
	end := start
	seenDot := false
	for end < len(s) {
		c := s[end]
		if c == '.' && !seenDot {
			seenDot = true
		} else if c < '0' || c > '9' {
			break
		}
		end++
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s[start:end], "."), 64)
	if err != nil {
		return nil
	}
	return &v
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// clampText cuts candidate text to the listing column widths. A detail URL
// that does not fit is dropped rather than cut.
func clampText(c model.Candidate) model.Candidate {
	c.Title = model.Truncate(c.Title, model.MaxTitleLen)
	c.Location = model.Truncate(c.Location, model.MaxLocationLen)
	c.RawStatus = model.Truncate(c.RawStatus, model.MaxRawStatusLen)
	c.RawBidMethod = model.Truncate(c.RawBidMethod, model.MaxRawBidLen)
	if c.DetailURL != nil && utf8.RuneCountInString(*c.DetailURL) > model.MaxDetailURLLen {
		c.DetailURL = nil
	}
	return c
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
