package source_test

import (
	"testing"
	"time"

	"aucradar/ingest-service/internal/source"
)

func TestParseInt(t *testing.T) {
	cases := []struct {
		in   string
		want *int64
	}{
		{"1,234,000원", ptr(int64(1234000))},
		{"  42 ", ptr(int64(42))},
		{"0", ptr(int64(0))},
		{"", nil},
		{"없음", nil},
	}
	for _, c := range cases {
		got := source.ParseInt(c.in)
		switch {
		case c.want == nil && got != nil:
			t.Errorf("ParseInt(%q) = %d, want nil", c.in, *got)
		case c.want != nil && (got == nil || *got != *c.want):
			t.Errorf("ParseInt(%q) = %v, want %d", c.in, got, *c.want)
		}
	}
}

func TestParseCount_EmptyIsZero(t *testing.T) {
	if got := source.ParseCount(""); got == nil || *got != 0 {
		t.Errorf("ParseCount(\"\") = %v, want 0", got)
	}
	if got := source.ParseCount("2회"); got == nil || *got != 2 {
		t.Errorf("ParseCount(\"2회\") = %v, want 2", got)
	}
}

func TestParseDate_OrderedLayouts(t *testing.T) {
	want := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"20250307", "2025-03-07", "2025.03.07"} {
		got := source.ParseDate(in)
		if got == nil || !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, want %v", in, got, want)
		}
	}
	for _, in := range []string{"", "07/03/2025", "2025년 3월 7일"} {
		if got := source.ParseDate(in); got != nil {
			t.Errorf("ParseDate(%q) = %v, want nil", in, got)
		}
	}
}

func TestParseArea(t *testing.T) {
	if got := source.ParseArea("건물 84.97㎡"); got == nil || *got != 84.97 {
		t.Errorf("ParseArea = %v, want 84.97", got)
	}
	if got := source.ParseArea("59"); got == nil || *got != 59 {
		t.Errorf("ParseArea = %v, want 59", got)
	}
	if got := source.ParseArea("㎡"); got != nil {
		t.Errorf("ParseArea without digits = %v, want nil", *got)
	}
}

func ptr[T any](v T) *T { return &v }
