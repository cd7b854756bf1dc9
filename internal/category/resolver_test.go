package category_test

import (
	"context"
	"testing"

	"aucradar/ingest-service/internal/category"
	"aucradar/ingest-service/internal/store/memstore"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		in       string
		wantCode string
		wantName string
	}{
		{"아파트", "APT", "아파트"},
		{"신축 아파트", "APT", "아파트"},
		{"오피스텔", "OFFICETEL", "오피스텔"},
		{"주상 복합", "MIXED_RESIDENTIAL", "주상복합"},
		{"연립주택", "ROW_HOUSE", "연립주택"},
		{"다세대(빌라)", "MULTI_FAMILY", "다세대주택"},
		{"다가구주택", "MULTI_HOUSE", "다가구주택"},
		{"단독주택", "DETACHED", "단독주택"},
		{"빌라", "VILLA", "빌라"},
		{"기숙사", "DORM", "기숙사"},
		{"아파트형 오피스텔", "APT", "아파트"},
		{"근린생활시설", "ETC", "근린생활시설"},
		{"", "ETC", "기타주거용건물"},
	}
	for _, c := range cases {
		code, name := category.Classify(c.in)
		if code != c.wantCode || name != c.wantName {
			t.Errorf("Classify(%q) = (%s, %s), want (%s, %s)", c.in, code, name, c.wantCode, c.wantName)
		}
	}
}

func TestResolve_ReusesRows(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	a, err := category.Resolve(ctx, st, "신축 아파트")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := category.Resolve(ctx, st, "아파트")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if a.Small.Code != "APT" || b.Small.Code != "APT" {
		t.Errorf("small codes = %s, %s; want APT", a.Small.Code, b.Small.Code)
	}
	if a.Small.ID != b.Small.ID || a.Middle.ID != b.Middle.ID || a.Large.ID != b.Large.ID {
		t.Errorf("equal inputs resolved to different rows: %+v vs %+v", a, b)
	}
	if a.Large.Code != category.LargeCode || a.Middle.Code != category.MiddleCode {
		t.Errorf("fixed buckets = %s/%s", a.Large.Code, a.Middle.Code)
	}
	if a.Middle.ParentID != a.Large.ID || a.Small.ParentID != a.Middle.ID {
		t.Errorf("parent links broken: %+v", a)
	}
	if n := len(st.Categories()); n != 3 {
		t.Errorf("taxonomy rows = %d, want 3", n)
	}
}

func TestResolve_EtcKeepsRawText(t *testing.T) {
	st := memstore.New()
	cats, err := category.Resolve(context.Background(), st, "근린생활시설")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cats.Small.Code != "ETC" || cats.Small.Name != "근린생활시설" {
		t.Errorf("small = %+v, want ETC named after the raw text", cats.Small)
	}
}
