// Package category maps free-text property types onto the fixed
// Large → Middle → Small taxonomy, creating nodes on first sight.
package category

import (
	"context"
	"fmt"
	"strings"

	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store"
)

// Fixed buckets for residential buildings.
const (
	LargeCode  = "B"
	LargeName  = "건물"
	MiddleCode = "RESIDENTIAL_BUILDING"
	MiddleName = "주거용건물"

	EtcCode = "ETC"
	EtcName = "기타주거용건물"
)

// Rule maps a keyword to a small category.
type Rule struct {
	Keyword string
	Code    string
	Name    string
}

// Rules is evaluated top to bottom; the first keyword contained in the
// (space-stripped) text wins.
var Rules = []Rule{
	{"아파트", "APT", "아파트"},
	{"오피스텔", "OFFICETEL", "오피스텔"},
	{"주상복합", "MIXED_RESIDENTIAL", "주상복합"},
	{"연립", "ROW_HOUSE", "연립주택"},
	{"다세대", "MULTI_FAMILY", "다세대주택"},
	{"다가구", "MULTI_HOUSE", "다가구주택"},
	{"단독", "DETACHED", "단독주택"},
	{"빌라", "VILLA", "빌라"},
	{"기숙사", "DORM", "기숙사"},
}

// Classify returns the small category code and display name for text.
// Unmatched text falls into ETC, named after the raw text itself.
func Classify(text string) (code, name string) {
	compact := strings.ReplaceAll(text, " ", "")
	for _, r := range Rules {
		if strings.Contains(compact, r.Keyword) {
			return r.Code, r.Name
		}
	}
	if text == "" {
		return EtcCode, EtcName
	}
	return EtcCode, text
}

// Resolve create-or-gets the (large, middle, small) triple for text. Each
// level is an atomic get-or-create, so concurrent resolvers share rows.
func Resolve(ctx context.Context, repo store.Repo, text string) (model.Categories, error) {
	large, err := repo.GetOrCreateCategory(ctx, model.LevelLarge, 0, LargeCode, LargeName)
	if err != nil {
		return model.Categories{}, fmt.Errorf("resolve large category: %w", err)
	}
	middle, err := repo.GetOrCreateCategory(ctx, model.LevelMiddle, large.ID, MiddleCode, MiddleName)
	if err != nil {
		return model.Categories{}, fmt.Errorf("resolve middle category: %w", err)
	}
	code, name := Classify(text)
	small, err := repo.GetOrCreateCategory(ctx, model.LevelSmall, middle.ID, code, name)
	if err != nil {
		return model.Categories{}, fmt.Errorf("resolve small category %s: %w", code, err)
	}
	return model.Categories{Large: large, Middle: middle, Small: small}, nil
}
