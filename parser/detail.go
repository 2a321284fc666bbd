package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-games/models"
)

// detailPage bundles the two extraction sources for one detail page: the
// parsed markup and the embedded structured-data block, when present.
type detailPage struct {
	doc *goquery.Document
	ld  *ldGame
}

// fieldStrategy is one named way to pull a scalar field from a detail page.
// Strategies run in priority order; the first success wins.
type fieldStrategy struct {
	name    string
	extract func(p *detailPage) (string, bool)
}

// listStrategy is the list-valued counterpart of fieldStrategy.
type listStrategy struct {
	name    string
	extract func(p *detailPage) ([]string, bool)
}

// ParseDetail extracts game records from one detail page. The structured
// data block is the primary source; markup selectors are the fallback per
// field. A page listing several platforms yields one record per platform
// with the shared fields duplicated. Score fields carry the raw page text.
func ParseDetail(html []byte) ([]*models.GameRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse detail html: %w", err)
	}

	p := &detailPage{doc: doc, ld: decodeStructuredData(doc)}

	name := firstString(p, nameStrategies)
	if name == "" {
		return nil, errors.New("detail page has no recognizable title")
	}

	shared := models.GameRecord{
		Name:        name,
		ReleaseDate: firstString(p, releaseDateStrategies),
		Metascore:   firstString(p, metascoreStrategies),
		UserScore:   firstString(p, userScoreStrategies),
		Developer:   firstString(p, developerStrategies),
		Publisher:   firstList(p, publisherStrategies),
		Genre:       firstList(p, genreStrategies),
	}

	platforms := firstList(p, platformStrategies)
	if len(platforms) == 0 {
		platforms = []string{""}
	}

	records := make([]*models.GameRecord, 0, len(platforms))
	for _, platform := range platforms {
		rec := shared
		rec.Platform = platform
		rec.Publisher = append([]string(nil), shared.Publisher...)
		rec.Genre = append([]string(nil), shared.Genre...)
		records = append(records, &rec)
	}

	return records, nil
}

var nameStrategies = []fieldStrategy{
	{name: "structured_name", extract: func(p *detailPage) (string, bool) {
		if p.ld == nil {
			return "", false
		}
		return nonEmpty(p.ld.Name)
	}},
	{name: "hero_title", extract: func(p *detailPage) (string, bool) {
		return nonEmpty(p.doc.Find("div.c-productHero_title h1").First().Text())
	}},
	{name: "first_h1", extract: func(p *detailPage) (string, bool) {
		return nonEmpty(p.doc.Find("h1").First().Text())
	}},
}

var releaseDateStrategies = []fieldStrategy{
	{name: "structured_date", extract: func(p *detailPage) (string, bool) {
		if p.ld == nil {
			return "", false
		}
		return nonEmpty(p.ld.DatePublished)
	}},
	{name: "details_release_date", extract: func(p *detailPage) (string, bool) {
		return nonEmpty(p.doc.Find("div.c-gameDetails_ReleaseDate span").Last().Text())
	}},
}

var metascoreStrategies = []fieldStrategy{
	{name: "structured_rating", extract: func(p *detailPage) (string, bool) {
		if p.ld == nil || p.ld.AggregateRating == nil {
			return "", false
		}
		return nonEmpty(string(p.ld.AggregateRating.RatingValue))
	}},
	{name: "critic_score_badge", extract: func(p *detailPage) (string, bool) {
		return nonEmpty(p.doc.Find("div.c-productScoreInfo_scoreNumber div.c-siteReviewScore span").First().Text())
	}},
}

var userScoreStrategies = []fieldStrategy{
	{name: "user_score_badge", extract: func(p *detailPage) (string, bool) {
		return nonEmpty(p.doc.Find("div.c-siteReviewScore_user span").First().Text())
	}},
}

var developerStrategies = []fieldStrategy{
	{name: "details_developer", extract: func(p *detailPage) (string, bool) {
		return nonEmpty(p.doc.Find("div.c-gameDetails_Developer li").First().Text())
	}},
}

var publisherStrategies = []listStrategy{
	{name: "structured_publisher", extract: func(p *detailPage) ([]string, bool) {
		if p.ld == nil {
			return nil, false
		}
		return nonEmptyList([]string(p.ld.Publisher))
	}},
	{name: "details_distributor", extract: func(p *detailPage) ([]string, bool) {
		return nonEmptyList(selectTexts(p.doc, "div.c-gameDetails_Distributor span.g-outer-spacing-left-medium-fluid"))
	}},
}

var genreStrategies = []listStrategy{
	{name: "structured_genre", extract: func(p *detailPage) ([]string, bool) {
		if p.ld == nil {
			return nil, false
		}
		return nonEmptyList([]string(p.ld.Genre))
	}},
	{name: "genre_pills", extract: func(p *detailPage) ([]string, bool) {
		return nonEmptyList(selectTexts(p.doc, "li.c-genreList_item span.c-globalButton_label"))
	}},
}

var platformStrategies = []listStrategy{
	{name: "structured_platforms", extract: func(p *detailPage) ([]string, bool) {
		if p.ld == nil {
			return nil, false
		}
		return nonEmptyList([]string(p.ld.GamePlatform))
	}},
	{name: "details_platforms", extract: func(p *detailPage) ([]string, bool) {
		return nonEmptyList(selectTexts(p.doc, "div.c-gameDetails_Platforms li"))
	}},
	{name: "hero_platform", extract: func(p *detailPage) ([]string, bool) {
		if text, ok := nonEmpty(p.doc.Find("div.c-ProductHeroGamePlatformInfo span").First().Text()); ok {
			return []string{text}, true
		}
		return nil, false
	}},
}

func firstString(p *detailPage, strategies []fieldStrategy) string {
	for _, s := range strategies {
		if value, ok := s.extract(p); ok {
			return value
		}
	}
	return ""
}

func firstList(p *detailPage, strategies []listStrategy) []string {
	for _, s := range strategies {
		if values, ok := s.extract(p); ok {
			return dedupe(values)
		}
	}
	return nil
}

func selectTexts(doc *goquery.Document, selector string) []string {
	var out []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func nonEmptyList(values []string) ([]string, bool) {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, len(out) > 0
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
