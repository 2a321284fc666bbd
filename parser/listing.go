// Package parser extracts item references from listing pages and game
// records from detail pages. It is pure: bytes in, values out, no I/O.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-games/models"
)

// ParseListing extracts detail-page references from one listing page,
// resolved against base. Discovery order is preserved and duplicates within
// the page are dropped. A malformed card is skipped, not an error; zero
// refs is a valid result (last page, empty render).
func ParseListing(html []byte, base *url.URL) ([]models.ItemRef, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	var refs []models.ItemRef
	seen := make(map[string]struct{})

	doc.Find("div.c-finderProductCard").Each(func(_ int, card *goquery.Selection) {
		href, ok := card.Find("a.c-finderProductCard_container").First().Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}

		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		refs = append(refs, models.ItemRef(abs))
	})

	return refs, nil
}
