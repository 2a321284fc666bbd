package parser

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ldGame mirrors the fields of the embedded application/ld+json block the
// catalog emits for a game. Sites are sloppy about scalar-vs-list shapes,
// so the list-valued fields tolerate both.
type ldGame struct {
	Type            string      `json:"@type"`
	Name            string      `json:"name"`
	DatePublished   string      `json:"datePublished"`
	GamePlatform    stringList  `json:"gamePlatform"`
	Genre           stringList  `json:"genre"`
	Publisher       stringList  `json:"publisher"`
	AggregateRating *struct {
		RatingValue rawText `json:"ratingValue"`
	} `json:"aggregateRating"`
}

// decodeStructuredData finds the first well-formed game block among the
// page's ld+json scripts. Returns nil when absent or malformed; the caller
// falls back to markup selectors.
func decodeStructuredData(doc *goquery.Document) *ldGame {
	var found *ldGame
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var game ldGame
		if err := json.Unmarshal([]byte(sel.Text()), &game); err != nil {
			return true
		}
		switch game.Type {
		case "VideoGame", "Game":
			found = &game
			return false
		}
		return true
	})
	return found
}

// stringList accepts a JSON string, object with a name, or an array of
// either, flattening everything to the contained names.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	if value, ok := decodeNamed(data); ok {
		*s = []string{value}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		// Unknown shape; leave the list empty rather than failing the
		// whole block.
		return nil
	}

	var out []string
	for _, item := range items {
		if value, ok := decodeNamed(item); ok {
			out = append(out, value)
		}
	}
	*s = out
	return nil
}

func decodeNamed(data []byte) (string, bool) {
	var value string
	if err := json.Unmarshal(data, &value); err == nil {
		value = strings.TrimSpace(value)
		return value, value != ""
	}

	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		name := strings.TrimSpace(obj.Name)
		return name, name != ""
	}

	return "", false
}

// rawText keeps a JSON scalar as its textual form, whether the producer
// emitted a number or a quoted string.
type rawText string

func (r *rawText) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*r = rawText(asString)
		return nil
	}

	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err == nil {
		*r = rawText(asNumber.String())
		return nil
	}

	return nil
}
