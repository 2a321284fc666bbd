package parser

import (
	"net/url"
	"testing"

	"github.com/aluiziolira/go-scrape-games/models"
)

func mustBase(t *testing.T) *url.URL {
	t.Helper()
	base, err := url.Parse("http://example.test/browse/game/?page=1")
	if err != nil {
		t.Fatalf("parse base: %v", err)
	}
	return base
}

func TestParseListing(t *testing.T) {
	html := `<html><body>
		<div class="c-finderProductCard">
			<a class="c-finderProductCard_container" href="/game/elden-ring/">Elden Ring</a>
		</div>
		<div class="c-finderProductCard">
			<a class="c-finderProductCard_container" href="/game/hades/">Hades</a>
		</div>
		<div class="c-finderProductCard">
			<a class="c-finderProductCard_container" href="/game/elden-ring/">Elden Ring (again)</a>
		</div>
	</body></html>`

	refs, err := ParseListing([]byte(html), mustBase(t))
	if err != nil {
		t.Fatalf("parse listing: %v", err)
	}

	want := []models.ItemRef{
		"http://example.test/game/elden-ring/",
		"http://example.test/game/hades/",
	}
	if len(refs) != len(want) {
		t.Fatalf("refs = %v, want %v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Fatalf("refs[%d] = %q, want %q", i, refs[i], want[i])
		}
	}
}

func TestParseListingSkipsMalformedCard(t *testing.T) {
	html := `<html><body>
		<div class="c-finderProductCard">
			<span>no link here</span>
		</div>
		<div class="c-finderProductCard">
			<a class="c-finderProductCard_container" href="   ">blank href</a>
		</div>
		<div class="c-finderProductCard">
			<a class="c-finderProductCard_container" href="/game/hades/">Hades</a>
		</div>
	</body></html>`

	refs, err := ParseListing([]byte(html), mustBase(t))
	if err != nil {
		t.Fatalf("parse listing: %v", err)
	}
	if len(refs) != 1 || refs[0] != "http://example.test/game/hades/" {
		t.Fatalf("refs = %v, want only hades", refs)
	}
}

func TestParseListingEmptyPage(t *testing.T) {
	refs, err := ParseListing([]byte("<html><body><p>no results</p></body></html>"), mustBase(t))
	if err != nil {
		t.Fatalf("empty listing must not be an error: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("refs = %v, want none", refs)
	}
}

func TestParseListingAbsoluteHref(t *testing.T) {
	html := `<div class="c-finderProductCard">
		<a class="c-finderProductCard_container" href="http://other.test/game/portal/">Portal</a>
	</div>`

	refs, err := ParseListing([]byte(html), mustBase(t))
	if err != nil {
		t.Fatalf("parse listing: %v", err)
	}
	if len(refs) != 1 || refs[0] != "http://other.test/game/portal/" {
		t.Fatalf("refs = %v, want absolute href preserved", refs)
	}
}
