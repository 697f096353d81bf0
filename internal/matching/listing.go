package matching

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/scraper"
)

// maxListingCandidates bounds how many tiles one listing page may yield.
const maxListingCandidates = 250

// candidateContainerSelectors identify product tiles on a listing page, most
// structured first. The first selector with at least one usable tile wins;
// mixing selectors would double-count nested markup.
var candidateContainerSelectors = []string{
	"[data-product-id]",
	".product-card",
	".product-item",
	".product-tile",
	".grid-product",
	"li.product",
	".product",
}

// candidateNameSelectors locate the product name inside a tile.
var candidateNameSelectors = []string{
	"[itemprop='name']",
	".product-title",
	".product-name",
	".card__heading",
	"h2",
	"h3",
}

// candidatePriceSelectors locate an optional price inside a tile.
var candidatePriceSelectors = []string{
	"[data-price]",
	".product-price",
	".price",
	".money",
}

// ListingParser turns a competitor listing page into candidate products for
// the matching engine.
type ListingParser struct{}

// NewListingParser creates a listing parser.
func NewListingParser() *ListingParser {
	return &ListingParser{}
}

// Parse extracts candidates from listing HTML. Relative product links are
// resolved against baseURL. Tiles without a name or a link are dropped;
// duplicate product URLs keep the first occurrence.
func (p *ListingParser) Parse(html, baseURL string) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	for _, selector := range candidateContainerSelectors {
		candidates := collectCandidates(doc.Find(selector), base)
		if len(candidates) > 0 {
			return candidates, nil
		}
	}
	return []domain.Candidate{}, nil
}

func collectCandidates(tiles *goquery.Selection, base *url.URL) []domain.Candidate {
	candidates := make([]domain.Candidate, 0, tiles.Length())
	seen := make(map[string]bool)

	tiles.EachWithBreak(func(_ int, tile *goquery.Selection) bool {
		c, ok := candidateFromTile(tile, base)
		if !ok || seen[c.ID] {
			return true
		}
		seen[c.ID] = true
		candidates = append(candidates, c)
		return len(candidates) < maxListingCandidates
	})

	return candidates
}

func candidateFromTile(tile *goquery.Selection, base *url.URL) (domain.Candidate, bool) {
	href := tileHref(tile)
	if href == "" {
		return domain.Candidate{}, false
	}
	resolved := resolveURL(base, href)
	if resolved == "" {
		return domain.Candidate{}, false
	}

	name := tileName(tile)
	if name == "" {
		return domain.Candidate{}, false
	}

	id := resolved
	if attr, ok := tile.Attr("data-product-id"); ok && strings.TrimSpace(attr) != "" {
		id = strings.TrimSpace(attr)
	}

	return domain.Candidate{
		ID:    id,
		Name:  name,
		SKU:   tileSKU(tile),
		URL:   resolved,
		Price: tilePrice(tile),
	}, true
}

func tileHref(tile *goquery.Selection) string {
	if goquery.NodeName(tile) == "a" {
		href, _ := tile.Attr("href")
		return strings.TrimSpace(href)
	}
	href, _ := tile.Find("a[href]").First().Attr("href")
	return strings.TrimSpace(href)
}

func tileName(tile *goquery.Selection) string {
	for _, selector := range candidateNameSelectors {
		if name := strings.TrimSpace(tile.Find(selector).First().Text()); name != "" {
			return name
		}
	}
	// Anchor title then anchor text as last resorts.
	anchor := tile.Find("a[href]").First()
	if title, ok := anchor.Attr("title"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return strings.TrimSpace(anchor.Text())
}

func tileSKU(tile *goquery.Selection) *string {
	if attr, ok := tile.Attr("data-sku"); ok {
		if sku := strings.TrimSpace(attr); sku != "" {
			return &sku
		}
	}
	if sku := strings.TrimSpace(tile.Find("[itemprop='sku']").First().Text()); sku != "" {
		return &sku
	}
	return nil
}

func tilePrice(tile *goquery.Selection) *float64 {
	for _, selector := range candidatePriceSelectors {
		sel := tile.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		raw, ok := sel.Attr("data-price")
		if !ok {
			raw = sel.Text()
		}
		if price := scraper.ParsePrice(raw); price != nil {
			return price
		}
	}
	return nil
}

func resolveURL(base *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
