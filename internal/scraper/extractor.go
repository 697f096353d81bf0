package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// defaultCurrency is assumed when the page carries no currency metadata.
const defaultCurrency = "USD"

// Extraction is the price signal pulled from one product page.
type Extraction struct {
	// Price is nil when no selector yielded a parseable value.
	Price        *float64
	Currency     string
	Availability bool
}

// priceSelectors are tried in order, most structured first. The first
// selector that yields a parseable number wins; later selectors are never
// consulted.
var priceSelectors = []string{
	"meta[itemprop='price']",
	"meta[property='product:price:amount']",
	"meta[property='og:price:amount']",
	"[itemprop='price']",
	"[data-price]",
	".price-current",
	".current-price",
	".sale-price",
	".product-price",
	".price-value",
	".price",
	"#price",
}

// currencySelectors locate explicit currency metadata.
var currencySelectors = []string{
	"[itemprop='priceCurrency']",
	"meta[property='product:price:currency']",
	"meta[property='og:price:currency']",
}

// currencySymbols maps symbols found next to the parsed price to ISO codes.
// Multi-rune symbols come first so "$" cannot shadow them.
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"kč", "CZK"},
	{"zł", "PLN"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"$", "USD"},
}

// outOfStockPhrases flip availability to false when found anywhere in the
// page, case-insensitive. The schema.org token covers structured markup.
var outOfStockPhrases = []string{
	"out of stock",
	"out-of-stock",
	"outofstock",
	"sold out",
	"soldout",
	"currently unavailable",
	"vyprodáno",
	"ausverkauft",
	"nicht verfügbar",
	"agotado",
	"épuisé",
	"esaurito",
}

// priceRun matches the first number-like run in a price string, separators
// included.
var priceRun = regexp.MustCompile(`-?[0-9][0-9.,]*`)

// PriceExtractor pulls price, currency and availability out of raw HTML.
type PriceExtractor struct{}

// NewPriceExtractor creates a new extractor.
func NewPriceExtractor() *PriceExtractor {
	return &PriceExtractor{}
}

// Extract parses the page and returns the extracted price signal. A page
// with no recognizable price is not an error; Price is nil in that case.
func (e *PriceExtractor) Extract(html string) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	lowered := strings.ToLower(html)
	price, priceText := extractPrice(doc)

	return &Extraction{
		Price:        price,
		Currency:     extractCurrency(doc, priceText),
		Availability: extractAvailability(lowered),
	}, nil
}

// extractPrice walks the selector cascade and returns the first parseable
// value along with the raw text it was parsed from.
func extractPrice(doc *goquery.Document) (*float64, string) {
	for _, selector := range priceSelectors {
		var (
			found *float64
			text  string
		)

		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			raw := candidateText(sel)
			if price := ParsePrice(raw); price != nil {
				found = price
				text = raw
				return false
			}
			return true
		})

		if found != nil {
			return found, text
		}
	}

	return nil, ""
}

// candidateText returns the most machine-readable value a node offers:
// content attribute, then data-price, then visible text.
func candidateText(sel *goquery.Selection) string {
	if content, exists := sel.Attr("content"); exists {
		return content
	}
	if dataPrice, exists := sel.Attr("data-price"); exists {
		return dataPrice
	}
	return sel.Text()
}

// ParsePrice converts a raw price string to a number. Both `1,234.56` and
// `1.234,56` styles are handled: with both separators present the later one
// is the decimal point; a lone comma is a decimal point; otherwise commas
// are thousands separators. Negative and non-numeric input yields nil.
func ParsePrice(raw string) *float64 {
	run := priceRun.FindString(raw)
	if run == "" {
		return nil
	}

	value, err := strconv.ParseFloat(normalizeSeparators(run), 64)
	if err != nil || value < 0 {
		return nil
	}
	return &value
}

func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// European style: dots group thousands, comma is decimal.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 {
			// A lone comma is a decimal point, not a thousands separator.
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	return s
}

// extractCurrency returns explicit currency metadata, then a recognizable
// symbol found next to the parsed price, then USD.
func extractCurrency(doc *goquery.Document, priceText string) string {
	for _, selector := range currencySelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}

		value, exists := sel.Attr("content")
		if !exists {
			value = sel.Text()
		}
		if code := strings.ToUpper(strings.TrimSpace(value)); code != "" {
			return code
		}
	}

	if code := currencyFromSymbol(priceText); code != "" {
		return code
	}

	return defaultCurrency
}

func currencyFromSymbol(text string) string {
	lowered := strings.ToLower(text)
	for _, cs := range currencySymbols {
		if strings.Contains(lowered, cs.symbol) {
			return cs.code
		}
	}
	return ""
}

// extractAvailability reports false only when a known out-of-stock phrase
// appears in the page.
func extractAvailability(loweredHTML string) bool {
	for _, phrase := range outOfStockPhrases {
		if strings.Contains(loweredHTML, phrase) {
			return false
		}
	}
	return true
}
