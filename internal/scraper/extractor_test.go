package scraper_test

import (
	"testing"

	"github.com/jonesrussell/price-tracker/internal/scraper"
)

// structuredProductHTML carries machine-readable price metadata alongside a
// conflicting display price; metadata must win.
const structuredProductHTML = `<!DOCTYPE html>
<html>
<head>
  <meta itemprop="price" content="1299.99">
  <meta itemprop="priceCurrency" content="EUR">
</head>
<body>
  <span class="price">$1,399.00 (was $1,499.00)</span>
</body>
</html>`

// displayPriceHTML has only a human-formatted display price.
const displayPriceHTML = `<!DOCTYPE html>
<html>
<head><title>Widget</title></head>
<body>
  <div class="product-price">$1,234.56</div>
</body>
</html>`

// czechPriceHTML uses European separators and a non-USD locale.
const czechPriceHTML = `<!DOCTYPE html>
<html>
<body>
  <span class="price">1.234,56 Kč</span>
</body>
</html>`

// soldOutHTML has no numeric price and an out-of-stock phrase.
const soldOutHTML = `<!DOCTYPE html>
<html>
<body>
  <div class="price">Sold Out</div>
</body>
</html>`

// outOfStockWithPriceHTML keeps the last known price visible while the item
// is unavailable.
const outOfStockWithPriceHTML = `<!DOCTYPE html>
<html>
<body>
  <span class="price">€99</span>
  <p>This item is currently unavailable.</p>
</body>
</html>`

// unparseableMetaHTML has garbage in the structured slot; the cascade must
// fall through to the display price.
const unparseableMetaHTML = `<!DOCTYPE html>
<html>
<head>
  <meta itemprop="price" content="contact us">
</head>
<body>
  <span class="price">49.50</span>
</body>
</html>`

// noPriceHTML has nothing resembling a price.
const noPriceHTML = `<!DOCTYPE html>
<html>
<body>
  <p>A lovely product description with no numbers for sale.</p>
</body>
</html>`

// dataPriceHTML carries the value in a data attribute.
const dataPriceHTML = `<!DOCTYPE html>
<html>
<body>
  <div data-price="299.00">See cart for price</div>
</body>
</html>`

func TestParsePrice(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		raw  string
		want float64
		nil  bool
	}{
		{name: "us style with thousands", raw: "$1,234.56", want: 1234.56},
		{name: "european style with thousands", raw: "1.234,56 Kč", want: 1234.56},
		{name: "bare symbol price", raw: "€99", want: 99},
		{name: "no numeric content", raw: "Sold Out", nil: true},
		{name: "empty string", raw: "", nil: true},
		{name: "plain integer", raw: "42", want: 42},
		{name: "plain decimal", raw: "42.50", want: 42.5},
		{name: "lone comma is decimal", raw: "1,5", want: 1.5},
		{name: "multiple commas are thousands", raw: "1,234,567", want: 1234567},
		{name: "european millions", raw: "1.234.567,89 EUR", want: 1234567.89},
		{name: "negative rejected", raw: "-5.00", nil: true},
		{name: "price embedded in text", raw: "Now only 19.99 today", want: 19.99},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := scraper.ParsePrice(tc.raw)
			if tc.nil {
				if got != nil {
					t.Errorf("ParsePrice(%q) = %v, want nil", tc.raw, *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParsePrice(%q) = nil, want %v", tc.raw, tc.want)
			}
			if *got != tc.want {
				t.Errorf("ParsePrice(%q) = %v, want %v", tc.raw, *got, tc.want)
			}
		})
	}
}

func TestExtract_StructuredMetadataWins(t *testing.T) {
	t.Parallel()

	ext := scraper.NewPriceExtractor()

	result, err := ext.Extract(structuredProductHTML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertPrice(t, result.Price, 1299.99)
	if result.Currency != "EUR" {
		t.Errorf("Currency = %q, want %q", result.Currency, "EUR")
	}
	if !result.Availability {
		t.Error("Availability = false, want true")
	}
}

func TestExtract_DisplayPriceFallback(t *testing.T) {
	t.Parallel()

	ext := scraper.NewPriceExtractor()

	result, err := ext.Extract(displayPriceHTML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertPrice(t, result.Price, 1234.56)
	if result.Currency != "USD" {
		t.Errorf("Currency = %q, want %q", result.Currency, "USD")
	}
}

func TestExtract_EuropeanSeparators(t *testing.T) {
	t.Parallel()

	ext := scraper.NewPriceExtractor()

	result, err := ext.Extract(czechPriceHTML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertPrice(t, result.Price, 1234.56)
	if result.Currency != "CZK" {
		t.Errorf("Currency = %q, want %q from the price symbol", result.Currency, "CZK")
	}
}

func TestExtract_SoldOutWithoutPrice(t *testing.T) {
	t.Parallel()

	ext := scraper.NewPriceExtractor()

	result, err := ext.Extract(soldOutHTML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Price != nil {
		t.Errorf("Price = %v, want nil", *result.Price)
	}
	if result.Availability {
		t.Error("Availability = true, want false for sold out page")
	}
}

func TestExtract_OutOfStockKeepsPrice(t *testing.T) {
	t.Parallel()

	ext := scraper.NewPriceExtractor()

	result, err := ext.Extract(outOfStockWithPriceHTML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertPrice(t, result.Price, 99)
	if result.Currency != "EUR" {
		t.Errorf("Currency = %q, want %q from the price symbol", result.Currency, "EUR")
	}
	if result.Availability {
		t.Error("Availability = true, want false")
	}
}

func TestExtract_UnparseableMetadataFallsThrough(t *testing.T) {
	t.Parallel()

	ext := scraper.NewPriceExtractor()

	result, err := ext.Extract(unparseableMetaHTML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertPrice(t, result.Price, 49.50)
}

func TestExtract_NoPrice(t *testing.T) {
	t.Parallel()

	ext := scraper.NewPriceExtractor()

	result, err := ext.Extract(noPriceHTML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Price != nil {
		t.Errorf("Price = %v, want nil", *result.Price)
	}
	if !result.Availability {
		t.Error("Availability = false, want default true")
	}
}

func TestExtract_DataPriceAttribute(t *testing.T) {
	t.Parallel()

	ext := scraper.NewPriceExtractor()

	result, err := ext.Extract(dataPriceHTML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertPrice(t, result.Price, 299)
}

func assertPrice(t *testing.T, got *float64, want float64) {
	t.Helper()

	if got == nil {
		t.Fatalf("Price = nil, want %v", want)
	}
	if *got != want {
		t.Errorf("Price = %v, want %v", *got, want)
	}
}
