package supplier

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const LeroyMerlinID = "leroy_merlin"

// LeroyMerlinSelectors are the listing selectors used when the definition
// leaves a field empty.
func LeroyMerlinSelectors() Selectors {
	return Selectors{
		Container: []string{
			"[data-testid='product-card']",
			"div[class*='product-card']",
			"div[class*='product-item']",
		},
		Name:          []string{"[data-testid='product-title']", "h3", "h2", "[class*='title']", "[class*='name']"},
		Link:          []string{"a[data-testid='product-link']", "a[href]"},
		Price:         []string{"[data-testid='price']", "[class*='price']", "[class*='prix']"},
		Brand:         []string{"[data-testid='product-brand']", "[class*='brand']", "[class*='marque']"},
		Image:         []string{"img"},
		Unit:          []string{"[class*='price-unit']", "[class*='unit']"},
		SKU:           []string{"[data-testid='product-ref']", "[class*='ref']"},
		Availability:  []string{"[data-testid='availability']", "[class*='stock']", "[class*='dispo']"},
		Description:   []string{"[class*='description']"},
		CategoryLabel: []string{"[data-testid='product-category']"},
	}
}

// NewLeroyMerlin returns an extractor that understands prices rendered as
// separate integer and decimal parts.
func NewLeroyMerlin(def Definition) *SelectorExtractor {
	e := NewSelectorExtractor(def, LeroyMerlinSelectors())
	generic := e.priceText
	e.priceText = func(s *goquery.Selection) string {
		if text := splitPrice(s); text != "" {
			return text
		}
		return generic(s)
	}
	return e
}

// splitPrice joins "<span class=price-integer>12</span><span
// class=price-decimals>,99</span>" style markup into "12,99 €".
func splitPrice(s *goquery.Selection) string {
	integer := strings.TrimSpace(s.Find("[class*='price-integer'], [class*='price__integer']").First().Text())
	if integer == "" {
		return ""
	}

	decimals := strings.TrimSpace(s.Find("[class*='price-decimal'], [class*='price__decimal']").First().Text())
	decimals = strings.TrimLeft(decimals, ",.")

	currency := strings.TrimSpace(s.Find("[class*='price-currency'], [class*='price__currency']").First().Text())
	if currency == "" {
		currency = "€"
	}

	if decimals == "" {
		return integer + " " + currency
	}
	return integer + "," + decimals + " " + currency
}
