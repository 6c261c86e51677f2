package supplier

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const CastoramaID = "castorama"

func CastoramaSelectors() Selectors {
	return Selectors{
		Container: []string{
			"li[data-test-id='product-panel']",
			"div[class*='product-card']",
			"div[class*='product-item']",
			"div[class*='product-tile']",
		},
		Name:          []string{"[data-test-id='productTitle']", "h3", "h2", "[class*='title']", "[class*='name']"},
		Link:          []string{"a[data-test-id='product-panel-main-section']", "a[href]"},
		Price:         []string{"[data-test-id='product-primary-price']", "[class*='price']", "[class*='prix']"},
		Brand:         []string{"[data-test-id='product-brand']", "[class*='brand']", "[class*='marque']"},
		Image:         []string{"img"},
		Unit:          []string{"[data-test-id='product-price-unit']", "[class*='unit']"},
		SKU:           []string{"[class*='sku']", "[class*='ref']"},
		Availability:  []string{"[data-test-id='product-availability']", "[class*='stock']"},
		Description:   []string{"[class*='description']"},
		CategoryLabel: []string{"[data-test-id='product-category']"},
	}
}

var (
	castoramaPriceAttrs = []string{"data-price", "data-product-price"}
	castoramaSKUAttrs   = []string{"data-sku", "data-product-id", "data-ean"}
)

// NewCastorama returns an extractor that prefers the machine readable data
// attributes Castorama puts on product tiles over rendered text.
func NewCastorama(def Definition) *SelectorExtractor {
	e := NewSelectorExtractor(def, CastoramaSelectors())

	textPrice := e.priceText
	e.priceText = func(s *goquery.Selection) string {
		if v := dataAttr(s, castoramaPriceAttrs); v != "" {
			return v
		}
		return textPrice(s)
	}

	textSKU := e.sku
	e.sku = func(s *goquery.Selection) string {
		if v := dataAttr(s, castoramaSKUAttrs); v != "" {
			return v
		}
		return textSKU(s)
	}

	return e
}

// dataAttr looks for attrs on the container first, then on its descendants.
func dataAttr(s *goquery.Selection, attrs []string) string {
	for _, a := range attrs {
		if v, ok := s.Attr(a); ok && strings.TrimSpace(v) != "" {
			return v
		}
		if v, ok := s.Find("[" + a + "]").First().Attr(a); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
