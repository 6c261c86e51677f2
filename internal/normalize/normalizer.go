package normalize

import (
	"time"

	"github.com/maltedev/material-scraper/internal/models"
)

// Source identifies the supplier a candidate was scraped from.
type Source struct {
	Name     string
	BaseURL  string
	Currency string
}

// Normalizer turns raw candidates into product records. It holds no state
// besides the clock used for timestamps and is safe for concurrent use.
type Normalizer struct {
	now func() time.Time
}

func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// WithClock replaces the timestamp source.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize builds a record for an already mapped category.
//
// A candidate whose URL cannot be made absolute is discarded with
// ErrInvalidURL. An unreadable price still produces a record (price 0) and
// ErrPriceUnparsed is returned alongside it.
func (n *Normalizer) Normalize(c models.RawCandidate, src Source, category models.Category) (*models.ProductRecord, error) {
	productURL, err := ResolveURL(src.BaseURL, c.URL)
	if err != nil {
		return nil, err
	}

	priceText := CleanText(c.PriceText)
	price, currency, priceErr := ParsePrice(priceText, src.Currency)

	record := &models.ProductRecord{
		ProductName: CleanText(c.Name),
		Category:    category,
		Price:       price,
		Currency:    currency,
		ProductURL:  productURL,
		Supplier:    src.Name,
		Timestamp:   n.now().UTC().Format(time.RFC3339),
		Brand:       models.StringPtr(CleanText(c.Brand)),
		SKU:         models.StringPtr(CleanText(c.SKU)),
		Description: models.StringPtr(CleanText(c.Description)),
	}

	if availability := CleanText(c.Availability); availability != "" {
		record.Availability = &availability
	}

	if c.ImageURL != "" {
		if img, err := ResolveURL(src.BaseURL, c.ImageURL); err == nil {
			record.ImageURL = &img
		}
	}

	if unit := CleanText(c.Unit); unit != "" {
		fillAbsent(&record.MeasurementUnit, CanonicalUnit(unit))
	}

	n.enrichUnits(record, priceText)

	return record, priceErr
}

func (n *Normalizer) enrichUnits(record *models.ProductRecord, priceText string) {
	if unit, ok := InferPriceUnit(priceText); ok {
		fillAbsent(&record.MeasurementUnit, unit)
	}

	text := record.ProductName
	if record.Description != nil {
		text += " " + *record.Description
	}

	if unit, pack, ok := InferUnit(text); ok {
		fillAbsent(&record.MeasurementUnit, unit)
		fillAbsent(&record.PackSize, pack)
	}
}

// fillAbsent sets an optional field only when it has no value yet.
func fillAbsent(dst **string, value string) {
	if *dst != nil || value == "" {
		return
	}
	*dst = &value
}
