package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var ErrInvalidRecord = errors.New("invalid product record")

// Category is one of the fixed product groupings shared by every supplier.
type Category string

const (
	CategoryTiles    Category = "tiles"
	CategorySinks    Category = "sinks"
	CategoryToilets  Category = "toilets"
	CategoryPaint    Category = "paint"
	CategoryVanities Category = "vanities"
	CategoryShowers  Category = "showers"
)

// AllCategories returns the canonical categories in their display order.
func AllCategories() []Category {
	return []Category{
		CategoryTiles,
		CategorySinks,
		CategoryToilets,
		CategoryPaint,
		CategoryVanities,
		CategoryShowers,
	}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryTiles, CategorySinks, CategoryToilets, CategoryPaint, CategoryVanities, CategoryShowers:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory accepts only the canonical names. Supplier labels go through
// the category mapper instead.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// ProductRecord is the normalized output unit of a scraping run.
// Optional fields are nil when the supplier page did not provide them.
type ProductRecord struct {
	ProductName     string   `json:"product_name"`
	Category        Category `json:"category"`
	Price           float64  `json:"price"`
	Currency        string   `json:"currency"`
	ProductURL      string   `json:"product_url"`
	Supplier        string   `json:"supplier"`
	Timestamp       string   `json:"timestamp"`
	Brand           *string  `json:"brand,omitempty"`
	MeasurementUnit *string  `json:"measurement_unit,omitempty"`
	PackSize        *string  `json:"pack_size,omitempty"`
	ImageURL        *string  `json:"image_url,omitempty"`
	Availability    *string  `json:"availability,omitempty"`
	Description     *string  `json:"description,omitempty"`
	SKU             *string  `json:"sku,omitempty"`
}

// RawCandidate is a product observation taken straight from supplier markup.
// An empty field means the markup did not contain it.
type RawCandidate struct {
	Name          string
	PriceText     string
	URL           string
	ImageURL      string
	Brand         string
	Unit          string
	SKU           string
	Availability  string
	Description   string
	CategoryLabel string
}

// Summary reports the outcome of one (supplier, category) pair.
type Summary struct {
	Supplier           string   `json:"supplier"`
	Category           Category `json:"category"`
	SuccessCount       int      `json:"success_count"`
	SkippedCount       int      `json:"skipped_count"`
	PriceUnparsedCount int      `json:"price_unparsed_count,omitempty"`
	ErrorKind          *string  `json:"error_kind,omitempty"`
}

func (s Summary) Failed() bool {
	return s.ErrorKind != nil
}

// Key identifies a record for deduplication within a run.
func (p *ProductRecord) Key() string {
	return p.Supplier + "\x00" + p.ProductURL
}

// Validate checks the record invariants and returns an error wrapping
// ErrInvalidRecord listing every violation.
func (p *ProductRecord) Validate() error {
	var problems []string

	if strings.TrimSpace(p.ProductName) == "" {
		problems = append(problems, "product name is required")
	}

	if !p.Category.Valid() {
		problems = append(problems, fmt.Sprintf("category %q is not canonical", p.Category))
	}

	if !IsAbsoluteURL(p.ProductURL) {
		problems = append(problems, fmt.Sprintf("product url %q is not absolute", p.ProductURL))
	}

	if p.Price < 0 {
		problems = append(problems, "price must not be negative")
	}

	if p.Currency == "" {
		problems = append(problems, "currency is required")
	}

	if p.Supplier == "" {
		problems = append(problems, "supplier is required")
	}

	if _, err := time.Parse(time.RFC3339Nano, p.Timestamp); err != nil {
		problems = append(problems, "timestamp must be ISO-8601")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(problems, "; "))
	}

	return nil
}

// IsAbsoluteURL reports whether raw is an absolute http(s) URL with a host.
func IsAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// StringPtr returns nil for empty strings so optional fields stay absent.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
