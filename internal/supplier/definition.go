package supplier

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/maltedev/material-scraper/internal/models"
)

var (
	ErrMissingBaseURL       = errors.New("supplier base url is required")
	ErrMissingID            = errors.New("supplier id is required")
	ErrUnconfiguredCategory = errors.New("category not configured for supplier")
	ErrUnknownSupplier      = errors.New("unknown supplier")
	ErrNoExtractor          = errors.New("no extractor for supplier")
)

// Selectors lists CSS selectors per field. Each list is tried in order and
// the first selector that matches inside a product container wins.
type Selectors struct {
	Container     []string
	Name          []string
	Link          []string
	Price         []string
	Brand         []string
	Image         []string
	Unit          []string
	SKU           []string
	Availability  []string
	Description   []string
	CategoryLabel []string
}

// merge fills every empty list in s from defaults.
func (s Selectors) merge(defaults Selectors) Selectors {
	pick := func(own, def []string) []string {
		if len(own) > 0 {
			return own
		}
		return def
	}
	return Selectors{
		Container:     pick(s.Container, defaults.Container),
		Name:          pick(s.Name, defaults.Name),
		Link:          pick(s.Link, defaults.Link),
		Price:         pick(s.Price, defaults.Price),
		Brand:         pick(s.Brand, defaults.Brand),
		Image:         pick(s.Image, defaults.Image),
		Unit:          pick(s.Unit, defaults.Unit),
		SKU:           pick(s.SKU, defaults.SKU),
		Availability:  pick(s.Availability, defaults.Availability),
		Description:   pick(s.Description, defaults.Description),
		CategoryLabel: pick(s.CategoryLabel, defaults.CategoryLabel),
	}
}

// CategorySource tells where a canonical category lives on a supplier site.
type CategorySource struct {
	Path      string
	Label     string
	Container []string
}

// Definition is the capability set every supplier provides: where it lives,
// which listing pages map to which category and how its markup looks.
type Definition struct {
	ID         string
	Name       string
	BaseURL    string
	Currency   string
	PageParam  string
	Categories map[models.Category]CategorySource
	Selectors  Selectors
}

func (d Definition) Validate() error {
	if d.ID == "" {
		return ErrMissingID
	}

	if strings.TrimSpace(d.BaseURL) == "" {
		return fmt.Errorf("%w: %s", ErrMissingBaseURL, d.ID)
	}

	u, err := url.Parse(d.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("supplier %s: base url %q must be absolute", d.ID, d.BaseURL)
	}

	for c, src := range d.Categories {
		if !c.Valid() {
			return fmt.Errorf("supplier %s: %q is not a canonical category", d.ID, c)
		}
		if strings.TrimSpace(src.Path) == "" {
			return fmt.Errorf("supplier %s: category %s has no url path", d.ID, c)
		}
	}

	return nil
}

// DisplayName is the human readable supplier identifier put on records.
func (d Definition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Label returns the supplier's own label for category, defaulting to the
// canonical name.
func (d Definition) Label(c models.Category) string {
	if src, ok := d.Categories[c]; ok && src.Label != "" {
		return src.Label
	}
	return string(c)
}

// Paginated reports whether listing pages beyond the first can be addressed.
func (d Definition) Paginated() bool {
	return d.PageParam != ""
}

// PageURL builds the absolute listing URL for category at page (1-based).
func (d Definition) PageURL(c models.Category, page int) (string, error) {
	src, ok := d.Categories[c]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnconfiguredCategory, d.ID, c)
	}

	base, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}

	ref, err := url.Parse(src.Path)
	if err != nil {
		return "", fmt.Errorf("parsing category path %q: %w", src.Path, err)
	}

	u := base.ResolveReference(ref)
	if page > 1 {
		if !d.Paginated() {
			return "", fmt.Errorf("supplier %s has no page parameter", d.ID)
		}
		q := u.Query()
		q.Set(d.PageParam, strconv.Itoa(page))
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
