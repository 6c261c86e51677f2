package supplier

import (
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/material-scraper/internal/models"
)

// Extractor yields raw product candidates from one fetched listing page.
// The sequence is lazy, bound to the document it was created for and may be
// abandoned at any point by the consumer.
type Extractor interface {
	Extract(category models.Category, doc *goquery.Document) iter.Seq[models.RawCandidate]
}

// Factory builds the extractor for a supplier definition.
type Factory func(def Definition) Extractor

// Registry maps supplier IDs to extractor implementations. Adding a supplier
// means registering a factory; nothing else changes.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in suppliers registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(LeroyMerlinID, func(def Definition) Extractor { return NewLeroyMerlin(def) })
	r.Register(CastoramaID, func(def Definition) Extractor { return NewCastorama(def) })
	return r
}

func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// New returns the registered extractor for def.ID. Unregistered suppliers
// fall back to the generic selector extractor when they declare containers.
func (r *Registry) New(def Definition) (Extractor, error) {
	r.mu.RLock()
	f, ok := r.factories[def.ID]
	r.mu.RUnlock()

	if ok {
		return f(def), nil
	}

	if len(def.Selectors.Container) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoExtractor, def.ID)
	}

	return NewSelectorExtractor(def, genericSelectors()), nil
}

// SelectorExtractor reads candidates through configured CSS selectors.
type SelectorExtractor struct {
	def       Definition
	selectors Selectors
	priceText func(s *goquery.Selection) string
	sku       func(s *goquery.Selection) string
}

func NewSelectorExtractor(def Definition, defaults Selectors) *SelectorExtractor {
	e := &SelectorExtractor{
		def:       def,
		selectors: def.Selectors.merge(defaults),
	}
	e.priceText = func(s *goquery.Selection) string { return firstText(s, e.selectors.Price) }
	e.sku = func(s *goquery.Selection) string { return firstText(s, e.selectors.SKU) }
	return e
}

func (e *SelectorExtractor) Extract(category models.Category, doc *goquery.Document) iter.Seq[models.RawCandidate] {
	containers := e.selectors.Container
	if src, ok := e.def.Categories[category]; ok && len(src.Container) > 0 {
		containers = src.Container
	}
	query := strings.Join(containers, ", ")
	label := e.def.Label(category)

	return func(yield func(models.RawCandidate) bool) {
		if doc == nil || query == "" {
			return
		}

		doc.Find(query).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			// nested matches belong to the outer product tile
			if s.ParentsFiltered(query).Length() > 0 {
				return true
			}
			return yield(e.candidate(s, label))
		})
	}
}

func (e *SelectorExtractor) candidate(s *goquery.Selection, label string) models.RawCandidate {
	sel := e.selectors

	c := models.RawCandidate{
		Name:          firstText(s, sel.Name),
		PriceText:     e.priceText(s),
		URL:           firstAttr(s, sel.Link, "href"),
		ImageURL:      firstAttr(s, sel.Image, "src", "data-src"),
		Brand:         firstText(s, sel.Brand),
		Unit:          firstText(s, sel.Unit),
		SKU:           e.sku(s),
		Availability:  firstText(s, sel.Availability),
		Description:   firstText(s, sel.Description),
		CategoryLabel: firstText(s, sel.CategoryLabel),
	}

	if c.CategoryLabel == "" {
		c.CategoryLabel = label
	}

	return c
}

// firstText returns the text of the first selector that matches inside s.
func firstText(s *goquery.Selection, selectors []string) string {
	for _, q := range selectors {
		if m := s.Find(q).First(); m.Length() > 0 {
			if text := strings.TrimSpace(m.Text()); text != "" {
				return m.Text()
			}
		}
	}
	return ""
}

// firstAttr returns the first non-empty attribute among attrs on the first
// matching element. The container itself counts when it matches.
func firstAttr(s *goquery.Selection, selectors []string, attrs ...string) string {
	for _, q := range selectors {
		m := s.Find(q).First()
		if m.Length() == 0 && s.Is(q) {
			m = s
		}
		if m.Length() == 0 {
			continue
		}
		for _, a := range attrs {
			if v, ok := m.Attr(a); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	return ""
}

func genericSelectors() Selectors {
	return Selectors{
		Name:          []string{"h3", "h2", "[class*='title']", "[class*='name']"},
		Link:          []string{"a[href]"},
		Price:         []string{"[class*='price']", "[class*='prix']"},
		Brand:         []string{"[class*='brand']", "[class*='marque']"},
		Image:         []string{"img"},
		Unit:          []string{"[class*='unit']"},
		Availability:  []string{"[class*='stock']", "[class*='availability']", "[class*='dispo']"},
		Description:   []string{"[class*='description']"},
		CategoryLabel: []string{"[data-category]"},
	}
}
