package category

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/maltedev/material-scraper/internal/models"
)

var (
	ErrUnmappedCategory = errors.New("unmapped category")
	ErrLabelConflict    = errors.New("label already mapped to another category")
)

// defaultLabels holds the supplier-independent synonyms, keyed by folded label.
var defaultLabels = map[string]models.Category{
	"tiles":                     models.CategoryTiles,
	"tile":                      models.CategoryTiles,
	"carrelage":                 models.CategoryTiles,
	"carrelages":                models.CategoryTiles,
	"carrelage sol":             models.CategoryTiles,
	"carrelage mural":           models.CategoryTiles,
	"faience":                   models.CategoryTiles,
	"sinks":                     models.CategorySinks,
	"sink":                      models.CategorySinks,
	"lavabo":                    models.CategorySinks,
	"lavabos":                   models.CategorySinks,
	"vasque":                    models.CategorySinks,
	"vasques":                   models.CategorySinks,
	"evier":                     models.CategorySinks,
	"eviers":                    models.CategorySinks,
	"lavabo et vasque":          models.CategorySinks,
	"toilets":                   models.CategoryToilets,
	"toilet":                    models.CategoryToilets,
	"wc":                        models.CategoryToilets,
	"toilettes":                 models.CategoryToilets,
	"wc et toilettes":           models.CategoryToilets,
	"wc toilettes":              models.CategoryToilets,
	"cuvette wc":                models.CategoryToilets,
	"pack wc":                   models.CategoryToilets,
	"paint":                     models.CategoryPaint,
	"peinture":                  models.CategoryPaint,
	"peintures":                 models.CategoryPaint,
	"peinture interieure":       models.CategoryPaint,
	"peinture mur":              models.CategoryPaint,
	"vanities":                  models.CategoryVanities,
	"vanity":                    models.CategoryVanities,
	"meuble de salle de bain":   models.CategoryVanities,
	"meubles de salle de bain":  models.CategoryVanities,
	"meuble de salle de bains":  models.CategoryVanities,
	"meubles de salle de bains": models.CategoryVanities,
	"meuble vasque":             models.CategoryVanities,
	"meuble sous vasque":        models.CategoryVanities,
	"showers":                   models.CategoryShowers,
	"shower":                    models.CategoryShowers,
	"douche":                    models.CategoryShowers,
	"douches":                   models.CategoryShowers,
	"paroi de douche":           models.CategoryShowers,
	"receveur de douche":        models.CategoryShowers,
	"colonne de douche":         models.CategoryShowers,
}

// Mapper maps supplier category labels and search terms onto the canonical
// categories. It never guesses: labels missing from its tables are rejected.
type Mapper struct {
	mu         sync.RWMutex
	global     map[string]models.Category
	bySupplier map[string]map[string]models.Category
}

func NewMapper() *Mapper {
	global := make(map[string]models.Category, len(defaultLabels))
	for k, v := range defaultLabels {
		global[k] = v
	}

	return &Mapper{
		global:     global,
		bySupplier: make(map[string]map[string]models.Category),
	}
}

// Register adds a supplier specific label. Supplier labels take precedence
// over the shared table. Registering the same label twice is fine as long as
// both point at the same category.
func (m *Mapper) Register(supplier, label string, c models.Category) error {
	if !c.Valid() {
		return fmt.Errorf("cannot map %q to non canonical category %q", label, c)
	}

	key := Fold(label)
	if key == "" {
		return fmt.Errorf("empty label for supplier %q", supplier)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	labels, ok := m.bySupplier[supplier]
	if !ok {
		labels = make(map[string]models.Category)
		m.bySupplier[supplier] = labels
	}
	if prev, ok := labels[key]; ok && prev != c {
		return fmt.Errorf("%w: %s label %q maps to %s and %s", ErrLabelConflict, supplier, label, prev, c)
	}
	labels[key] = c

	return nil
}

// Map resolves label for supplier.
func (m *Mapper) Map(supplier, label string) (models.Category, error) {
	key := Fold(label)
	if key == "" {
		return "", fmt.Errorf("%w: empty label", ErrUnmappedCategory)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.bySupplier[supplier][key]; ok {
		return c, nil
	}

	if c, ok := m.global[key]; ok {
		return c, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnmappedCategory, label)
}

// Fold lower-cases label, strips diacritics and punctuation separators and
// collapses whitespace, so "Salle de bain > Éviers" and "eviers" compare on
// the same footing as their last breadcrumb segment.
func Fold(label string) string {
	if i := strings.LastIndexAny(label, ">/|›"); i >= 0 {
		_, size := utf8.DecodeRuneInString(label[i:])
		label = label[i+size:]
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, label)
	if err != nil {
		folded = label
	}

	folded = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || r == '&' || r == ',' {
			return ' '
		}
		return unicode.ToLower(r)
	}, folded)

	return strings.Join(strings.Fields(folded), " ")
}
