package normalize

import (
	"regexp"
	"strings"
)

var (
	quantityPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(m²|m2|ml|cl|litres?|l|kg|g|unités?|unites?|pièces?|pieces?|pcs)(?:[^\p{L}\p{N}]|$)`)
	perUnitPattern  = regexp.MustCompile(`(?i)(?:/\s*|\bau\s+|\ble\s+|\bpar\s+)(m²|m2|litres?|l|kg|unités?|unites?|pièces?|pieces?)(?:[^\p{L}\p{N}]|$)`)
)

var canonicalUnits = map[string]string{
	"m²":     "m²",
	"m2":     "m²",
	"l":      "L",
	"litre":  "L",
	"litres": "L",
	"ml":     "mL",
	"cl":     "cL",
	"kg":     "kg",
	"g":      "g",
	"unité":  "unité",
	"unités": "unité",
	"unite":  "unité",
	"unites": "unité",
	"pièce":  "unité",
	"pièces": "unité",
	"piece":  "unité",
	"pieces": "unité",
	"pcs":    "unité",
}

// CanonicalUnit maps a unit token to its display form. Unknown tokens are
// returned cleaned but otherwise unchanged.
func CanonicalUnit(token string) string {
	token = CleanText(token)
	if u, ok := canonicalUnits[strings.ToLower(token)]; ok {
		return u
	}
	return token
}

// InferUnit finds the first "<quantity> <unit>" pair in text, e.g.
// "Peinture blanche 2,5 L" -> ("L", "2.5 L").
func InferUnit(text string) (unit, packSize string, ok bool) {
	m := quantityPattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}

	unit = CanonicalUnit(m[2])
	qty := strings.Replace(m[1], ",", ".", 1)
	return unit, qty + " " + unit, true
}

// InferPriceUnit reads per-unit pricing such as "24,90 €/m²" or "prix au kg".
func InferPriceUnit(text string) (string, bool) {
	m := perUnitPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return CanonicalUnit(m[1]), true
}
