package normalize

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/maltedev/material-scraper/internal/models"
)

var (
	ErrPriceUnparsed = errors.New("price_unparsed")
	ErrInvalidURL    = errors.New("invalid url")
)

const defaultCurrency = "EUR"

var (
	// space-like separators only count as thousands grouping
	amountPattern       = regexp.MustCompile(`\d{1,3}(?:[ '\x{00A0}\x{202F}]\d{3})+(?:[.,]\d+)?|\d+(?:[.,]\d+)*`)
	decimalPattern      = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	currencyCodePattern = regexp.MustCompile(`(?i)\b(EUR|GBP|CHF|USD)\b`)
	groupSpaces         = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "'", "")
)

// CleanText decodes HTML entities, composes accented characters and
// collapses every run of whitespace into a single space.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(s)
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// ParsePrice reads the single amount in a localized price string. Text with
// no amount, or with several ("49,90 62,38 €", "Lot de 3 12,99 €"), returns 0
// together with ErrPriceUnparsed; callers keep the record and only report the
// event. Numbers glued to a unit ("€/m2") are not amounts.
func ParsePrice(text, fallbackCurrency string) (float64, string, error) {
	currency := DetectCurrency(text, fallbackCurrency)

	amounts := findAmounts(text)
	if len(amounts) != 1 {
		return 0, currency, fmt.Errorf("%w: %q", ErrPriceUnparsed, text)
	}
	match := amounts[0]

	digits := normalizeSeparators(groupSpaces.Replace(match))
	if !decimalPattern.MatchString(digits) {
		return 0, currency, fmt.Errorf("%w: %q", ErrPriceUnparsed, text)
	}

	amount, err := decimal.NewFromString(digits)
	if err != nil {
		return 0, currency, fmt.Errorf("%w: %q: %v", ErrPriceUnparsed, text, err)
	}

	return amount.InexactFloat64(), currency, nil
}

func findAmounts(text string) []string {
	var amounts []string
	for _, loc := range amountPattern.FindAllStringIndex(text, -1) {
		if prev, _ := utf8.DecodeLastRuneInString(text[:loc[0]]); unicode.IsLetter(prev) {
			continue
		}
		amounts = append(amounts, text[loc[0]:loc[1]])
	}
	return amounts
}

// normalizeSeparators turns "1.299,00", "1,299.00", "12,99" and "12.99"
// into a plain dotted decimal. The last separator is the decimal mark when
// both kinds are present; a repeated single kind is a thousands separator.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}

	return s
}

// DetectCurrency returns the ISO code of the first currency marker found in
// text, or fallback (EUR when empty).
func DetectCurrency(text, fallback string) string {
	switch {
	case strings.Contains(text, "€"):
		return "EUR"
	case strings.Contains(text, "£"):
		return "GBP"
	case strings.Contains(text, "$"):
		return "USD"
	}

	if m := currencyCodePattern.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}

	if fallback == "" {
		return defaultCurrency
	}
	return fallback
}

// ResolveURL resolves ref against base and requires the result to be an
// absolute http(s) URL.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrInvalidURL)
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, ref, err)
	}

	if !refURL.IsAbs() || refURL.Host == "" {
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil || !baseURL.IsAbs() {
			return "", fmt.Errorf("%w: base %q is not absolute", ErrInvalidURL, base)
		}
		refURL = baseURL.ResolveReference(refURL)
	}

	resolved := refURL.String()
	if !models.IsAbsoluteURL(resolved) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, resolved)
	}

	return resolved, nil
}
