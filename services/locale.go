package services

import (
	"strconv"
	"strings"
	"unicode"
)

// Locale tells how a site writes numbers.
type Locale int

const (
	// LocaleEU writes "1.250,50": dot thousands, comma decimals. This is the
	// common form records are stored in.
	LocaleEU Locale = iota
	// LocaleEN writes "1,250.50".
	LocaleEN
)

var currencySymbols = "€$£"

// ParseLocaleNumber parses a price or area written in the common locale.
// Currency symbols and whitespace are ignored, "." is a thousands separator
// and "," the decimal point. Anything else makes the value unparseable.
func ParseLocaleNumber(s string) (float64, bool) {
	return ParseNumber(s, LocaleEU)
}

// ParseNumber parses s in the given locale.
func ParseNumber(s string, loc Locale) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) || strings.ContainsRune(currencySymbols, r) {
			continue
		}
		b.WriteRune(r)
	}
	clean := b.String()
	// "650,-" is a common way to write a round amount.
	clean = strings.TrimSuffix(strings.TrimSuffix(clean, ",-"), ".-")
	if clean == "" {
		return 0, false
	}
	for _, r := range clean {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return 0, false
		}
	}

	thousands, decimal := ".", ","
	if loc == LocaleEN {
		thousands, decimal = ",", "."
	}
	clean = strings.ReplaceAll(clean, thousands, "")
	clean = strings.Replace(clean, decimal, ".", 1)
	clean = strings.TrimSuffix(clean, ".")

	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatLocale writes v in the common locale with two decimals.
func FormatLocale(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac := s[:len(s)-3], s[len(s)-2:]
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}

// ConvertLocale rewrites a site-locale number into the common locale.
// Unparseable input yields "".
func ConvertLocale(s string, loc Locale) string {
	v, ok := ParseNumber(s, loc)
	if !ok {
		return ""
	}
	return FormatLocale(v)
}
