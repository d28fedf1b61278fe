// Package classify decides whether a payment record concerns petroleum royalties.
//
// Matching works on normalized text: diacritics are decomposed and dropped,
// every character outside ASCII letters, digits and whitespace is removed,
// and the result is lower-cased. Configured terms go through the same
// normalization, so "Petróleo", "PETROLEO" and "petroleo" are equivalent.
package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize strips diacritics and punctuation and lower-cases text.
// Whitespace is kept so multi-word labels survive.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(dropRune)))
	out, _, err := transform.String(t, text)
	if err != nil {
		return ""
	}
	return strings.ToLower(out)
}

func dropRune(r rune) bool {
	if r > unicode.MaxASCII {
		return true
	}
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || unicode.IsSpace(r))
}

// FieldKey turns a detail label such as "Fonte de Recurso:" into "fonte_de_recurso"
func FieldKey(label string) string {
	return strings.Join(strings.Fields(Normalize(label)), "_")
}

// Classifier matches funding-source text against a term list
type Classifier struct {
	terms []string
}

// New builds a classifier; terms are normalized and empty ones discarded
func New(terms []string) *Classifier {
	c := &Classifier{terms: make([]string, 0, len(terms))}
	for _, term := range terms {
		if n := strings.TrimSpace(Normalize(term)); n != "" {
			c.terms = append(c.terms, n)
		}
	}
	return c
}

// Terms normalized terms in configured order
func (c *Classifier) Terms() []string {
	return append([]string(nil), c.terms...)
}

// IsRoyaltyRelated reports whether the normalized text contains any term
func (c *Classifier) IsRoyaltyRelated(fundingSource string) bool {
	_, ok := c.Match(fundingSource)
	return ok
}

// Match returns the first term found in the text
func (c *Classifier) Match(fundingSource string) (string, bool) {
	text := Normalize(fundingSource)
	if text == "" {
		return "", false
	}
	for _, term := range c.terms {
		if strings.Contains(text, term) {
			return term, true
		}
	}
	return "", false
}
