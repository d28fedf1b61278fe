package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"accents", "Petróleo", "petroleo"},
		{"cedilla and tilde", "Ação Compensação", "acao compensacao"},
		{"punctuation", "Royalties - (Lei 9.478/97)", "royalties  lei 947897"},
		{"codes kept", "1.530.000-0", "15300000"},
		{"upper case", "ROYALTY", "royalty"},
		{"non latin dropped", "royalty 石油", "royalty "},
		{"ligature decomposed", "ﬁscal", "fiscal"},
		{"whitespace kept", "fonte de\trecurso", "fonte de\trecurso"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"", "Petróleo", "ROYALTIES/ANP", "Fonte: 1.540.000 - Royalties do Petróleo",
		"Çà é ü ñ", "  spaced\nlines ", "ﬁ ﬂ ½ ²", "日本語 text", "áè",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestFieldKey(t *testing.T) {
	assert.Equal(t, "fonte_de_recurso", FieldKey("Fonte de Recurso:"))
	assert.Equal(t, "numero_do_documento", FieldKey("  Número do   Documento "))
	assert.Equal(t, "", FieldKey(" : "))
}

func TestClassifier(t *testing.T) {
	c := New([]string{"Royalty", "Petróleo", "15300000", "", "   "})
	assert.Equal(t, []string{"royalty", "petroleo", "15300000"}, c.Terms())

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"plain term", "royalty", true},
		{"accent variation", "RECURSOS DO PETRÓLEO", true},
		{"case variation", "Royalties Estaduais", true},
		{"code with punctuation", "1.530.000-0 Compensação", true},
		{"no match", "Tesouro Municipal", false},
		{"empty", "", false},
		{"punctuation only", "---", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsRoyaltyRelated(tt.text))
		})
	}
}

func TestClassifierMatchFirstTerm(t *testing.T) {
	c := New([]string{"petroleo", "royalt"})
	term, ok := c.Match("Royalties do Petróleo")
	assert.True(t, ok)
	assert.Equal(t, "petroleo", term)
}

func TestClassifierEmptyTermsMatchNothing(t *testing.T) {
	c := New([]string{"", "!!"})
	assert.Empty(t, c.Terms())
	assert.False(t, c.IsRoyaltyRelated("anything at all"))
}
